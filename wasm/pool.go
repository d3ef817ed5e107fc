package wasm

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// bodyJob is one function body awaiting validation. ft is the resolved
// signature; index is the position in the function index space, used only
// for error reporting.
type bodyJob struct {
	body  *FuncBody
	ft    FuncType
	index uint32
}

// validationPool validates function bodies concurrently while the parser
// keeps consuming input. Bodies are submitted in declaration order and may
// complete out of order; the first failure wins and cancels the rest. The
// workers only read the module, which is final up to the code section by
// the time any job is submitted.
type validationPool struct {
	mod    *Module
	jobs   chan bodyJob
	wg     sync.WaitGroup
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	err  error
}

// newValidationPool starts workers goroutines (defaulting to GOMAXPROCS)
// draining a queue with room for every body in the section, so submission
// never blocks the parser.
func newValidationPool(ctx context.Context, mod *Module, workers int, capacity uint32) *validationPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	p := &validationPool{
		mod:    mod,
		jobs:   make(chan bodyJob, capacity),
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	Logger().Debug("validation pool started",
		zap.Int("workers", workers),
		zap.Uint32("bodies", capacity))
	return p
}

func (p *validationPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := validateFunctionBody(p.ctx, p.mod, job.ft, job.body); err != nil {
				p.fail(err, job.index)
			}
		}
	}
}

// fail records the first error and cancels outstanding work. Later errors
// are discarded, including the context errors the cancellation provokes.
func (p *validationPool) fail(err error, index uint32) {
	if p.ctx.Err() != nil && err == p.ctx.Err() {
		return
	}
	p.once.Do(func() {
		p.err = err
		Logger().Debug("body validation failed",
			zap.Uint32("function", index),
			zap.Error(err))
		p.cancel()
	})
}

// submit enqueues one body. The queue is sized for the whole section, so
// this only blocks if the parser submits more bodies than the section
// declared, which the state machine prevents.
func (p *validationPool) submit(job bodyJob) {
	select {
	case p.jobs <- job:
	case <-p.ctx.Done():
	}
}

// wait closes the queue, drains the workers, and returns the first error.
func (p *validationPool) wait() error {
	close(p.jobs)
	p.wg.Wait()
	p.cancel()
	if p.err != nil {
		return p.err
	}
	// Caller-driven cancellation with no validation failure still
	// surfaces, otherwise a cancelled parse would return a half-checked
	// module.
	return p.parent.Err()
}

// abort cancels everything without reporting; used when the parser hits a
// fatal error of its own.
func (p *validationPool) abort() {
	p.cancel()
}
