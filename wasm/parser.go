package wasm

import (
	"context"
	"errors"

	"go.uber.org/zap"

	werr "github.com/wippyai/wasm-stream/errors"
	"github.com/wippyai/wasm-stream/wasm/internal/binary"
)

// parserState enumerates the restartable positions of the state machine.
// Every transition out of a state either consumes input and moves on, or
// fails with ErrUnexpectedEOF and leaves the cursor where it started.
type parserState int

const (
	stateMagic parserState = iota
	stateVersion
	stateSectionID
	stateSectionSize
	stateSectionPayload
	stateCodeCount
	stateFuncBodySize
	stateFuncBody
)

// Parser consumes a WebAssembly binary incrementally and produces a parsed,
// validated Module. Feed it chunks of any size with Push and call Finish
// once the input is complete.
//
// Function bodies are validated concurrently by a worker pool while parsing
// continues; every other check runs inline. A Parser is not safe for
// concurrent use.
type Parser struct {
	cur   *binary.Cursor
	mod   *Module
	state parserState

	ctx     context.Context
	workers int

	sectionID   byte
	sectionSize uint32
	sectionEnd  int
	lastOrder   int

	numBodies uint32
	bodyIdx   uint32
	bodySize  uint32
	codeSeen  bool

	pool *validationPool
	err  error
}

// Option configures a Parser.
type Option func(*Parser)

// WithContext attaches a cancellation context to the parser; cancelling it
// aborts in-flight body validation.
func WithContext(ctx context.Context) Option {
	return func(p *Parser) { p.ctx = ctx }
}

// WithWorkers sets the number of body-validation workers. Zero or negative
// means one worker per available CPU.
func WithWorkers(n int) Option {
	return func(p *Parser) { p.workers = n }
}

// NewParser creates a parser for one module.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		cur: binary.NewCursor(nil),
		mod: &Module{},
		ctx: context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Push appends a chunk of input and advances the parser as far as the
// buffered bytes allow. Malformed input fails immediately and permanently;
// running out of buffered bytes mid-item is not an error.
func (p *Parser) Push(data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.cur.Push(data)
	return p.drive()
}

// drive repeatedly attempts one state transition, rewinding to the
// transition's start whenever the buffer runs dry.
func (p *Parser) drive() error {
	for {
		mark := p.cur.Pos()
		if err := p.advance(); err != nil {
			if errors.Is(err, werr.ErrUnexpectedEOF) {
				p.cur.Seek(mark)
				return nil
			}
			p.fail(err)
			return err
		}
		if p.state == stateSectionID && p.cur.AtEOF() {
			return nil
		}
	}
}

func (p *Parser) fail(err error) {
	p.err = err
	if p.pool != nil {
		p.pool.abort()
	}
}

func (p *Parser) advance() error {
	switch p.state {
	case stateMagic:
		magic, err := p.cur.ReadUint32LE()
		if err != nil {
			return err
		}
		if magic != Magic {
			return werr.Parse(werr.KindInvalidMagic, 0, "0x%08x", magic)
		}
		p.state = stateVersion

	case stateVersion:
		version, err := p.cur.ReadUint32LE()
		if err != nil {
			return err
		}
		if version != Version {
			return werr.Parse(werr.KindInvalidVersion, 4, "0x%08x", version)
		}
		p.state = stateSectionID

	case stateSectionID:
		off := p.cur.Pos()
		id, err := p.cur.ReadByte()
		if err != nil {
			return err
		}
		if id > SectionDataCount {
			return werr.Parse(werr.KindInvalidSectionID, int64(off), "0x%02x", id)
		}
		if id != SectionCustom {
			order := sectionOrder(id)
			if order <= p.lastOrder {
				return werr.Parse(werr.KindSectionOrder, int64(off), "section %d out of order", id)
			}
			p.lastOrder = order
		}
		p.sectionID = id
		p.state = stateSectionSize

	case stateSectionSize:
		size, err := p.cur.ReadUint32()
		if err != nil {
			return err
		}
		p.sectionSize = size
		p.state = stateSectionPayload

	case stateSectionPayload:
		if p.sectionID == SectionCode {
			// The code section progresses body by body instead of waiting
			// for the full payload.
			p.sectionEnd = p.cur.Pos() + int(p.sectionSize)
			p.codeSeen = true
			p.state = stateCodeCount
			return nil
		}
		if p.cur.Remaining() < int(p.sectionSize) {
			return werr.ErrUnexpectedEOF
		}
		p.sectionEnd = p.cur.Pos() + int(p.sectionSize)
		Logger().Debug("section buffered",
			zap.Uint8("id", p.sectionID),
			zap.Uint32("size", p.sectionSize))
		if err := p.parseSection(); err != nil {
			return err
		}
		if p.cur.Pos() != p.sectionEnd {
			consumed := int(p.sectionSize) - (p.sectionEnd - p.cur.Pos())
			return werr.Parse(werr.KindSectionSize, int64(p.cur.Pos()), "section %d declared %d bytes, consumed %d", p.sectionID, p.sectionSize, consumed)
		}
		p.state = stateSectionID

	case stateCodeCount:
		count, err := p.cur.ReadUint32()
		if err != nil {
			return err
		}
		if p.cur.Pos() > p.sectionEnd {
			return werr.Parse(werr.KindSectionSize, int64(p.cur.Pos()), "code section declared %d bytes", p.sectionSize)
		}
		if count != uint32(len(p.mod.Funcs)) {
			return werr.Validate(werr.KindCodeCountMismatch, "code section has %d entries, function section has %d", count, len(p.mod.Funcs))
		}
		// The sections a body can reference are all final from here on, so
		// the concurrent workers read the module without locking.
		p.mod.sealImports()
		p.numBodies = count
		p.bodyIdx = 0
		p.mod.Code = make([]FuncBody, 0, count)
		if count > 0 {
			p.pool = newValidationPool(p.ctx, p.mod, p.workers, count)
		}
		p.state = stateFuncBodySize

	case stateFuncBodySize:
		if p.bodyIdx == p.numBodies {
			if p.cur.Pos() != p.sectionEnd {
				return werr.Parse(werr.KindSectionSize, int64(p.cur.Pos()), "code section declared %d bytes", p.sectionSize)
			}
			p.state = stateSectionID
			return nil
		}
		size, err := p.cur.ReadUint32()
		if err != nil {
			return err
		}
		if p.cur.Pos()+int(size) > p.sectionEnd {
			return werr.Parse(werr.KindSectionSize, int64(p.cur.Pos()), "body %d overruns code section", p.bodyIdx)
		}
		p.bodySize = size
		p.state = stateFuncBody

	case stateFuncBody:
		if p.cur.Remaining() < int(p.bodySize) {
			return werr.ErrUnexpectedEOF
		}
		if err := p.parseFuncBody(); err != nil {
			return err
		}
		p.bodyIdx++
		p.state = stateFuncBodySize
	}
	return nil
}

// sectionOrder returns the canonical ordering for a section ID. The WASM
// spec requires sections in a specific order, which differs from raw IDs:
// DataCount sits between Element and Code.
func sectionOrder(id byte) int {
	switch id {
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return int(id)
	}
}

// parseFuncBody decodes the locals vector of the current body, slices the
// remaining body bytes exactly, and hands the body to the validation pool.
func (p *Parser) parseFuncBody() error {
	start := p.cur.Pos()
	bodyEnd := start + int(p.bodySize)

	groupCount, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	var locals []LocalEntry
	var total uint64
	for i := uint32(0); i < groupCount; i++ {
		count, err := p.cur.ReadUint32()
		if err != nil {
			return err
		}
		vt, err := readValueType(p.cur)
		if err != nil {
			return err
		}
		total += uint64(count)
		if total > 0xFFFFFFFF {
			return werr.Parse(werr.KindLocalsCountOverflow, int64(p.cur.Pos()), "%d locals", total)
		}
		locals = append(locals, LocalEntry{Count: count, ValType: vt})
	}

	if p.cur.Pos() > bodyEnd {
		return werr.Parse(werr.KindSectionSize, int64(start), "locals exceed declared body size %d", p.bodySize)
	}
	code, err := p.cur.ReadBytes(bodyEnd - p.cur.Pos())
	if err != nil {
		return err
	}

	typeIdx := p.mod.Funcs[p.bodyIdx]
	p.mod.Code = append(p.mod.Code, FuncBody{Locals: locals, Code: code, Size: p.bodySize})
	body := &p.mod.Code[len(p.mod.Code)-1]
	p.pool.submit(bodyJob{
		body:  body,
		ft:    p.mod.Types[typeIdx],
		index: p.mod.NumImportedFuncs() + p.bodyIdx,
	})
	return nil
}

// readConstExpr validates a constant expression in place, bounded by the
// current section, and returns the exact bytes it occupies.
func (p *Parser) readConstExpr(expected ValueType) ([]byte, error) {
	// An understated section size can leave a prior decode past the
	// section end; the bytes there belong to the next section.
	limit := p.sectionEnd - p.cur.Pos()
	if limit < 0 {
		return nil, werr.Parse(werr.KindSectionSize, int64(p.cur.Pos()), "section %d declared %d bytes", p.sectionID, p.sectionSize)
	}
	rest := p.cur.Rest()[:limit]
	n, err := validateConstExpr(p.mod, expected, rest)
	if err != nil {
		if errors.Is(err, werr.ErrUnexpectedEOF) {
			return nil, werr.Parse(werr.KindSectionSize, int64(p.cur.Pos()), "constant expression runs past section end")
		}
		return nil, err
	}
	expr := rest[:n:n]
	_ = p.cur.Skip(n)
	return expr, nil
}

// Finish declares the input complete. It waits for outstanding body
// validations, performs the final cross-section checks, and returns the
// module. Any truncation that Push tolerated becomes fatal here.
func (p *Parser) Finish() (*Module, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.state != stateSectionID || !p.cur.AtEOF() {
		p.fail(werr.Read(werr.KindUnexpectedEOF, int64(p.cur.Len())))
		return nil, p.err
	}

	if len(p.mod.Funcs) > 0 && !p.codeSeen {
		p.fail(werr.Validate(werr.KindCodeCountMismatch, "function section has %d entries, code section is absent", len(p.mod.Funcs)))
		return nil, p.err
	}
	if p.mod.DataCount != nil && *p.mod.DataCount != uint32(len(p.mod.Data)) {
		p.fail(werr.Validate(werr.KindDataCountMismatch, "data count section declares %d segments, data section has %d", *p.mod.DataCount, len(p.mod.Data)))
		return nil, p.err
	}

	p.mod.sealImports()
	if p.pool != nil {
		if err := p.pool.wait(); err != nil {
			p.err = err
			return nil, err
		}
	}
	return p.mod, nil
}

// ParseModule parses and validates a complete in-memory module.
func ParseModule(data []byte) (*Module, error) {
	return ParseModuleWith(data)
}

// ParseModuleWith parses a complete in-memory module with parser options.
func ParseModuleWith(data []byte, opts ...Option) (*Module, error) {
	p := NewParser(opts...)
	if err := p.Push(data); err != nil {
		return nil, err
	}
	return p.Finish()
}
