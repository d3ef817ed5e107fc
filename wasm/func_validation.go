package wasm

import (
	"context"

	werr "github.com/wippyai/wasm-stream/errors"
	"github.com/wippyai/wasm-stream/wasm/internal/binary"
)

// The code validator is an abstract interpreter over a function body or
// constant expression. It tracks a stack of value types and a stack of
// control frames, following the validation algorithm of the WebAssembly
// core specification, including stack-polymorphic typing after
// instructions that never fall through.

type frameKind byte

const (
	frameBlock frameKind = iota
	frameLoop
	frameIf
	frameElse
	frameFunc
)

// stackEntry is either a known value type or the polymorphic "unknown"
// produced by popping below the floor of an unreachable frame. Unknown
// satisfies every type constraint.
type stackEntry struct {
	vt    ValueType
	known bool
}

var unknownEntry = stackEntry{}

func known(vt ValueType) stackEntry {
	return stackEntry{vt: vt, known: true}
}

// ctrlFrame is one entry of the control stack. height is the value-stack
// floor: operands below it belong to enclosing frames and are out of
// reach. unreachable flips once control provably cannot fall through.
type ctrlFrame struct {
	typ         FuncType
	kind        frameKind
	height      int
	unreachable bool
}

// labelTypes returns the types a branch to this frame must provide: the
// parameters for a loop (a branch re-enters it), the results for anything
// else (a branch exits it).
func (f *ctrlFrame) labelTypes() []ValueType {
	if f.kind == frameLoop {
		return f.typ.Params
	}
	return f.typ.Results
}

type codeValidator struct {
	ctx       context.Context
	mod       *Module
	cur       *binary.Cursor
	locals    []ValueType
	stack     []stackEntry
	frames    []ctrlFrame
	constOnly bool
}

// validateFunctionBody type-checks one function body against its signature
// and the module context. The cursor must hold exactly the body bytes
// (locals vector excluded, final end included). ctx cancellation is
// observed between instructions.
func validateFunctionBody(ctx context.Context, mod *Module, ft FuncType, body *FuncBody) error {
	locals := make([]ValueType, 0, len(ft.Params))
	locals = append(locals, ft.Params...)
	for _, group := range body.Locals {
		for i := uint32(0); i < group.Count; i++ {
			locals = append(locals, group.ValType)
		}
	}

	v := &codeValidator{
		ctx:    ctx,
		mod:    mod,
		cur:    binary.NewCursor(body.Code),
		locals: locals,
		frames: []ctrlFrame{{typ: ft, kind: frameFunc}},
	}
	if err := v.run(); err != nil {
		return err
	}
	if !v.cur.AtEOF() {
		return werr.Validate(werr.KindNoFramesLeft, "%d trailing bytes after final end", v.cur.Remaining())
	}
	return nil
}

// validateConstExpr type-checks a constant expression producing the
// expected type, reading from expr. It returns the number of bytes
// consumed, including the terminating end, so the caller can slice the
// source exactly.
func validateConstExpr(mod *Module, expected ValueType, expr []byte) (int, error) {
	v := &codeValidator{
		mod:       mod,
		cur:       binary.NewCursor(expr),
		constOnly: true,
		frames:    []ctrlFrame{{typ: FuncType{Results: []ValueType{expected}}, kind: frameFunc}},
	}
	if err := v.run(); err != nil {
		return 0, err
	}
	return v.cur.Pos(), nil
}

func (v *codeValidator) run() error {
	for i := 0; len(v.frames) > 0; i++ {
		// Cancellation is observed between instructions, cheaply.
		if i&0x3ff == 0 && v.ctx != nil {
			if err := v.ctx.Err(); err != nil {
				return err
			}
		}
		if err := v.step(); err != nil {
			return err
		}
	}
	return nil
}

func (v *codeValidator) top() *ctrlFrame {
	return &v.frames[len(v.frames)-1]
}

// pop removes the top stack entry. At the floor of an unreachable frame it
// yields Unknown without consuming; at the floor of a live frame it fails.
func (v *codeValidator) pop() (stackEntry, error) {
	f := v.top()
	if len(v.stack) == f.height {
		if f.unreachable {
			return unknownEntry, nil
		}
		return stackEntry{}, werr.Validate(werr.KindStackEmpty, "pop on empty stack")
	}
	e := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return e, nil
}

func (v *codeValidator) popExpect(want ValueType) error {
	e, err := v.pop()
	if err != nil {
		return err
	}
	if e.known && e.vt != want {
		return werr.Validate(werr.KindUnexpectedType, "expected %s, got %s", want, e.vt)
	}
	return nil
}

func (v *codeValidator) popTypes(types []ValueType) error {
	for i := len(types) - 1; i >= 0; i-- {
		if err := v.popExpect(types[i]); err != nil {
			return err
		}
	}
	return nil
}

func (v *codeValidator) push(vt ValueType) {
	v.stack = append(v.stack, known(vt))
}

func (v *codeValidator) pushTypes(types []ValueType) {
	for _, vt := range types {
		v.push(vt)
	}
}

// markUnreachable truncates the stack to the current floor and switches the
// frame to stack-polymorphic mode.
func (v *codeValidator) markUnreachable() {
	f := v.top()
	v.stack = v.stack[:f.height]
	f.unreachable = true
}

// enter pops the block parameters, opens a frame whose floor is the
// resulting height, and pushes the parameters back for use inside.
func (v *codeValidator) enter(kind frameKind, ft FuncType) error {
	if err := v.popTypes(ft.Params); err != nil {
		return err
	}
	v.frames = append(v.frames, ctrlFrame{typ: ft, kind: kind, height: len(v.stack)})
	v.pushTypes(ft.Params)
	return nil
}

// exit pops the frame's results, requires the stack to sit exactly at the
// floor, and removes the frame.
func (v *codeValidator) exit() (ctrlFrame, error) {
	f := *v.top()
	if err := v.popTypes(f.typ.Results); err != nil {
		return ctrlFrame{}, err
	}
	if len(v.stack) != f.height {
		return ctrlFrame{}, werr.Validate(werr.KindStackHeight, "expected %d, got %d", f.height, len(v.stack))
	}
	v.frames = v.frames[:len(v.frames)-1]
	return f, nil
}

func (v *codeValidator) labelFrame(depth uint32) (*ctrlFrame, error) {
	if uint64(depth) >= uint64(len(v.frames)) {
		return nil, werr.Validate(werr.KindInvalidLabelIndex, "label %d with %d frames", depth, len(v.frames))
	}
	return &v.frames[len(v.frames)-1-int(depth)], nil
}

// Numeric shapes.

func (v *codeValidator) unop(t ValueType) error {
	if err := v.popExpect(t); err != nil {
		return err
	}
	v.push(t)
	return nil
}

func (v *codeValidator) binop(t ValueType) error {
	if err := v.popExpect(t); err != nil {
		return err
	}
	if err := v.popExpect(t); err != nil {
		return err
	}
	v.push(t)
	return nil
}

func (v *codeValidator) relop(t ValueType) error {
	if err := v.popExpect(t); err != nil {
		return err
	}
	if err := v.popExpect(t); err != nil {
		return err
	}
	v.push(ValI32)
	return nil
}

func (v *codeValidator) testop(t ValueType) error {
	if err := v.popExpect(t); err != nil {
		return err
	}
	v.push(ValI32)
	return nil
}

func (v *codeValidator) cvtop(from, to ValueType) error {
	if err := v.popExpect(from); err != nil {
		return err
	}
	v.push(to)
	return nil
}

// memAccess reads a memarg and applies a load or store of the given value
// type. width is the accessed width in bits; narrow loads and stores use
// the instruction width, not the value type width.
func (v *codeValidator) memAccess(valType ValueType, width int, store bool) error {
	arg, err := readMemArg(v.cur)
	if err != nil {
		return err
	}
	if v.mod.MemoryAt(arg.MemIdx) == nil {
		return werr.Validate(werr.KindInvalidMemoryIndex, "memory %d", arg.MemIdx)
	}
	if arg.Align > 31 || uint64(1)<<arg.Align > uint64(width/8) {
		return werr.Validate(werr.KindInvalidAlignment, "alignment 2^%d for %d-bit access", arg.Align, width)
	}
	if store {
		if err := v.popExpect(valType); err != nil {
			return err
		}
		return v.popExpect(ValI32)
	}
	if err := v.popExpect(ValI32); err != nil {
		return err
	}
	v.push(valType)
	return nil
}

// memIndex reads a memory index immediate and checks it.
func (v *codeValidator) memIndex() error {
	idx, err := v.cur.ReadUint32()
	if err != nil {
		return err
	}
	if v.mod.MemoryAt(idx) == nil {
		return werr.Validate(werr.KindInvalidMemoryIndex, "memory %d", idx)
	}
	return nil
}

// tableIndex reads a table index immediate and resolves it.
func (v *codeValidator) tableIndex() (*TableType, error) {
	idx, err := v.cur.ReadUint32()
	if err != nil {
		return nil, err
	}
	table := v.mod.TableAt(idx)
	if table == nil {
		return nil, werr.Validate(werr.KindInvalidTableIndex, "table %d", idx)
	}
	return table, nil
}

// dataIndex reads a data index immediate; its use requires a DataCount
// section and an index below the declared count.
func (v *codeValidator) dataIndex() error {
	idx, err := v.cur.ReadUint32()
	if err != nil {
		return err
	}
	if v.mod.DataCount == nil {
		return werr.Validate(werr.KindMissingDataCount, "data index %d without data count section", idx)
	}
	if idx >= *v.mod.DataCount {
		return werr.Validate(werr.KindInvalidDataIndex, "data %d (count %d)", idx, *v.mod.DataCount)
	}
	return nil
}

func (v *codeValidator) popThree32() error {
	for i := 0; i < 3; i++ {
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
	}
	return nil
}

func (v *codeValidator) step() error {
	opOff := v.cur.Pos()
	op, err := v.cur.ReadByte()
	if err != nil {
		return err
	}

	if v.constOnly && !isConstOpcode(op) && op != OpEnd {
		return werr.Validate(werr.KindInvalidInitExpr, "%s", OpcodeName(op))
	}

	switch op {
	case OpUnreachable:
		v.markUnreachable()

	case OpNop:

	case OpBlock, OpLoop:
		bt, err := readBlockType(v.cur, v.mod.Types)
		if err != nil {
			return err
		}
		kind := frameBlock
		if op == OpLoop {
			kind = frameLoop
		}
		return v.enter(kind, bt.ft)

	case OpIf:
		bt, err := readBlockType(v.cur, v.mod.Types)
		if err != nil {
			return err
		}
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		return v.enter(frameIf, bt.ft)

	case OpElse:
		f := v.top()
		if f.kind != frameIf {
			return werr.Validate(werr.KindHangingElse, "else in %s", frameKindName(f.kind))
		}
		popped, err := v.exit()
		if err != nil {
			return err
		}
		v.frames = append(v.frames, ctrlFrame{typ: popped.typ, kind: frameElse, height: popped.height})
		v.pushTypes(popped.typ.Params)

	case OpEnd:
		f, err := v.exit()
		if err != nil {
			return err
		}
		// An if with no else falls through an implicit identity else, so
		// its parameters must already be its results.
		if f.kind == frameIf && !typesEqual(f.typ.Params, f.typ.Results) {
			return werr.Validate(werr.KindUnexpectedType, "if without else requires matching params and results")
		}
		if len(v.frames) > 0 {
			v.pushTypes(f.typ.Results)
		}

	case OpBr:
		depth, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		f, err := v.labelFrame(depth)
		if err != nil {
			return err
		}
		if err := v.popTypes(f.labelTypes()); err != nil {
			return err
		}
		v.markUnreachable()

	case OpBrIf:
		depth, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		f, err := v.labelFrame(depth)
		if err != nil {
			return err
		}
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		types := f.labelTypes()
		if err := v.popTypes(types); err != nil {
			return err
		}
		v.pushTypes(types)

	case OpBrTable:
		labels, defaultLabel, err := readBrTable(v.cur)
		if err != nil {
			return err
		}
		df, err := v.labelFrame(defaultLabel)
		if err != nil {
			return err
		}
		defaultTypes := df.labelTypes()
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		for _, l := range labels {
			lf, err := v.labelFrame(l)
			if err != nil {
				return err
			}
			types := lf.labelTypes()
			if len(types) != len(defaultTypes) {
				return werr.Validate(werr.KindBrTableArity, "label %d has %d, default has %d", l, len(types), len(defaultTypes))
			}
			// Pop against the stack and push back so every label sees the
			// same operands.
			if err := v.popTypes(types); err != nil {
				return err
			}
			v.pushTypes(types)
		}
		if err := v.popTypes(defaultTypes); err != nil {
			return err
		}
		v.markUnreachable()

	case OpReturn:
		if err := v.popTypes(v.frames[0].typ.Results); err != nil {
			return err
		}
		v.markUnreachable()

	case OpCall:
		idx, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		ft := v.mod.FuncTypeAt(idx)
		if ft == nil {
			return werr.Validate(werr.KindInvalidFunctionIndex, "function %d", idx)
		}
		if err := v.popTypes(ft.Params); err != nil {
			return err
		}
		v.pushTypes(ft.Results)

	case OpCallIndirect:
		typeIdx, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		table, err := v.tableIndex()
		if err != nil {
			return err
		}
		if typeIdx >= uint32(len(v.mod.Types)) {
			return werr.Validate(werr.KindInvalidTypeIndex, "type %d", typeIdx)
		}
		if table.ElemType != ValFuncRef {
			return werr.Validate(werr.KindCanOnlyCallFuncref, "table element type %s", table.ElemType)
		}
		ft := v.mod.Types[typeIdx]
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		if err := v.popTypes(ft.Params); err != nil {
			return err
		}
		v.pushTypes(ft.Results)

	case OpDrop:
		_, err := v.pop()
		return err

	case OpSelect:
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		e1, err := v.pop()
		if err != nil {
			return err
		}
		e2, err := v.pop()
		if err != nil {
			return err
		}
		for _, e := range []stackEntry{e1, e2} {
			if e.known && e.vt.IsReference() {
				return werr.Validate(werr.KindExpectedNonReference, "%s in untyped select", e.vt)
			}
		}
		switch {
		case e1.known && e2.known && e1.vt != e2.vt:
			return werr.Validate(werr.KindUnexpectedType, "select operands %s and %s", e2.vt, e1.vt)
		case e1.known:
			v.stack = append(v.stack, e1)
		default:
			v.stack = append(v.stack, e2)
		}

	case OpSelectType:
		count, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		if count != 1 {
			return werr.Validate(werr.KindInvalidSelectType, "type vector of length %d", count)
		}
		vt, err := readValueType(v.cur)
		if err != nil {
			return err
		}
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		if err := v.popExpect(vt); err != nil {
			return err
		}
		if err := v.popExpect(vt); err != nil {
			return err
		}
		v.push(vt)

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		if idx >= uint32(len(v.locals)) {
			return werr.Validate(werr.KindInvalidLocalIndex, "local %d (have %d)", idx, len(v.locals))
		}
		t := v.locals[idx]
		switch op {
		case OpLocalGet:
			v.push(t)
		case OpLocalSet:
			return v.popExpect(t)
		case OpLocalTee:
			if err := v.popExpect(t); err != nil {
				return err
			}
			v.push(t)
		}

	case OpGlobalGet:
		idx, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		if v.constOnly {
			// Constant expressions may only read imported immutable
			// globals; the defining module's own globals are not yet
			// initialized when the expression runs.
			if idx >= v.mod.NumImportedGlobals() {
				return werr.Validate(werr.KindInvalidGlobalIndex, "global %d in constant expression (have %d imported)", idx, v.mod.NumImportedGlobals())
			}
			gt := v.mod.GlobalAt(idx)
			if gt.Mutable {
				return werr.Validate(werr.KindInvalidInitExpr, "global.get of mutable global %d", idx)
			}
			v.push(gt.ValType)
			return nil
		}
		gt := v.mod.GlobalAt(idx)
		if gt == nil {
			return werr.Validate(werr.KindInvalidGlobalIndex, "global %d", idx)
		}
		v.push(gt.ValType)

	case OpGlobalSet:
		idx, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		gt := v.mod.GlobalAt(idx)
		if gt == nil {
			return werr.Validate(werr.KindInvalidGlobalIndex, "global %d", idx)
		}
		if !gt.Mutable {
			return werr.Validate(werr.KindInvalidGlobalSet, "global %d is immutable", idx)
		}
		return v.popExpect(gt.ValType)

	case OpTableGet:
		table, err := v.tableIndex()
		if err != nil {
			return err
		}
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		v.push(table.ElemType)

	case OpTableSet:
		table, err := v.tableIndex()
		if err != nil {
			return err
		}
		if err := v.popExpect(table.ElemType); err != nil {
			return err
		}
		return v.popExpect(ValI32)

	case OpI32Load:
		return v.memAccess(ValI32, 32, false)
	case OpI64Load:
		return v.memAccess(ValI64, 64, false)
	case OpF32Load:
		return v.memAccess(ValF32, 32, false)
	case OpF64Load:
		return v.memAccess(ValF64, 64, false)
	case OpI32Load8S, OpI32Load8U:
		return v.memAccess(ValI32, 8, false)
	case OpI32Load16S, OpI32Load16U:
		return v.memAccess(ValI32, 16, false)
	case OpI64Load8S, OpI64Load8U:
		return v.memAccess(ValI64, 8, false)
	case OpI64Load16S, OpI64Load16U:
		return v.memAccess(ValI64, 16, false)
	case OpI64Load32S, OpI64Load32U:
		return v.memAccess(ValI64, 32, false)
	case OpI32Store:
		return v.memAccess(ValI32, 32, true)
	case OpI64Store:
		return v.memAccess(ValI64, 64, true)
	case OpF32Store:
		return v.memAccess(ValF32, 32, true)
	case OpF64Store:
		return v.memAccess(ValF64, 64, true)
	case OpI32Store8:
		return v.memAccess(ValI32, 8, true)
	case OpI32Store16:
		return v.memAccess(ValI32, 16, true)
	case OpI64Store8:
		return v.memAccess(ValI64, 8, true)
	case OpI64Store16:
		return v.memAccess(ValI64, 16, true)
	case OpI64Store32:
		return v.memAccess(ValI64, 32, true)

	case OpMemorySize:
		if err := v.memIndex(); err != nil {
			return err
		}
		v.push(ValI32)

	case OpMemoryGrow:
		if err := v.memIndex(); err != nil {
			return err
		}
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		v.push(ValI32)

	case OpI32Const:
		if _, err := v.cur.ReadInt32(); err != nil {
			return err
		}
		v.push(ValI32)
	case OpI64Const:
		if _, err := v.cur.ReadInt64(); err != nil {
			return err
		}
		v.push(ValI64)
	case OpF32Const:
		if _, err := v.cur.ReadFloat32(); err != nil {
			return err
		}
		v.push(ValF32)
	case OpF64Const:
		if _, err := v.cur.ReadFloat64(); err != nil {
			return err
		}
		v.push(ValF64)

	case OpI32Eqz:
		return v.testop(ValI32)
	case OpI64Eqz:
		return v.testop(ValI64)

	case OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU, OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU:
		return v.relop(ValI32)
	case OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU, OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU:
		return v.relop(ValI64)
	case OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge:
		return v.relop(ValF32)
	case OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge:
		return v.relop(ValF64)

	case OpI32Clz, OpI32Ctz, OpI32Popcnt:
		return v.unop(ValI32)
	case OpI64Clz, OpI64Ctz, OpI64Popcnt:
		return v.unop(ValI64)

	case OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU,
		OpI32And, OpI32Or, OpI32Xor, OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr:
		return v.binop(ValI32)
	case OpI64Add, OpI64Sub, OpI64Mul, OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU,
		OpI64And, OpI64Or, OpI64Xor, OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr:
		return v.binop(ValI64)

	case OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor, OpF32Trunc, OpF32Nearest, OpF32Sqrt:
		return v.unop(ValF32)
	case OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor, OpF64Trunc, OpF64Nearest, OpF64Sqrt:
		return v.unop(ValF64)

	case OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign:
		return v.binop(ValF32)
	case OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign:
		return v.binop(ValF64)

	case OpI32WrapI64:
		return v.cvtop(ValI64, ValI32)
	case OpI32TruncF32S, OpI32TruncF32U:
		return v.cvtop(ValF32, ValI32)
	case OpI32TruncF64S, OpI32TruncF64U:
		return v.cvtop(ValF64, ValI32)
	case OpI64ExtendI32S, OpI64ExtendI32U:
		return v.cvtop(ValI32, ValI64)
	case OpI64TruncF32S, OpI64TruncF32U:
		return v.cvtop(ValF32, ValI64)
	case OpI64TruncF64S, OpI64TruncF64U:
		return v.cvtop(ValF64, ValI64)
	case OpF32ConvertI32S, OpF32ConvertI32U:
		return v.cvtop(ValI32, ValF32)
	case OpF32ConvertI64S, OpF32ConvertI64U:
		return v.cvtop(ValI64, ValF32)
	case OpF32DemoteF64:
		return v.cvtop(ValF64, ValF32)
	case OpF64ConvertI32S, OpF64ConvertI32U:
		return v.cvtop(ValI32, ValF64)
	case OpF64ConvertI64S, OpF64ConvertI64U:
		return v.cvtop(ValI64, ValF64)
	case OpF64PromoteF32:
		return v.cvtop(ValF32, ValF64)
	case OpI32ReinterpretF32:
		return v.cvtop(ValF32, ValI32)
	case OpI64ReinterpretF64:
		return v.cvtop(ValF64, ValI64)
	case OpF32ReinterpretI32:
		return v.cvtop(ValI32, ValF32)
	case OpF64ReinterpretI64:
		return v.cvtop(ValI64, ValF64)

	case OpI32Extend8S, OpI32Extend16S:
		return v.unop(ValI32)
	case OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
		return v.unop(ValI64)

	case OpRefNull:
		vt, err := readRefType(v.cur)
		if err != nil {
			return err
		}
		v.push(vt)

	case OpRefIsNull:
		e, err := v.pop()
		if err != nil {
			return err
		}
		if e.known && !e.vt.IsReference() {
			return werr.Validate(werr.KindExpectedReference, "got %s", e.vt)
		}
		v.push(ValI32)

	case OpRefFunc:
		idx, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		if v.mod.FuncTypeAt(idx) == nil {
			return werr.Validate(werr.KindInvalidFunctionIndex, "function %d", idx)
		}
		if v.constOnly {
			// A ref.func in a global or element initializer is itself a
			// declaration.
			v.mod.declareFunc(idx)
		} else if !v.mod.FuncIsDeclared(idx) {
			return werr.Validate(werr.KindUndeclaredFuncRef, "function %d", idx)
		}
		v.push(ValFuncRef)

	case OpPrefixMisc:
		ext, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		return v.stepMisc(opOff, ext)

	default:
		return werr.UnknownOpcode(int64(opOff), op, -1)
	}
	return nil
}

func (v *codeValidator) stepMisc(opOff int, ext uint32) error {
	switch ext {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U:
		return v.cvtop(ValF32, ValI32)
	case MiscI32TruncSatF64S, MiscI32TruncSatF64U:
		return v.cvtop(ValF64, ValI32)
	case MiscI64TruncSatF32S, MiscI64TruncSatF32U:
		return v.cvtop(ValF32, ValI64)
	case MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		return v.cvtop(ValF64, ValI64)

	case MiscMemoryInit:
		if err := v.dataIndex(); err != nil {
			return err
		}
		if err := v.memIndex(); err != nil {
			return err
		}
		return v.popThree32()

	case MiscDataDrop:
		return v.dataIndex()

	case MiscMemoryCopy:
		// Destination index first, then source.
		if err := v.memIndex(); err != nil {
			return err
		}
		if err := v.memIndex(); err != nil {
			return err
		}
		return v.popThree32()

	case MiscMemoryFill:
		if err := v.memIndex(); err != nil {
			return err
		}
		return v.popThree32()

	case MiscTableInit:
		elemIdx, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		table, err := v.tableIndex()
		if err != nil {
			return err
		}
		if elemIdx >= uint32(len(v.mod.Elements)) {
			return werr.Validate(werr.KindInvalidElementIndex, "element %d (have %d)", elemIdx, len(v.mod.Elements))
		}
		if v.mod.Elements[elemIdx].Type != table.ElemType {
			return werr.Validate(werr.KindTableTypeMismatch, "element %s, table %s", v.mod.Elements[elemIdx].Type, table.ElemType)
		}
		return v.popThree32()

	case MiscElemDrop:
		elemIdx, err := v.cur.ReadUint32()
		if err != nil {
			return err
		}
		if elemIdx >= uint32(len(v.mod.Elements)) {
			return werr.Validate(werr.KindInvalidElementIndex, "element %d (have %d)", elemIdx, len(v.mod.Elements))
		}

	case MiscTableCopy:
		dst, err := v.tableIndex()
		if err != nil {
			return err
		}
		src, err := v.tableIndex()
		if err != nil {
			return err
		}
		if dst.ElemType != src.ElemType {
			return werr.Validate(werr.KindTableTypeMismatch, "destination %s, source %s", dst.ElemType, src.ElemType)
		}
		return v.popThree32()

	case MiscTableGrow:
		table, err := v.tableIndex()
		if err != nil {
			return err
		}
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		if err := v.popExpect(table.ElemType); err != nil {
			return err
		}
		v.push(ValI32)

	case MiscTableSize:
		if _, err := v.tableIndex(); err != nil {
			return err
		}
		v.push(ValI32)

	case MiscTableFill:
		table, err := v.tableIndex()
		if err != nil {
			return err
		}
		if err := v.popExpect(ValI32); err != nil {
			return err
		}
		if err := v.popExpect(table.ElemType); err != nil {
			return err
		}
		return v.popExpect(ValI32)

	default:
		return werr.UnknownOpcode(int64(opOff), OpPrefixMisc, int64(ext))
	}
	return nil
}

func typesEqual(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isConstOpcode reports whether op may appear in a constant expression.
func isConstOpcode(op byte) bool {
	switch op {
	case OpI32Const, OpI64Const, OpF32Const, OpF64Const, OpGlobalGet, OpRefNull, OpRefFunc:
		return true
	}
	return false
}

func frameKindName(k frameKind) string {
	switch k {
	case frameBlock:
		return "block"
	case frameLoop:
		return "loop"
	case frameIf:
		return "if"
	case frameElse:
		return "else"
	default:
		return "function"
	}
}
