package wasm

import (
	"unicode/utf8"

	werr "github.com/wippyai/wasm-stream/errors"
	"github.com/wippyai/wasm-stream/wasm/internal/binary"
)

// Wire decoders layered on the cursor. Each fails with a specific
// parse-phase error on a malformed tag and with ErrUnexpectedEOF when the
// buffered input ends mid-item. A single failed read consumes nothing, but a
// decoder that fails after earlier fields may leave the cursor inside the
// item; the parser rewinds to the start of the whole transition and retries
// after the next push.

func isValueTypeByte(b byte) bool {
	switch ValueType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValFuncRef, ValExtern:
		return true
	}
	return false
}

func readValueType(c *binary.Cursor) (ValueType, error) {
	off := c.Pos()
	b, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	if !isValueTypeByte(b) {
		return 0, werr.Parse(werr.KindInvalidValueTypeTag, int64(off), "0x%02x", b)
	}
	return ValueType(b), nil
}

func readRefType(c *binary.Cursor) (ValueType, error) {
	off := c.Pos()
	b, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	vt := ValueType(b)
	if !vt.IsReference() {
		return 0, werr.Parse(werr.KindExpectedRefType, int64(off), "0x%02x", b)
	}
	return vt, nil
}

// blockType is the resolved form of a block type immediate: either an
// inline shape (empty or single result) or a type-table index.
type blockType struct {
	ft FuncType
}

// readBlockType decodes a block type: 0x40 for empty, a value type byte for
// a single result, or a signed 33-bit type index. The index form is
// resolved against the module's type table.
func readBlockType(c *binary.Cursor, types []FuncType) (blockType, error) {
	off := c.Pos()
	b, err := c.PeekByte()
	if err != nil {
		return blockType{}, err
	}
	if b == 0x40 {
		_, _ = c.ReadByte()
		return blockType{}, nil
	}
	if isValueTypeByte(b) {
		_, _ = c.ReadByte()
		return blockType{ft: FuncType{Results: []ValueType{ValueType(b)}}}, nil
	}
	idx, err := c.ReadInt33()
	if err != nil {
		return blockType{}, err
	}
	if idx < 0 || idx >= int64(len(types)) {
		return blockType{}, werr.Validate(werr.KindInvalidTypeIndex, "block type index %d (have %d types) at offset 0x%x", idx, len(types), off)
	}
	return blockType{ft: types[idx]}, nil
}

// memArg is the immediate operand of a memory access: alignment exponent,
// memory index, byte offset.
type memArg struct {
	Align  uint32
	MemIdx uint32
	Offset uint32
}

// readMemArg decodes a memarg. Bit 6 of the alignment field signals an
// explicit memory index (multi-memory); otherwise memory zero is implied.
func readMemArg(c *binary.Cursor) (memArg, error) {
	flags, err := c.ReadUint32()
	if err != nil {
		return memArg{}, err
	}
	var arg memArg
	if flags&MemArgMemoryIndexFlag != 0 {
		arg.Align = flags &^ MemArgMemoryIndexFlag
		if arg.MemIdx, err = c.ReadUint32(); err != nil {
			return memArg{}, err
		}
	} else {
		arg.Align = flags
	}
	if arg.Offset, err = c.ReadUint32(); err != nil {
		return memArg{}, err
	}
	return arg, nil
}

// readBrTable decodes the label vector and default label of a br_table.
func readBrTable(c *binary.Cursor) (labels []uint32, defaultLabel uint32, err error) {
	count, err := c.ReadUint32()
	if err != nil {
		return nil, 0, err
	}
	labels = make([]uint32, count)
	for i := range labels {
		if labels[i], err = c.ReadUint32(); err != nil {
			return nil, 0, err
		}
	}
	if defaultLabel, err = c.ReadUint32(); err != nil {
		return nil, 0, err
	}
	return labels, defaultLabel, nil
}

// readLimits decodes a limits structure: flag byte, min, optional max.
func readLimits(c *binary.Cursor) (Limits, error) {
	off := c.Pos()
	flag, err := c.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	switch flag {
	case LimitsNoMax, LimitsHasMax:
	default:
		return Limits{}, werr.Parse(werr.KindInvalidLimitsFlag, int64(off), "0x%02x", flag)
	}
	var lim Limits
	if lim.Min, err = c.ReadUint32(); err != nil {
		return Limits{}, err
	}
	if flag == LimitsHasMax {
		max, err := c.ReadUint32()
		if err != nil {
			return Limits{}, err
		}
		lim.Max = &max
	}
	return lim, nil
}

func readTableType(c *binary.Cursor) (TableType, error) {
	elem, err := readRefType(c)
	if err != nil {
		return TableType{}, err
	}
	lim, err := readLimits(c)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elem, Limits: lim}, nil
}

func readGlobalType(c *binary.Cursor) (GlobalType, error) {
	vt, err := readValueType(c)
	if err != nil {
		return GlobalType{}, err
	}
	off := c.Pos()
	mut, err := c.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	switch mut {
	case GlobalImmutable, GlobalMutable:
	default:
		return GlobalType{}, werr.Parse(werr.KindInvalidMutability, int64(off), "0x%02x", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == GlobalMutable}, nil
}

// readName decodes a length-prefixed UTF-8 string.
func readName(c *binary.Cursor) (string, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return "", err
	}
	off := c.Pos()
	raw, err := c.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", werr.Parse(werr.KindInvalidUTF8, int64(off), "%d-byte name", n)
	}
	return string(raw), nil
}

func readFuncType(c *binary.Cursor) (FuncType, error) {
	off := c.Pos()
	form, err := c.ReadByte()
	if err != nil {
		return FuncType{}, err
	}
	if form != FuncTypeByte {
		return FuncType{}, werr.Parse(werr.KindInvalidFuncTypeTag, int64(off), "0x%02x", form)
	}
	var ft FuncType
	nparams, err := c.ReadUint32()
	if err != nil {
		return FuncType{}, err
	}
	ft.Params = make([]ValueType, nparams)
	for i := range ft.Params {
		if ft.Params[i], err = readValueType(c); err != nil {
			return FuncType{}, err
		}
	}
	nresults, err := c.ReadUint32()
	if err != nil {
		return FuncType{}, err
	}
	ft.Results = make([]ValueType, nresults)
	for i := range ft.Results {
		if ft.Results[i], err = readValueType(c); err != nil {
			return FuncType{}, err
		}
	}
	return ft, nil
}
