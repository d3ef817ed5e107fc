package wasm

import (
	"github.com/willf/bitset"
)

// ValueType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef,
// ValExtern.
type ValueType byte

func (v ValueType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// IsReference reports whether v is funcref or externref.
func (v ValueType) IsReference() bool {
	return v == ValFuncRef || v == ValExtern
}

// IsVector reports whether v is v128.
func (v ValueType) IsVector() bool {
	return v == ValV128
}

// IsNumeric reports whether v is one of the four core numeric types.
func (v ValueType) IsNumeric() bool {
	switch v {
	case ValI32, ValI64, ValF32, ValF64:
		return true
	}
	return false
}

// BitWidth returns the width of v in bits, or 0 for reference types.
func (v ValueType) BitWidth() int {
	switch v {
	case ValI32, ValF32:
		return 32
	case ValI64, ValF64:
		return 64
	case ValV128:
		return 128
	}
	return 0
}

// FuncType represents a WebAssembly function signature with parameter and
// result types.
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// Equal reports pointwise equality of parameters and results.
func (f FuncType) Equal(other FuncType) bool {
	if len(f.Params) != len(other.Params) || len(f.Results) != len(other.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max *uint32
	Min uint32
}

// TableType describes a table with element type and size limits. The
// element type is always a reference type.
type TableType struct {
	ElemType ValueType
	Limits   Limits
}

// MemoryType describes a linear memory with size limits, in page units.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // validated constant expression, including the end opcode
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// ImportDesc describes an imported item.
// Kind uses the KindFunc, KindTable, KindMemory, or KindGlobal constants.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// Export describes an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// ElemMode distinguishes the three element segment modes.
type ElemMode byte

const (
	ElemModeActive ElemMode = iota
	ElemModePassive
	ElemModeDeclarative
)

// Element represents an element segment. Active segments carry a table
// index and a validated offset expression; the initializers are either
// plain function indices or constant expressions, depending on the
// encoding flags.
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Type     ValueType
	Mode     ElemMode
	TableIdx uint32
}

// DataMode distinguishes active and passive data segments.
type DataMode byte

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// DataSegment represents a data segment.
type DataSegment struct {
	Offset []byte
	Init   []byte
	Mode   DataMode
	MemIdx uint32
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValueType
}

// FuncBody represents a function's declared size, local declarations, and
// bytecode (excluding the locals vector, including the final end opcode).
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
	Size   uint32
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// Module represents a parsed WebAssembly module
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12).
	// Required when data indices appear in code (bulk memory operations).
	DataCount *uint32

	CustomSections []CustomSection

	// counts caches the per-kind import totals. It is computed once when
	// the import section completes and read-only afterwards, so validation
	// workers share it without locking.
	counts *importCounts

	// declaredFuncs is the set of function indices that may be the target
	// of ref.func: indices appearing in element segments, function
	// exports, or global initializers.
	declaredFuncs *bitset.BitSet
}

// importCounts is the per-kind tally of imports, in declaration order.
type importCounts struct {
	funcs    uint32
	tables   uint32
	memories uint32
	globals  uint32
}

// sealImports computes the import tally on its first call; later calls are
// no-ops. The parser calls it after the import section, before body
// validation starts, and in Finish; for import-free modules the first index
// lookup computes it through importTally.
func (m *Module) sealImports() {
	if m.counts != nil {
		return
	}
	c := &importCounts{}
	for i := range m.Imports {
		switch m.Imports[i].Desc.Kind {
		case KindFunc:
			c.funcs++
		case KindTable:
			c.tables++
		case KindMemory:
			c.memories++
		case KindGlobal:
			c.globals++
		}
	}
	m.counts = c
}

func (m *Module) importTally() *importCounts {
	if m.counts == nil {
		m.sealImports()
	}
	return m.counts
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() uint32 { return m.importTally().funcs }

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() uint32 { return m.importTally().tables }

// NumImportedMemories returns the number of imported memories
func (m *Module) NumImportedMemories() uint32 { return m.importTally().memories }

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() uint32 { return m.importTally().globals }

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() uint32 { return m.NumImportedFuncs() + uint32(len(m.Funcs)) }

// NumTables returns the size of the table index space.
func (m *Module) NumTables() uint32 { return m.NumImportedTables() + uint32(len(m.Tables)) }

// NumMemories returns the size of the memory index space.
func (m *Module) NumMemories() uint32 { return m.NumImportedMemories() + uint32(len(m.Memories)) }

// NumGlobals returns the size of the global index space.
func (m *Module) NumGlobals() uint32 { return m.NumImportedGlobals() + uint32(len(m.Globals)) }

// importOfKind returns the idx-th import of the given kind, walking imports
// in declaration order. Index spaces number imports before declared
// entities, so this is the authoritative lookup for low indices.
func (m *Module) importOfKind(kind byte, idx uint32) *Import {
	for i := range m.Imports {
		if m.Imports[i].Desc.Kind != kind {
			continue
		}
		if idx == 0 {
			return &m.Imports[i]
		}
		idx--
	}
	return nil
}

// FuncTypeAt returns the signature of the function at funcIdx in the
// function index space, or nil when the index is out of range.
func (m *Module) FuncTypeAt(funcIdx uint32) *FuncType {
	imported := m.NumImportedFuncs()
	var typeIdx uint32
	if funcIdx < imported {
		typeIdx = m.importOfKind(KindFunc, funcIdx).Desc.TypeIdx
	} else {
		local := funcIdx - imported
		if local >= uint32(len(m.Funcs)) {
			return nil
		}
		typeIdx = m.Funcs[local]
	}
	if typeIdx >= uint32(len(m.Types)) {
		return nil
	}
	return &m.Types[typeIdx]
}

// TableAt returns the table at tableIdx in the table index space, or nil.
func (m *Module) TableAt(tableIdx uint32) *TableType {
	imported := m.NumImportedTables()
	if tableIdx < imported {
		return m.importOfKind(KindTable, tableIdx).Desc.Table
	}
	local := tableIdx - imported
	if local >= uint32(len(m.Tables)) {
		return nil
	}
	return &m.Tables[local]
}

// MemoryAt returns the memory at memIdx in the memory index space, or nil.
func (m *Module) MemoryAt(memIdx uint32) *MemoryType {
	imported := m.NumImportedMemories()
	if memIdx < imported {
		return m.importOfKind(KindMemory, memIdx).Desc.Memory
	}
	local := memIdx - imported
	if local >= uint32(len(m.Memories)) {
		return nil
	}
	return &m.Memories[local]
}

// GlobalAt returns the type of the global at globalIdx in the global index
// space, or nil.
func (m *Module) GlobalAt(globalIdx uint32) *GlobalType {
	imported := m.NumImportedGlobals()
	if globalIdx < imported {
		return m.importOfKind(KindGlobal, globalIdx).Desc.Global
	}
	local := globalIdx - imported
	if local >= uint32(len(m.Globals)) {
		return nil
	}
	return &m.Globals[local].Type
}

// declareFunc records funcIdx as referenceable by ref.func.
func (m *Module) declareFunc(funcIdx uint32) {
	if m.declaredFuncs == nil {
		m.declaredFuncs = bitset.New(uint(m.NumFuncs()))
	}
	m.declaredFuncs.Set(uint(funcIdx))
}

// FuncIsDeclared reports whether funcIdx appears in the module's declared
// set: element segment initializers, function exports, or global
// initializers.
func (m *Module) FuncIsDeclared(funcIdx uint32) bool {
	return m.declaredFuncs != nil && m.declaredFuncs.Test(uint(funcIdx))
}
