package wasm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werr "github.com/wippyai/wasm-stream/errors"
	"github.com/wippyai/wasm-stream/wasm"
)

var header = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// section frames a payload with its id and size.
func section(id byte, payload ...byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

func module(sections ...[]byte) []byte {
	out := append([]byte{}, header...)
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

func TestParseEmptyModule(t *testing.T) {
	m, err := wasm.ParseModule(header)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Empty(t, m.Types)
	assert.Empty(t, m.Funcs)
	assert.Empty(t, m.Code)
	assert.Nil(t, m.DataCount)
}

func TestParseBadMagic(t *testing.T) {
	_, err := wasm.ParseModule([]byte{0x00, 0x61, 0x73, 0x6E, 0x01, 0x00, 0x00, 0x00})
	require.Error(t, err)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseParse, Kind: werr.KindInvalidMagic})
}

func TestParseBadVersion(t *testing.T) {
	_, err := wasm.ParseModule([]byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00})
	require.Error(t, err)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseParse, Kind: werr.KindInvalidVersion})
}

func TestParseTruncatedHeader(t *testing.T) {
	p := wasm.NewParser()
	require.NoError(t, p.Push([]byte{0x00, 0x61, 0x73}))
	_, err := p.Finish()
	require.Error(t, err)
	assert.ErrorIs(t, err, werr.ErrUnexpectedEOF)
}

// identityModule is the [i32] -> [i32] identity function: one type, one
// function, body `local.get 0; end`.
var identityModule = module(
	section(wasm.SectionType, 0x01, 0x60, 0x01, 0x7F, 0x01, 0x7F),
	section(wasm.SectionFunction, 0x01, 0x00),
	section(wasm.SectionCode, 0x01, 0x04, 0x00, 0x20, 0x00, 0x0B),
)

func TestParseIdentityFunction(t *testing.T) {
	m, err := wasm.ParseModule(identityModule)
	require.NoError(t, err)
	require.Len(t, m.Types, 1)
	assert.Equal(t, wasm.FuncType{
		Params:  []wasm.ValueType{wasm.ValI32},
		Results: []wasm.ValueType{wasm.ValI32},
	}, m.Types[0])
	require.Len(t, m.Funcs, 1)
	require.Len(t, m.Code, 1)
	assert.Equal(t, []byte{0x20, 0x00, 0x0B}, m.Code[0].Code)
}

func TestParseTypeMismatchBody(t *testing.T) {
	// Same module, but the body is `i64.const 0; end`.
	bad := module(
		section(wasm.SectionType, 0x01, 0x60, 0x01, 0x7F, 0x01, 0x7F),
		section(wasm.SectionFunction, 0x01, 0x00),
		section(wasm.SectionCode, 0x01, 0x04, 0x00, 0x42, 0x00, 0x0B),
	)
	_, err := wasm.ParseModule(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindUnexpectedType})
}

func TestParseHangingElse(t *testing.T) {
	bad := module(
		section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00),
		section(wasm.SectionFunction, 0x01, 0x00),
		section(wasm.SectionCode, 0x01, 0x03, 0x00, 0x05, 0x0B),
	)
	_, err := wasm.ParseModule(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindHangingElse})
}

func TestParseMemoryInitWithoutDataCount(t *testing.T) {
	bad := module(
		section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00),
		section(wasm.SectionFunction, 0x01, 0x00),
		section(wasm.SectionMemory, 0x01, 0x00, 0x01),
		section(wasm.SectionCode,
			0x01, 0x0C, 0x00,
			0x41, 0x00, 0x41, 0x00, 0x41, 0x00, // three i32.const 0
			0xFC, 0x08, 0x00, 0x00, // memory.init 0 0
			0x0B,
		),
	)
	_, err := wasm.ParseModule(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindMissingDataCount})
}

// fullModule exercises most sections at once: imports, memory, table,
// globals, exports, elements, data count, code using bulk memory, data.
func fullModule() []byte {
	return module(
		// type 0: [] -> [], type 1: [i32] -> [i32]
		section(wasm.SectionType, 0x02,
			0x60, 0x00, 0x00,
			0x60, 0x01, 0x7F, 0x01, 0x7F,
		),
		// import "env"."f" (func type 0), "env"."g" (global i32 const)
		section(wasm.SectionImport, 0x02,
			0x03, 'e', 'n', 'v', 0x01, 'f', 0x00, 0x00,
			0x03, 'e', 'n', 'v', 0x01, 'g', 0x03, 0x7F, 0x00,
		),
		// two declared functions
		section(wasm.SectionFunction, 0x02, 0x00, 0x01),
		// one funcref table, min 1 max 8
		section(wasm.SectionTable, 0x01, 0x70, 0x01, 0x01, 0x08),
		// one memory, min 1
		section(wasm.SectionMemory, 0x01, 0x00, 0x01),
		// one mutable i32 global initialized from the imported global
		section(wasm.SectionGlobal, 0x01, 0x7F, 0x01, 0x23, 0x00, 0x0B),
		// export the second declared function and the memory
		section(wasm.SectionExport, 0x02,
			0x02, 'i', 'd', 0x00, 0x02,
			0x03, 'm', 'e', 'm', 0x02, 0x00,
		),
		// start: function index 1 (first declared, type [] -> [])
		section(wasm.SectionStart, 0x01),
		// active element: table 0, offset i32.const 0, funcs [1]
		section(wasm.SectionElement, 0x01, 0x00, 0x41, 0x00, 0x0B, 0x01, 0x01),
		// data count: 1
		section(wasm.SectionDataCount, 0x01),
		// code: func 1 body empty; func 2 identity with a memory.init
		section(wasm.SectionCode, 0x02,
			0x02, 0x00, 0x0B,
			0x0E, 0x00,
			0x41, 0x00, 0x41, 0x00, 0x41, 0x00,
			0xFC, 0x08, 0x00, 0x00, // memory.init data 0, memory 0
			0x20, 0x00, // local.get 0
			0x0B,
		),
		// one passive data segment, three bytes
		section(wasm.SectionData, 0x01, 0x01, 0x03, 0xAA, 0xBB, 0xCC),
	)
}

func TestParseFullModule(t *testing.T) {
	m, err := wasm.ParseModule(fullModule())
	require.NoError(t, err)

	assert.Len(t, m.Types, 2)
	assert.Len(t, m.Imports, 2)
	assert.EqualValues(t, 1, m.NumImportedFuncs())
	assert.EqualValues(t, 1, m.NumImportedGlobals())
	assert.EqualValues(t, 3, m.NumFuncs())
	assert.Len(t, m.Tables, 1)
	assert.Len(t, m.Memories, 1)
	assert.Len(t, m.Globals, 1)
	assert.Equal(t, []byte{0x23, 0x00, 0x0B}, m.Globals[0].Init)
	assert.Len(t, m.Exports, 2)
	require.NotNil(t, m.Start)
	assert.EqualValues(t, 1, *m.Start)
	assert.Len(t, m.Elements, 1)
	require.NotNil(t, m.DataCount)
	assert.EqualValues(t, 1, *m.DataCount)
	assert.Len(t, m.Code, 2)
	assert.Len(t, m.Data, 1)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, m.Data[0].Init)

	// Element entries and exports make functions referenceable.
	assert.True(t, m.FuncIsDeclared(1))
	assert.True(t, m.FuncIsDeclared(2))
	assert.False(t, m.FuncIsDeclared(0))
}

// TestChunkInvariance feeds the same module at every chunk size from 1 to
// the whole buffer and requires identical outcomes.
func TestChunkInvariance(t *testing.T) {
	data := fullModule()

	whole, err := wasm.ParseModule(data)
	require.NoError(t, err)

	for chunkSize := 1; chunkSize <= len(data); chunkSize++ {
		p := wasm.NewParser()
		for off := 0; off < len(data); off += chunkSize {
			end := off + chunkSize
			if end > len(data) {
				end = len(data)
			}
			require.NoError(t, p.Push(data[off:end]), "chunk size %d, offset %d", chunkSize, off)
		}
		m, err := p.Finish()
		require.NoError(t, err, "chunk size %d", chunkSize)
		assert.Equal(t, whole.Types, m.Types, "chunk size %d", chunkSize)
		assert.Equal(t, whole.Funcs, m.Funcs, "chunk size %d", chunkSize)
		assert.Equal(t, whole.Code, m.Code, "chunk size %d", chunkSize)
		assert.Equal(t, whole.Data, m.Data, "chunk size %d", chunkSize)
		assert.Equal(t, whole.Elements, m.Elements, "chunk size %d", chunkSize)
	}
}

func TestChunkInvarianceOnErrors(t *testing.T) {
	bad := module(
		section(wasm.SectionType, 0x01, 0x60, 0x01, 0x7F, 0x01, 0x7F),
		section(wasm.SectionFunction, 0x01, 0x00),
		section(wasm.SectionCode, 0x01, 0x04, 0x00, 0x42, 0x00, 0x0B),
	)

	for chunkSize := 1; chunkSize <= len(bad); chunkSize++ {
		p := wasm.NewParser()
		var pushErr error
		for off := 0; off < len(bad) && pushErr == nil; off += chunkSize {
			end := off + chunkSize
			if end > len(bad) {
				end = len(bad)
			}
			pushErr = p.Push(bad[off : end])
		}
		if pushErr == nil {
			_, pushErr = p.Finish()
		}
		require.Error(t, pushErr, "chunk size %d", chunkSize)
		assert.ErrorIs(t, pushErr, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindUnexpectedType}, "chunk size %d", chunkSize)
	}
}

func TestSectionOrdering(t *testing.T) {
	// Function section before type section.
	bad := module(
		section(wasm.SectionFunction, 0x00),
		section(wasm.SectionType, 0x00),
	)
	_, err := wasm.ParseModule(bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseParse, Kind: werr.KindSectionOrder})

	// Duplicate section.
	dup := module(
		section(wasm.SectionType, 0x00),
		section(wasm.SectionType, 0x00),
	)
	_, err = wasm.ParseModule(dup)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseParse, Kind: werr.KindSectionOrder})

	// DataCount lives between element and code.
	ok := module(
		section(wasm.SectionDataCount, 0x00),
		section(wasm.SectionData, 0x00),
	)
	_, err = wasm.ParseModule(ok)
	assert.NoError(t, err)
}

func TestCustomSectionsRepeat(t *testing.T) {
	data := module(
		section(wasm.SectionCustom, 0x01, 'a', 0x01, 0x02),
		section(wasm.SectionType, 0x00),
		section(wasm.SectionCustom, 0x01, 'a', 0x03),
	)
	m, err := wasm.ParseModule(data)
	require.NoError(t, err)
	require.Len(t, m.CustomSections, 2)
	assert.Equal(t, "a", m.CustomSections[0].Name)
	assert.Equal(t, []byte{0x01, 0x02}, m.CustomSections[0].Data)
	assert.Equal(t, []byte{0x03}, m.CustomSections[1].Data)
}

func TestInvalidSectionID(t *testing.T) {
	bad := module(section(0x0D, 0x00))
	_, err := wasm.ParseModule(bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseParse, Kind: werr.KindInvalidSectionID})
}

func TestSectionSizeMismatch(t *testing.T) {
	// Type section declaring 5 bytes whose single type entry takes only 4,
	// leaving a stray byte inside the section unconsumed.
	bad := module([]byte{wasm.SectionType, 0x05, 0x01, 0x60, 0x00, 0x00, 0x00})
	_, err := wasm.ParseModule(bad)
	require.Error(t, err)
}

func TestUnderstatedSectionSize(t *testing.T) {
	// A global section declaring 2 bytes: the global type decoder reads
	// its mutability byte from the following section's bytes, leaving the
	// cursor past the section end before the init expression starts. The
	// parser must reject this, not slice with a negative bound.
	bad := module(
		[]byte{wasm.SectionGlobal, 0x02, 0x01, 0x7F},
		[]byte{0x00}, // next section's id byte, a valid immutable flag
	)
	_, err := wasm.ParseModule(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseParse, Kind: werr.KindSectionSize})
}

func TestCodeCountMismatch(t *testing.T) {
	bad := module(
		section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00),
		section(wasm.SectionFunction, 0x02, 0x00, 0x00),
		section(wasm.SectionCode, 0x01, 0x02, 0x00, 0x0B),
	)
	_, err := wasm.ParseModule(bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindCodeCountMismatch})

	// A function section with no code section at all.
	missing := module(
		section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00),
		section(wasm.SectionFunction, 0x01, 0x00),
	)
	_, err = wasm.ParseModule(missing)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindCodeCountMismatch})
}

func TestDataCountMismatch(t *testing.T) {
	bad := module(
		section(wasm.SectionDataCount, 0x02),
		section(wasm.SectionData, 0x01, 0x01, 0x00),
	)
	_, err := wasm.ParseModule(bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindDataCountMismatch})

	// Declared count with no data section.
	missing := module(section(wasm.SectionDataCount, 0x02))
	_, err = wasm.ParseModule(missing)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindDataCountMismatch})
}

func TestLimitsValidation(t *testing.T) {
	// Memory with min > max.
	bad := module(section(wasm.SectionMemory, 0x01, 0x01, 0x05, 0x01))
	_, err := wasm.ParseModule(bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindInvalidLimits})

	// Memory over the page bound (65537 pages).
	big := module(section(wasm.SectionMemory, 0x01, 0x00, 0x81, 0x80, 0x04))
	_, err = wasm.ParseModule(big)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindInvalidLimits})

	// Bad limits flag.
	flag := module(section(wasm.SectionMemory, 0x01, 0x07, 0x00))
	_, err = wasm.ParseModule(flag)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseParse, Kind: werr.KindInvalidLimitsFlag})
}

func TestDuplicateExportName(t *testing.T) {
	bad := module(
		section(wasm.SectionMemory, 0x01, 0x00, 0x01),
		section(wasm.SectionExport, 0x02,
			0x01, 'm', 0x02, 0x00,
			0x01, 'm', 0x02, 0x00,
		),
	)
	_, err := wasm.ParseModule(bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindDuplicateExport})
}

func TestExportIndexBounds(t *testing.T) {
	bad := module(
		section(wasm.SectionExport, 0x01, 0x01, 'f', 0x00, 0x00),
	)
	_, err := wasm.ParseModule(bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindInvalidFunctionIndex})
}

func TestStartSignature(t *testing.T) {
	bad := module(
		section(wasm.SectionType, 0x01, 0x60, 0x01, 0x7F, 0x00),
		section(wasm.SectionFunction, 0x01, 0x00),
		section(wasm.SectionStart, 0x00),
		section(wasm.SectionCode, 0x01, 0x02, 0x00, 0x0B),
	)
	_, err := wasm.ParseModule(bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindInvalidStart})
}

func TestGlobalInitExpr(t *testing.T) {
	// Global initialized by a non-constant instruction.
	bad := module(
		section(wasm.SectionGlobal, 0x01, 0x7F, 0x00, 0x41, 0x00, 0x41, 0x00, 0x6A, 0x0B),
	)
	_, err := wasm.ParseModule(bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindInvalidInitExpr})

	// Global whose init has the wrong type.
	wrong := module(
		section(wasm.SectionGlobal, 0x01, 0x7E, 0x00, 0x41, 0x00, 0x0B),
	)
	_, err = wasm.ParseModule(wrong)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindUnexpectedType})
}

func TestElementSegments(t *testing.T) {
	// Active element into a missing table.
	noTable := module(
		section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00),
		section(wasm.SectionFunction, 0x01, 0x00),
		section(wasm.SectionElement, 0x01, 0x00, 0x41, 0x00, 0x0B, 0x01, 0x00),
		section(wasm.SectionCode, 0x01, 0x02, 0x00, 0x0B),
	)
	_, err := wasm.ParseModule(noTable)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindInvalidTableIndex})

	// Declarative element (flags 3) just declares its functions.
	decl := module(
		section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00),
		section(wasm.SectionFunction, 0x01, 0x00),
		section(wasm.SectionElement, 0x01, 0x03, 0x00, 0x01, 0x00),
		section(wasm.SectionCode, 0x01,
			0x05, 0x00, 0xD2, 0x00, 0x1A, 0x0B, // ref.func 0; drop; end
		),
	)
	m, err := wasm.ParseModule(decl)
	require.NoError(t, err)
	require.Len(t, m.Elements, 1)
	assert.Equal(t, wasm.ElemModeDeclarative, m.Elements[0].Mode)
	assert.True(t, m.FuncIsDeclared(0))

	// Passive element with expression entries (flags 5).
	passive := module(
		section(wasm.SectionElement, 0x01, 0x05, 0x70, 0x01, 0xD0, 0x70, 0x0B),
	)
	m, err = wasm.ParseModule(passive)
	require.NoError(t, err)
	require.Len(t, m.Elements, 1)
	assert.Equal(t, wasm.ElemModePassive, m.Elements[0].Mode)
	require.Len(t, m.Elements[0].Exprs, 1)
	assert.Equal(t, []byte{0xD0, 0x70, 0x0B}, m.Elements[0].Exprs[0])

	// Element function index out of range.
	badIdx := module(
		section(wasm.SectionElement, 0x01, 0x03, 0x00, 0x01, 0x09),
	)
	_, err = wasm.ParseModule(badIdx)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindInvalidFunctionIndex})
}

func TestDataSegmentModes(t *testing.T) {
	// Active segment with explicit memory index (flags 2).
	data := module(
		section(wasm.SectionMemory, 0x01, 0x00, 0x01),
		section(wasm.SectionData, 0x01, 0x02, 0x00, 0x41, 0x00, 0x0B, 0x02, 0x01, 0x02),
	)
	m, err := wasm.ParseModule(data)
	require.NoError(t, err)
	require.Len(t, m.Data, 1)
	assert.Equal(t, wasm.DataModeActive, m.Data[0].Mode)
	assert.Equal(t, []byte{0x41, 0x00, 0x0B}, m.Data[0].Offset)
	assert.Equal(t, []byte{0x01, 0x02}, m.Data[0].Init)

	// Active segment into a missing memory.
	noMem := module(
		section(wasm.SectionData, 0x01, 0x00, 0x41, 0x00, 0x0B, 0x00),
	)
	_, err = wasm.ParseModule(noMem)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindInvalidMemoryIndex})

	// Unknown flags value.
	badTag := module(
		section(wasm.SectionData, 0x01, 0x03, 0x00),
	)
	_, err = wasm.ParseModule(badTag)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseParse, Kind: werr.KindInvalidDataTag})
}

func TestImportSection(t *testing.T) {
	// Unknown import kind.
	bad := module(
		section(wasm.SectionImport, 0x01, 0x01, 'm', 0x01, 'n', 0x07, 0x00),
	)
	_, err := wasm.ParseModule(bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseParse, Kind: werr.KindInvalidExternTag})

	// Function import referencing a missing type.
	missing := module(
		section(wasm.SectionImport, 0x01, 0x01, 'm', 0x01, 'n', 0x00, 0x03),
	)
	_, err = wasm.ParseModule(missing)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindInvalidTypeIndex})

	// Invalid UTF-8 in an import name.
	utf8bad := module(
		section(wasm.SectionImport, 0x01, 0x02, 0xFF, 0xFE, 0x01, 'n', 0x00, 0x00),
	)
	_, err = wasm.ParseModule(utf8bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseParse, Kind: werr.KindInvalidUTF8})
}

func TestLocalsOverflow(t *testing.T) {
	// Two locals groups of 2^31 entries each overflow the 32-bit counter.
	bad := module(
		section(wasm.SectionType, 0x01, 0x60, 0x00, 0x00),
		section(wasm.SectionFunction, 0x01, 0x00),
		section(wasm.SectionCode, 0x01,
			0x0C, 0x02,
			0x80, 0x80, 0x80, 0x80, 0x08, 0x7F, // 2^31 i32 locals
			0x80, 0x80, 0x80, 0x80, 0x08, 0x7F, // 2^31 more
			0x0B,
		),
	)
	_, err := wasm.ParseModule(bad)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseParse, Kind: werr.KindLocalsCountOverflow})
}

func TestPushAfterFatalError(t *testing.T) {
	p := wasm.NewParser()
	err := p.Push([]byte{0x00, 0x61, 0x73, 0x6E, 0x01, 0x00, 0x00, 0x00})
	require.Error(t, err)
	// The error is sticky.
	again := p.Push([]byte{0x00})
	assert.ErrorIs(t, again, err)

	_, ferr := p.Finish()
	assert.ErrorIs(t, ferr, err)
}

func TestFinishMidSection(t *testing.T) {
	p := wasm.NewParser()
	require.NoError(t, p.Push(identityModule[:len(identityModule)-2]))
	_, err := p.Finish()
	require.Error(t, err)
	assert.ErrorIs(t, err, werr.ErrUnexpectedEOF)
}

func TestParserWorkerOptions(t *testing.T) {
	for _, workers := range []int{1, 2, 8} {
		m, err := wasm.ParseModuleWith(fullModule(), wasm.WithWorkers(workers))
		require.NoError(t, err, "workers=%d", workers)
		assert.Len(t, m.Code, 2)
	}
}

func TestManyBodiesConcurrently(t *testing.T) {
	// 64 copies of the identity function keep the pool busy.
	const n = 64
	typeSec := section(wasm.SectionType, 0x01, 0x60, 0x01, 0x7F, 0x01, 0x7F)

	funcPayload := uleb(n)
	for i := 0; i < n; i++ {
		funcPayload = append(funcPayload, 0x00)
	}
	codePayload := uleb(n)
	for i := 0; i < n; i++ {
		codePayload = append(codePayload, 0x04, 0x00, 0x20, 0x00, 0x0B)
	}

	data := module(
		typeSec,
		section(wasm.SectionFunction, funcPayload...),
		section(wasm.SectionCode, codePayload...),
	)

	m, err := wasm.ParseModule(data)
	require.NoError(t, err)
	assert.Len(t, m.Code, n)

	// One bad body among many reports the failure.
	badCode := uleb(n)
	for i := 0; i < n; i++ {
		if i == n/2 {
			badCode = append(badCode, 0x04, 0x00, 0x42, 0x00, 0x0B) // i64.const 0
		} else {
			badCode = append(badCode, 0x04, 0x00, 0x20, 0x00, 0x0B)
		}
	}
	badData := module(
		typeSec,
		section(wasm.SectionFunction, funcPayload...),
		section(wasm.SectionCode, badCode...),
	)
	_, err = wasm.ParseModule(badData)
	require.Error(t, err)
	assert.ErrorIs(t, err, &werr.Error{Phase: werr.PhaseValidate, Kind: werr.KindUnexpectedType})
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := wasm.ParseModuleWith(fullModule(), wasm.WithContext(ctx))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
