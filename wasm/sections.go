package wasm

import (
	werr "github.com/wippyai/wasm-stream/errors"
)

// Per-section decoders. Each runs only once its whole payload is buffered
// (the code section is the exception and lives in the state machine), so
// they are free to fail permanently: an EOF here means the payload lied
// about its size.

func (p *Parser) parseSection() error {
	switch p.sectionID {
	case SectionCustom:
		return p.parseCustomSection()
	case SectionType:
		return p.parseTypeSection()
	case SectionImport:
		return p.parseImportSection()
	case SectionFunction:
		return p.parseFunctionSection()
	case SectionTable:
		return p.parseTableSection()
	case SectionMemory:
		return p.parseMemorySection()
	case SectionGlobal:
		return p.parseGlobalSection()
	case SectionExport:
		return p.parseExportSection()
	case SectionStart:
		return p.parseStartSection()
	case SectionElement:
		return p.parseElementSection()
	case SectionData:
		return p.parseDataSection()
	case SectionDataCount:
		return p.parseDataCountSection()
	}
	return nil
}

func (p *Parser) parseCustomSection() error {
	name, err := readName(p.cur)
	if err != nil {
		return err
	}
	rest, err := p.cur.ReadBytes(p.sectionEnd - p.cur.Pos())
	if err != nil {
		return err
	}
	p.mod.CustomSections = append(p.mod.CustomSections, CustomSection{
		Name: name,
		Data: rest,
	})
	return nil
}

func (p *Parser) parseTypeSection() error {
	count, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	p.mod.Types = make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		ft, err := readFuncType(p.cur)
		if err != nil {
			return err
		}
		p.mod.Types = append(p.mod.Types, ft)
	}
	return nil
}

func (p *Parser) parseImportSection() error {
	count, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	p.mod.Imports = make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Module, err = readName(p.cur); err != nil {
			return err
		}
		if imp.Name, err = readName(p.cur); err != nil {
			return err
		}
		off := p.cur.Pos()
		kind, err := p.cur.ReadByte()
		if err != nil {
			return err
		}
		imp.Desc.Kind = kind
		switch kind {
		case KindFunc:
			typeIdx, err := p.cur.ReadUint32()
			if err != nil {
				return err
			}
			if typeIdx >= uint32(len(p.mod.Types)) {
				return werr.Validate(werr.KindInvalidTypeIndex, "import %s.%s references type %d (have %d)", imp.Module, imp.Name, typeIdx, len(p.mod.Types))
			}
			imp.Desc.TypeIdx = typeIdx
		case KindTable:
			table, err := readTableType(p.cur)
			if err != nil {
				return err
			}
			if err := checkTableLimits(table.Limits); err != nil {
				return err
			}
			imp.Desc.Table = &table
		case KindMemory:
			lim, err := readLimits(p.cur)
			if err != nil {
				return err
			}
			if err := checkMemoryLimits(lim); err != nil {
				return err
			}
			imp.Desc.Memory = &MemoryType{Limits: lim}
		case KindGlobal:
			gt, err := readGlobalType(p.cur)
			if err != nil {
				return err
			}
			imp.Desc.Global = &gt
		default:
			return werr.Parse(werr.KindInvalidExternTag, int64(off), "0x%02x", kind)
		}
		p.mod.Imports = append(p.mod.Imports, imp)
	}
	// The tally feeds every later index-space computation; compute it once
	// now that the section is final.
	p.mod.sealImports()
	return nil
}

func (p *Parser) parseFunctionSection() error {
	count, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	p.mod.Funcs = make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		typeIdx, err := p.cur.ReadUint32()
		if err != nil {
			return err
		}
		if typeIdx >= uint32(len(p.mod.Types)) {
			return werr.Validate(werr.KindInvalidTypeIndex, "function %d references type %d (have %d)", i, typeIdx, len(p.mod.Types))
		}
		p.mod.Funcs = append(p.mod.Funcs, typeIdx)
	}
	return nil
}

func (p *Parser) parseTableSection() error {
	count, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	p.mod.Tables = make([]TableType, 0, count)
	for i := uint32(0); i < count; i++ {
		table, err := readTableType(p.cur)
		if err != nil {
			return err
		}
		if err := checkTableLimits(table.Limits); err != nil {
			return err
		}
		p.mod.Tables = append(p.mod.Tables, table)
	}
	return nil
}

func (p *Parser) parseMemorySection() error {
	count, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	p.mod.Memories = make([]MemoryType, 0, count)
	for i := uint32(0); i < count; i++ {
		lim, err := readLimits(p.cur)
		if err != nil {
			return err
		}
		if err := checkMemoryLimits(lim); err != nil {
			return err
		}
		p.mod.Memories = append(p.mod.Memories, MemoryType{Limits: lim})
	}
	return nil
}

func (p *Parser) parseGlobalSection() error {
	count, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	p.mod.Globals = make([]Global, 0, count)
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(p.cur)
		if err != nil {
			return err
		}
		init, err := p.readConstExpr(gt.ValType)
		if err != nil {
			return err
		}
		p.mod.Globals = append(p.mod.Globals, Global{Type: gt, Init: init})
	}
	return nil
}

func (p *Parser) parseExportSection() error {
	count, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, count)
	p.mod.Exports = make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := readName(p.cur)
		if err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return werr.Validate(werr.KindDuplicateExport, "%q", name)
		}
		seen[name] = struct{}{}

		off := p.cur.Pos()
		kind, err := p.cur.ReadByte()
		if err != nil {
			return err
		}
		idx, err := p.cur.ReadUint32()
		if err != nil {
			return err
		}
		switch kind {
		case KindFunc:
			if p.mod.FuncTypeAt(idx) == nil {
				return werr.Validate(werr.KindInvalidFunctionIndex, "export %q references function %d", name, idx)
			}
			// Exported functions become referenceable by ref.func.
			p.mod.declareFunc(idx)
		case KindTable:
			if idx >= p.mod.NumTables() {
				return werr.Validate(werr.KindInvalidTableIndex, "export %q references table %d", name, idx)
			}
		case KindMemory:
			if idx >= p.mod.NumMemories() {
				return werr.Validate(werr.KindInvalidMemoryIndex, "export %q references memory %d", name, idx)
			}
		case KindGlobal:
			if idx >= p.mod.NumGlobals() {
				return werr.Validate(werr.KindInvalidGlobalIndex, "export %q references global %d", name, idx)
			}
		default:
			return werr.Parse(werr.KindInvalidExternTag, int64(off), "0x%02x", kind)
		}
		p.mod.Exports = append(p.mod.Exports, Export{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func (p *Parser) parseStartSection() error {
	idx, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	ft := p.mod.FuncTypeAt(idx)
	if ft == nil {
		return werr.Validate(werr.KindInvalidFunctionIndex, "start function %d", idx)
	}
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return werr.Validate(werr.KindInvalidStart, "start function must have signature [] -> [], got [%d params] -> [%d results]", len(ft.Params), len(ft.Results))
	}
	p.mod.Start = &idx
	return nil
}

// parseElementSection decodes element segments. The three low bits of the
// flags word select the mode and payload encoding:
//   - 0: active, table 0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableidx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4: active, table 0, offset expr, vec(expr)
//   - 5: passive, reftype, vec(expr)
//   - 6: active, tableidx, offset expr, reftype, vec(expr)
//   - 7: declarative, reftype, vec(expr)
func (p *Parser) parseElementSection() error {
	count, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	p.mod.Elements = make([]Element, 0, count)
	for i := uint32(0); i < count; i++ {
		off := p.cur.Pos()
		flags, err := p.cur.ReadUint32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return werr.Parse(werr.KindInvalidElementTag, int64(off), "flags %d", flags)
		}

		elem := Element{Type: ValFuncRef}
		switch {
		case flags&0x01 == 0:
			elem.Mode = ElemModeActive
		case flags&0x02 == 0:
			elem.Mode = ElemModePassive
		default:
			elem.Mode = ElemModeDeclarative
		}

		if elem.Mode == ElemModeActive {
			if flags&0x02 != 0 {
				if elem.TableIdx, err = p.cur.ReadUint32(); err != nil {
					return err
				}
			}
			if elem.Offset, err = p.readConstExpr(ValI32); err != nil {
				return err
			}
		}

		// Flags 1-3 carry an element kind byte, 5-7 a reference type.
		if flags&0x03 != 0 {
			tagOff := p.cur.Pos()
			if flags&0x04 == 0 {
				kind, err := p.cur.ReadByte()
				if err != nil {
					return err
				}
				if kind != 0x00 {
					return werr.Parse(werr.KindInvalidElementTag, int64(tagOff), "element kind 0x%02x", kind)
				}
			} else {
				if elem.Type, err = readRefType(p.cur); err != nil {
					return err
				}
			}
		}

		n, err := p.cur.ReadUint32()
		if err != nil {
			return err
		}
		if flags&0x04 == 0 {
			elem.FuncIdxs = make([]uint32, n)
			for j := range elem.FuncIdxs {
				funcIdx, err := p.cur.ReadUint32()
				if err != nil {
					return err
				}
				if p.mod.FuncTypeAt(funcIdx) == nil {
					return werr.Validate(werr.KindInvalidFunctionIndex, "element %d entry %d references function %d", i, j, funcIdx)
				}
				p.mod.declareFunc(funcIdx)
				elem.FuncIdxs[j] = funcIdx
			}
		} else {
			elem.Exprs = make([][]byte, n)
			for j := range elem.Exprs {
				expr, err := p.readConstExpr(elem.Type)
				if err != nil {
					return err
				}
				elem.Exprs[j] = expr
			}
		}

		if elem.Mode == ElemModeActive {
			table := p.mod.TableAt(elem.TableIdx)
			if table == nil {
				return werr.Validate(werr.KindInvalidTableIndex, "element %d references table %d", i, elem.TableIdx)
			}
			if table.ElemType != elem.Type {
				return werr.Validate(werr.KindTableTypeMismatch, "element %s, table %s", elem.Type, table.ElemType)
			}
		}

		p.mod.Elements = append(p.mod.Elements, elem)
	}
	return nil
}

// parseDataSection decodes data segments. Flags 0 and 2 are active (memory
// 0 implied or explicit), 1 is passive.
func (p *Parser) parseDataSection() error {
	count, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	if p.mod.DataCount != nil && count != *p.mod.DataCount {
		return werr.Validate(werr.KindDataCountMismatch, "data count section declares %d segments, data section has %d", *p.mod.DataCount, count)
	}
	p.mod.Data = make([]DataSegment, 0, count)
	for i := uint32(0); i < count; i++ {
		off := p.cur.Pos()
		flags, err := p.cur.ReadUint32()
		if err != nil {
			return err
		}
		var seg DataSegment
		switch flags {
		case 0x00:
			seg.Mode = DataModeActive
		case 0x01:
			seg.Mode = DataModePassive
		case 0x02:
			seg.Mode = DataModeActive
			if seg.MemIdx, err = p.cur.ReadUint32(); err != nil {
				return err
			}
		default:
			return werr.Parse(werr.KindInvalidDataTag, int64(off), "flags %d", flags)
		}
		if seg.Mode == DataModeActive {
			if p.mod.MemoryAt(seg.MemIdx) == nil {
				return werr.Validate(werr.KindInvalidMemoryIndex, "data segment %d references memory %d", i, seg.MemIdx)
			}
			if seg.Offset, err = p.readConstExpr(ValI32); err != nil {
				return err
			}
		}
		size, err := p.cur.ReadUint32()
		if err != nil {
			return err
		}
		if seg.Init, err = p.cur.ReadBytes(int(size)); err != nil {
			return err
		}
		p.mod.Data = append(p.mod.Data, seg)
	}
	return nil
}

func (p *Parser) parseDataCountSection() error {
	count, err := p.cur.ReadUint32()
	if err != nil {
		return err
	}
	p.mod.DataCount = &count
	return nil
}

// checkTableLimits enforces min <= max. The table bound of 2^32-1 entries
// is the range of the encoding itself.
func checkTableLimits(lim Limits) error {
	if lim.Max != nil && lim.Min > *lim.Max {
		return werr.Validate(werr.KindInvalidLimits, "table min %d exceeds max %d", lim.Min, *lim.Max)
	}
	return nil
}

// checkMemoryLimits enforces min <= max and the 2^16 page bound.
func checkMemoryLimits(lim Limits) error {
	if lim.Max != nil && lim.Min > *lim.Max {
		return werr.Validate(werr.KindInvalidLimits, "memory min %d exceeds max %d", lim.Min, *lim.Max)
	}
	if lim.Min > MemoryMaxPages {
		return werr.Validate(werr.KindInvalidLimits, "memory min %d pages exceeds %d", lim.Min, MemoryMaxPages)
	}
	if lim.Max != nil && *lim.Max > MemoryMaxPages {
		return werr.Validate(werr.KindInvalidLimits, "memory max %d pages exceeds %d", *lim.Max, MemoryMaxPages)
	}
	return nil
}
