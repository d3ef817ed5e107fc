// Package wasm provides streaming WebAssembly binary format parsing and
// validation.
//
// The parser consumes a module incrementally: callers feed chunks of any
// size and the parser suspends cleanly at chunk boundaries, even in the
// middle of a LEB128 integer. Parsing and validation are coupled; function
// bodies are type-checked by a pool of workers while later sections are
// still arriving, and constant expressions are validated in place as the
// sections holding them decode.
//
// # Supported Features
//
//	WebAssembly 2.0 core:
//	  - Core value types (i32, i64, f32, f64)
//	  - Functions, tables, memories, globals
//	  - Control flow, calls, local/global access
//	  - Memory and table operations
//	  - Import/export of all definitions
//
//	Proposals:
//	  - Sign extension operators
//	  - Non-trapping float-to-int conversions
//	  - Bulk memory (memory.copy, memory.fill, data.drop, ...)
//	  - Reference types (funcref, externref, ref.null, ref.func)
//	  - Multi-memory indexing in memory instructions
//
// The v128 value type is recognized but SIMD instructions are not; modules
// using the 0xFD opcode space are rejected. The module is validated, never
// executed.
//
// # Parsing
//
// Stream a module through a parser:
//
//	p := wasm.NewParser()
//	for chunk := range chunks {
//	    if err := p.Push(chunk); err != nil {
//	        return err
//	    }
//	}
//	module, err := p.Finish()
//
// Or parse a complete buffer in one call:
//
//	module, err := wasm.ParseModule(data)
//
// Any chunking of the same bytes produces the same result, down to a chunk
// size of one.
package wasm
