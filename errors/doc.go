// Package errors provides structured errors for WebAssembly binary parsing
// and validation.
//
// Every error carries a Phase (read, parse, validate) and a Kind naming the
// specific failure. Errors with the same phase and kind match under
// errors.Is, so callers can test against the exported sentinels or against
// values built with the same constructors:
//
//	if errors.Is(err, wasmerrors.ErrUnexpectedEOF) {
//	    // need more input
//	}
//
// Read-phase errors come from byte-level decoding (EOF, LEB128 overflow).
// Parse-phase errors mean the bytes do not form a valid module structure.
// Validation-phase errors mean the structure is well-formed but ill-typed
// or inconsistent.
package errors
