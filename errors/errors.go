package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseRead     Phase = "read"     // byte-level decoding
	PhaseParse    Phase = "parse"    // binary structure decoding
	PhaseValidate Phase = "validate" // structural and type checking
)

// Kind categorizes the error
type Kind string

// Read errors: raw byte consumption and integer decoding.
const (
	KindUnexpectedEOF Kind = "unexpected_eof"
	KindLeb128Large   Kind = "leb128_too_large"
	KindLeb128Long    Kind = "leb128_too_long"
)

// Parse errors: bytes that do not form a valid module structure.
const (
	KindInvalidMagic        Kind = "invalid_magic"
	KindInvalidVersion      Kind = "invalid_version"
	KindInvalidSectionID    Kind = "invalid_section_id"
	KindSectionOrder        Kind = "section_order"
	KindSectionSize         Kind = "section_size"
	KindInvalidFuncTypeTag  Kind = "invalid_functype_tag"
	KindInvalidValueTypeTag Kind = "invalid_valuetype_tag"
	KindInvalidUTF8         Kind = "invalid_utf8"
	KindInvalidExternTag    Kind = "invalid_extern_tag"
	KindExpectedRefType     Kind = "expected_reference_type"
	KindInvalidLimitsFlag   Kind = "invalid_limits_flag"
	KindInvalidMutability   Kind = "invalid_mutability_flag"
	KindInvalidElementTag   Kind = "invalid_element_tag"
	KindInvalidDataTag      Kind = "invalid_data_tag"
	KindUnknownOpcode       Kind = "unknown_opcode"
	KindLocalsCountOverflow Kind = "locals_count_overflow"
)

// Validation errors: well-formed but ill-typed or structurally wrong.
const (
	KindInvalidLimits        Kind = "invalid_limits"
	KindInvalidFunctionIndex Kind = "invalid_function_index"
	KindInvalidTableIndex    Kind = "invalid_table_index"
	KindInvalidMemoryIndex   Kind = "invalid_memory_index"
	KindInvalidGlobalIndex   Kind = "invalid_global_index"
	KindInvalidTypeIndex     Kind = "invalid_type_index"
	KindInvalidDataIndex     Kind = "invalid_data_index"
	KindInvalidElementIndex  Kind = "invalid_element_index"
	KindDataCountMismatch    Kind = "data_count_mismatch"
	KindCodeCountMismatch    Kind = "code_count_mismatch"
	KindStackHeight          Kind = "stack_height_mismatch"
	KindUnexpectedType       Kind = "unexpected_type"
	KindStackEmpty           Kind = "stack_empty"
	KindNoFramesLeft         Kind = "no_frames_left"
	KindInvalidSelectType    Kind = "invalid_select_type"
	KindHangingElse          Kind = "hanging_else"
	KindInvalidLabelIndex    Kind = "invalid_label_index"
	KindBrTableArity         Kind = "br_table_arity_mismatch"
	KindInvalidLocalIndex    Kind = "invalid_local_index"
	KindInvalidGlobalSet     Kind = "invalid_global_set"
	KindMissingDataCount     Kind = "missing_data_count"
	KindInvalidAlignment     Kind = "invalid_alignment"
	KindCanOnlyCallFuncref   Kind = "can_only_call_funcref"
	KindExpectedReference    Kind = "expected_reference"
	KindExpectedNonReference Kind = "expected_non_reference"
	KindTableTypeMismatch    Kind = "table_value_type_mismatch"
	KindInvalidInitExpr      Kind = "invalid_init_expr_instruction"
	KindDuplicateExport      Kind = "duplicate_export"
	KindInvalidStart         Kind = "invalid_start"
	KindUndeclaredFuncRef    Kind = "undeclared_func_ref"
)

// Error is the structured error type used throughout the parser and the
// validators.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Offset int64 // byte offset into the input, -1 when unknown
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset 0x%x", e.Offset)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two Errors match when their
// phase and kind agree, so sentinel values compare with errors.Is without
// regard to detail or offset.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is matching. ErrUnexpectedEOF doubles as the restart
// signal in the streaming parser: a transition failing with it is rewound
// and retried on the next push.
var (
	ErrUnexpectedEOF = &Error{Phase: PhaseRead, Kind: KindUnexpectedEOF, Offset: -1}
	ErrLeb128Large   = &Error{Phase: PhaseRead, Kind: KindLeb128Large, Offset: -1}
	ErrLeb128Long    = &Error{Phase: PhaseRead, Kind: KindLeb128Long, Offset: -1}
)

// Read creates a read-phase error at the given offset.
func Read(kind Kind, offset int64) *Error {
	return &Error{Phase: PhaseRead, Kind: kind, Offset: offset}
}

// Parse creates a parse-phase error at the given offset.
func Parse(kind Kind, offset int64, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{Phase: PhaseParse, Kind: kind, Offset: offset, Detail: detail}
}

// Validate creates a validation-phase error. Validation errors carry no
// offset because the worker pool reports them detached from cursor state.
func Validate(kind Kind, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{Phase: PhaseValidate, Kind: kind, Offset: -1, Detail: detail}
}

// Wrap attaches a cause to a phase/kind pair.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Offset: -1, Detail: detail, Cause: cause}
}

// UnknownOpcode creates a parse error for an unrecognized instruction byte.
// ext is the 0xFC-family sub-opcode, or negative when absent.
func UnknownOpcode(offset int64, b byte, ext int64) *Error {
	detail := fmt.Sprintf("opcode 0x%02x", b)
	if ext >= 0 {
		detail = fmt.Sprintf("opcode 0x%02x 0x%02x", b, ext)
	}
	return &Error{Phase: PhaseParse, Kind: KindUnknownOpcode, Offset: offset, Detail: detail}
}
