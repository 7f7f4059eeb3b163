package apperrors

// Code identifies one of the wire-protocol error kinds from the service's
// error taxonomy. Every Code has a stable numeric value, which
// protocol.ErrorCodeFromAppCode maps onto the error_code field of a
// MSG_ERROR payload.
type Code int

const (
	// Success is not itself an error; it exists so GetCode(nil) has a
	// meaningful zero-ish value distinct from every real error kind.
	Success Code = iota

	InvalidArgument
	Permission
	NotFound
	QuotaExceeded
	MemoryAllocation
	Timeout
	Compilation
	Execution
	Network
	FileIo
	UnsupportedLanguage
	Internal
)

var codeNames = map[Code]string{
	Success:             "success",
	InvalidArgument:     "invalid_argument",
	Permission:          "permission",
	NotFound:            "not_found",
	QuotaExceeded:       "quota_exceeded",
	MemoryAllocation:    "memory_allocation",
	Timeout:             "timeout",
	Compilation:         "compilation",
	Execution:           "execution",
	Network:             "network",
	FileIo:              "file_io",
	UnsupportedLanguage: "unsupported_language",
	Internal:            "internal",
}

// String returns the taxonomy name for the code, used both in log fields
// and as the default error message when none is supplied.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}
