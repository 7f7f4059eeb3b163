// Package protocol implements the session/admin wire codec: a fixed
// big-endian header followed by a typed, fixed-width payload. Layout is
// grounded on original_source/common/protocol.h so the wire format matches
// the historical C implementation this service was distilled from.
package protocol

// MessageType is the wire message type. Clients use 1-99, responses
// 100-199, admin 200-255.
type MessageType uint16

const (
	MsgInvalid MessageType = 0

	// Client messages.
	MsgHello            MessageType = 1
	MsgFileUploadStart  MessageType = 2
	MsgFileUploadChunk  MessageType = 3
	MsgFileUploadEnd    MessageType = 4
	MsgCompileRequest   MessageType = 5
	MsgStatusRequest    MessageType = 6
	MsgResultRequest    MessageType = 7
	MsgPing             MessageType = 8

	// Server responses.
	MsgAck             MessageType = 100
	MsgNack            MessageType = 101
	MsgError           MessageType = 102
	MsgCompileResponse MessageType = 103
	MsgStatusResponse  MessageType = 104
	MsgResultResponse  MessageType = 105
	MsgPong            MessageType = 106

	// Admin messages.
	MsgAdminConnect          MessageType = 200
	MsgAdminDisconnect       MessageType = 201
	MsgAdminListClients      MessageType = 202
	MsgAdminListJobs         MessageType = 203
	MsgAdminServerStats      MessageType = 204
	MsgAdminDisconnectClient MessageType = 205
	MsgAdminKillJob          MessageType = 206
	MsgAdminServerShutdown   MessageType = 207
	MsgAdminConfigGet        MessageType = 208
	MsgAdminConfigSet        MessageType = 209
	MsgAdminBulkDisconnect   MessageType = 210
)

// IsKnown reports whether t is a recognized message type.
func (t MessageType) IsKnown() bool {
	switch t {
	case MsgHello, MsgFileUploadStart, MsgFileUploadChunk, MsgFileUploadEnd,
		MsgCompileRequest, MsgStatusRequest, MsgResultRequest, MsgPing,
		MsgAck, MsgNack, MsgError, MsgCompileResponse, MsgStatusResponse,
		MsgResultResponse, MsgPong,
		MsgAdminConnect, MsgAdminDisconnect, MsgAdminListClients,
		MsgAdminListJobs, MsgAdminServerStats, MsgAdminDisconnectClient,
		MsgAdminKillJob, MsgAdminServerShutdown, MsgAdminConfigGet,
		MsgAdminConfigSet, MsgAdminBulkDisconnect:
		return true
	}
	return false
}

// Flag bits. All are reserved/unused in v1: ignored on receive, zero on send.
type Flags uint16

const (
	FlagCompressed Flags = 1 << 0
	FlagEncrypted  Flags = 1 << 1
	FlagUrgent     Flags = 1 << 2
	FlagPartial    Flags = 1 << 3
)

// Language identifies a supported source language.
type Language uint16

const (
	LanguageUnknown Language = iota
	LanguageC
	LanguageCPP
	LanguageJava
	LanguagePython
	LanguageJavaScript
	LanguageGo
	LanguageRust
)

func (l Language) String() string {
	switch l {
	case LanguageC:
		return "c"
	case LanguageCPP:
		return "cpp"
	case LanguageJava:
		return "java"
	case LanguagePython:
		return "python"
	case LanguageJavaScript:
		return "javascript"
	case LanguageGo:
		return "go"
	case LanguageRust:
		return "rust"
	default:
		return "unknown"
	}
}

// ExecutionMode selects what the queue/executor does with a submitted job.
type ExecutionMode uint16

const (
	ModeCompileOnly ExecutionMode = iota
	ModeCompileAndRun
	ModeInterpretOnly
	ModeSyntaxCheck
)

// JobStatus is the wire projection of a job's state machine state. Values
// match original_source/common/protocol.h's job_status_t exactly, including
// the Compiling sub-state the distilled spec's Running collapses (queue.Job
// stores this same enum, and the supervisor sets Compiling before a job's
// compile phase, so status responses report it distinctly).
type JobStatus uint16

const (
	JobStatusQueued JobStatus = iota
	JobStatusCompiling
	JobStatusRunning
	JobStatusCompleted
	JobStatusFailed
	JobStatusCancelled
	JobStatusTimeout
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusQueued:
		return "queued"
	case JobStatusCompiling:
		return "compiling"
	case JobStatusRunning:
		return "running"
	case JobStatusCompleted:
		return "completed"
	case JobStatusFailed:
		return "failed"
	case JobStatusCancelled:
		return "cancelled"
	case JobStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether s never transitions again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimeout:
		return true
	}
	return false
}

// ErrorCode is the wire projection of pkg/apperrors.Code. Numeric values
// match original_source/common/protocol.h's error_code_t exactly (note
// Internal sorts before Timeout on the wire, unlike this module's Go-side
// apperrors.Code iota ordering).
type ErrorCode uint32

const (
	ErrNone ErrorCode = iota
	ErrInvalidArgument
	ErrPermission
	ErrNotFound
	ErrQuotaExceeded
	ErrMemoryAllocation
	ErrInternal
	ErrTimeout
	ErrCompilation
	ErrExecution
	ErrNetwork
	ErrFileIo
	ErrUnsupportedLanguage
)

// errorCodeFromApp maps an apperrors.Code to its wire ErrorCode. Kept here
// rather than in pkg/apperrors so the wire layout stays local to protocol.
var errorCodeFromApp = map[int]ErrorCode{
	0:  ErrNone,
	1:  ErrInvalidArgument,
	2:  ErrPermission,
	3:  ErrNotFound,
	4:  ErrQuotaExceeded,
	5:  ErrMemoryAllocation,
	6:  ErrTimeout,
	7:  ErrCompilation,
	8:  ErrExecution,
	9:  ErrNetwork,
	10: ErrFileIo,
	11: ErrUnsupportedLanguage,
	12: ErrInternal,
}

// ErrorCodeFromAppCode converts an apperrors.Code's integer value to its
// wire ErrorCode.
func ErrorCodeFromAppCode(code int) ErrorCode {
	if ec, ok := errorCodeFromApp[code]; ok {
		return ec
	}
	return ErrInternal
}
