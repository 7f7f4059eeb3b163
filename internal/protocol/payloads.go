package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Fixed field widths, from original_source/common/protocol.h.
const (
	clientNameWidth     = 64
	clientPlatformWidth = 32
	filenameWidth       = 256
	commandWidth        = 1024
	errorMessageWidth   = 4096
	errorContextWidth   = 256
	statusMessageWidth  = 256
	adminCommandWidth   = 512
)

// putFixedString writes s into dst (which must be exactly its target width)
// NUL-padded, matching the C struct's char[N] fields; a string longer than
// dst is rejected with an error rather than truncated.
func putFixedString(dst []byte, s string) error {
	b := []byte(s)
	if len(b) > len(dst) {
		return fmt.Errorf("protocol: string of %d bytes exceeds fixed field width %d", len(b), len(dst))
	}
	n := copy(dst, b)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// getFixedString reads a NUL-padded fixed-width field back into a string,
// stopping at the first NUL byte.
func getFixedString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

// HelloPayload is the client/server handshake message (MsgHello).
type HelloPayload struct {
	ClientVersionMajor uint16
	ClientVersionMinor uint16
	ClientVersionPatch uint16
	Capabilities       uint16
	ClientName         string
	ClientPlatform     string
}

const helloPayloadSize = 2 + 2 + 2 + 2 + clientNameWidth + clientPlatformWidth

func (p HelloPayload) Marshal() ([]byte, error) {
	buf := make([]byte, helloPayloadSize)
	binary.BigEndian.PutUint16(buf[0:2], p.ClientVersionMajor)
	binary.BigEndian.PutUint16(buf[2:4], p.ClientVersionMinor)
	binary.BigEndian.PutUint16(buf[4:6], p.ClientVersionPatch)
	binary.BigEndian.PutUint16(buf[6:8], p.Capabilities)
	if err := putFixedString(buf[8:8+clientNameWidth], p.ClientName); err != nil {
		return nil, err
	}
	off := 8 + clientNameWidth
	if err := putFixedString(buf[off:off+clientPlatformWidth], p.ClientPlatform); err != nil {
		return nil, err
	}
	return buf, nil
}

func UnmarshalHello(buf []byte) (HelloPayload, error) {
	if len(buf) < helloPayloadSize {
		return HelloPayload{}, ErrTruncated
	}
	off := 8 + clientNameWidth
	return HelloPayload{
		ClientVersionMajor: binary.BigEndian.Uint16(buf[0:2]),
		ClientVersionMinor: binary.BigEndian.Uint16(buf[2:4]),
		ClientVersionPatch: binary.BigEndian.Uint16(buf[4:6]),
		Capabilities:       binary.BigEndian.Uint16(buf[6:8]),
		ClientName:         getFixedString(buf[8 : 8+clientNameWidth]),
		ClientPlatform:     getFixedString(buf[off : off+clientPlatformWidth]),
	}, nil
}

// FileUploadStartPayload announces an incoming upload (MsgFileUploadStart).
type FileUploadStartPayload struct {
	FileSize     uint64
	ChunkCount   uint32
	ChunkSize    uint32
	Filename     string
	FileChecksum uint32
}

const fileUploadStartSize = 8 + 4 + 4 + filenameWidth + 4

func (p FileUploadStartPayload) Marshal() ([]byte, error) {
	buf := make([]byte, fileUploadStartSize)
	binary.BigEndian.PutUint64(buf[0:8], p.FileSize)
	binary.BigEndian.PutUint32(buf[8:12], p.ChunkCount)
	binary.BigEndian.PutUint32(buf[12:16], p.ChunkSize)
	if err := putFixedString(buf[16:16+filenameWidth], p.Filename); err != nil {
		return nil, err
	}
	off := 16 + filenameWidth
	binary.BigEndian.PutUint32(buf[off:off+4], p.FileChecksum)
	return buf, nil
}

func UnmarshalFileUploadStart(buf []byte) (FileUploadStartPayload, error) {
	if len(buf) < fileUploadStartSize {
		return FileUploadStartPayload{}, ErrTruncated
	}
	off := 16 + filenameWidth
	return FileUploadStartPayload{
		FileSize:     binary.BigEndian.Uint64(buf[0:8]),
		ChunkCount:   binary.BigEndian.Uint32(buf[8:12]),
		ChunkSize:    binary.BigEndian.Uint32(buf[12:16]),
		Filename:     getFixedString(buf[16 : 16+filenameWidth]),
		FileChecksum: binary.BigEndian.Uint32(buf[off : off+4]),
	}, nil
}

// FileChunkHeader precedes variable-length chunk bytes in a
// MsgFileUploadChunk payload; the chunk data itself follows the header
// in-place in the message body (matching the original's trailing
// "chunk data follows" comment).
type FileChunkHeader struct {
	ChunkID       uint32
	ChunkSize     uint32
	ChunkChecksum uint32
}

const fileChunkHeaderSize = 4 + 4 + 4

func (h FileChunkHeader) Marshal() []byte {
	buf := make([]byte, fileChunkHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.ChunkID)
	binary.BigEndian.PutUint32(buf[4:8], h.ChunkSize)
	binary.BigEndian.PutUint32(buf[8:12], h.ChunkChecksum)
	return buf
}

// UnmarshalFileChunk splits a MsgFileUploadChunk payload into its fixed
// header and the trailing chunk bytes.
func UnmarshalFileChunk(buf []byte) (FileChunkHeader, []byte, error) {
	if len(buf) < fileChunkHeaderSize {
		return FileChunkHeader{}, nil, ErrTruncated
	}
	h := FileChunkHeader{
		ChunkID:       binary.BigEndian.Uint32(buf[0:4]),
		ChunkSize:     binary.BigEndian.Uint32(buf[4:8]),
		ChunkChecksum: binary.BigEndian.Uint32(buf[8:12]),
	}
	data := buf[fileChunkHeaderSize:]
	if uint32(len(data)) < h.ChunkSize {
		return FileChunkHeader{}, nil, ErrTruncated
	}
	return h, data[:h.ChunkSize], nil
}

// FileUploadEndPayload closes an upload (MsgFileUploadEnd). The original
// carries no fields beyond the header's correlation id; this module keeps
// the empty payload but names the type for symmetry with the other
// upload-lifecycle messages.
type FileUploadEndPayload struct{}

func (FileUploadEndPayload) Marshal() ([]byte, error) { return nil, nil }

// CompileRequestPayload submits a job (MsgCompileRequest).
type CompileRequestPayload struct {
	Language      Language
	Mode          ExecutionMode
	Flags         uint16
	Priority      uint16
	Filename      string
	CompilerArgs  string
	ExecutionArgs string
}

const compileRequestSize = 2 + 2 + 2 + 2 + filenameWidth + commandWidth + commandWidth

func (p CompileRequestPayload) Marshal() ([]byte, error) {
	buf := make([]byte, compileRequestSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(p.Language))
	binary.BigEndian.PutUint16(buf[2:4], uint16(p.Mode))
	binary.BigEndian.PutUint16(buf[4:6], p.Flags)
	binary.BigEndian.PutUint16(buf[6:8], p.Priority)
	off := 8
	if err := putFixedString(buf[off:off+filenameWidth], p.Filename); err != nil {
		return nil, err
	}
	off += filenameWidth
	if err := putFixedString(buf[off:off+commandWidth], p.CompilerArgs); err != nil {
		return nil, err
	}
	off += commandWidth
	if err := putFixedString(buf[off:off+commandWidth], p.ExecutionArgs); err != nil {
		return nil, err
	}
	return buf, nil
}

func UnmarshalCompileRequest(buf []byte) (CompileRequestPayload, error) {
	if len(buf) < compileRequestSize {
		return CompileRequestPayload{}, ErrTruncated
	}
	off := 8
	filename := getFixedString(buf[off : off+filenameWidth])
	off += filenameWidth
	compilerArgs := getFixedString(buf[off : off+commandWidth])
	off += commandWidth
	executionArgs := getFixedString(buf[off : off+commandWidth])
	return CompileRequestPayload{
		Language:      Language(binary.BigEndian.Uint16(buf[0:2])),
		Mode:          ExecutionMode(binary.BigEndian.Uint16(buf[2:4])),
		Flags:         binary.BigEndian.Uint16(buf[4:6]),
		Priority:      binary.BigEndian.Uint16(buf[6:8]),
		Filename:      filename,
		CompilerArgs:  compilerArgs,
		ExecutionArgs: executionArgs,
	}, nil
}

// CompileResponsePayload reports a completed job (MsgCompileResponse).
type CompileResponsePayload struct {
	JobID           uint32
	Status          JobStatus
	ExitCode        int32
	OutputSize      uint32
	ErrorSize       uint32
	ExecutionTimeMs uint32
}

const compileResponseSize = 4 + 2 + 2 + 4 + 4 + 4 + 4

func (p CompileResponsePayload) Marshal() ([]byte, error) {
	buf := make([]byte, compileResponseSize)
	binary.BigEndian.PutUint32(buf[0:4], p.JobID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(p.Status))
	binary.BigEndian.PutUint16(buf[6:8], 0) // reserved
	binary.BigEndian.PutUint32(buf[8:12], uint32(p.ExitCode))
	binary.BigEndian.PutUint32(buf[12:16], p.OutputSize)
	binary.BigEndian.PutUint32(buf[16:20], p.ErrorSize)
	binary.BigEndian.PutUint32(buf[20:24], p.ExecutionTimeMs)
	return buf, nil
}

func UnmarshalCompileResponse(buf []byte) (CompileResponsePayload, error) {
	if len(buf) < compileResponseSize {
		return CompileResponsePayload{}, ErrTruncated
	}
	return CompileResponsePayload{
		JobID:           binary.BigEndian.Uint32(buf[0:4]),
		Status:          JobStatus(binary.BigEndian.Uint16(buf[4:6])),
		ExitCode:        int32(binary.BigEndian.Uint32(buf[8:12])),
		OutputSize:      binary.BigEndian.Uint32(buf[12:16]),
		ErrorSize:       binary.BigEndian.Uint32(buf[16:20]),
		ExecutionTimeMs: binary.BigEndian.Uint32(buf[20:24]),
	}, nil
}

// StatusRequestPayload asks for a job's current state (MsgStatusRequest).
type StatusRequestPayload struct {
	JobID uint32
}

func (p StatusRequestPayload) Marshal() ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, p.JobID)
	return buf, nil
}

func UnmarshalStatusRequest(buf []byte) (StatusRequestPayload, error) {
	if len(buf) < 4 {
		return StatusRequestPayload{}, ErrTruncated
	}
	return StatusRequestPayload{JobID: binary.BigEndian.Uint32(buf[0:4])}, nil
}

// JobStatusPayload answers a status request or is pushed unsolicited
// (MsgStatusResponse).
type JobStatusPayload struct {
	JobID         uint32
	Status        JobStatus
	Progress      uint16
	StartTimeUnix int64
	EndTimeUnix   int64
	PID           int32
	StatusMessage string
}

const jobStatusPayloadSize = 4 + 2 + 2 + 8 + 8 + 4 + statusMessageWidth

func (p JobStatusPayload) Marshal() ([]byte, error) {
	buf := make([]byte, jobStatusPayloadSize)
	binary.BigEndian.PutUint32(buf[0:4], p.JobID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(p.Status))
	binary.BigEndian.PutUint16(buf[6:8], p.Progress)
	binary.BigEndian.PutUint64(buf[8:16], uint64(p.StartTimeUnix))
	binary.BigEndian.PutUint64(buf[16:24], uint64(p.EndTimeUnix))
	binary.BigEndian.PutUint32(buf[24:28], uint32(p.PID))
	if err := putFixedString(buf[28:28+statusMessageWidth], p.StatusMessage); err != nil {
		return nil, err
	}
	return buf, nil
}

func UnmarshalJobStatus(buf []byte) (JobStatusPayload, error) {
	if len(buf) < jobStatusPayloadSize {
		return JobStatusPayload{}, ErrTruncated
	}
	return JobStatusPayload{
		JobID:         binary.BigEndian.Uint32(buf[0:4]),
		Status:        JobStatus(binary.BigEndian.Uint16(buf[4:6])),
		Progress:      binary.BigEndian.Uint16(buf[6:8]),
		StartTimeUnix: int64(binary.BigEndian.Uint64(buf[8:16])),
		EndTimeUnix:   int64(binary.BigEndian.Uint64(buf[16:24])),
		PID:           int32(binary.BigEndian.Uint32(buf[24:28])),
		StatusMessage: getFixedString(buf[28 : 28+statusMessageWidth]),
	}, nil
}

// ResultRequestPayload asks for a completed job's output (MsgResultRequest).
type ResultRequestPayload struct {
	JobID uint32
}

func (p ResultRequestPayload) Marshal() ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, p.JobID)
	return buf, nil
}

func UnmarshalResultRequest(buf []byte) (ResultRequestPayload, error) {
	if len(buf) < 4 {
		return ResultRequestPayload{}, ErrTruncated
	}
	return ResultRequestPayload{JobID: binary.BigEndian.Uint32(buf[0:4])}, nil
}

// ResultResponsePayload answers a result request (MsgResultResponse) with
// both the compile_response_t summary handle_result_request sends
// (exit_code/status/sizes/time) and the raw stdout/stderr bytes as an
// enrichment the original never carried on this message. The fixed header
// mirrors CompileResponsePayload's layout; stdout then stderr follow as
// trailing variable-length data sized by OutputSize/ErrorSize.
type ResultResponsePayload struct {
	JobID           uint32
	Status          JobStatus
	ExitCode        int32
	OutputSize      uint32
	ErrorSize       uint32
	ExecutionTimeMs uint32
	Stdout          []byte
	Stderr          []byte
}

const resultResponseHeaderSize = 4 + 2 + 2 + 4 + 4 + 4 + 4

func (p ResultResponsePayload) Marshal() ([]byte, error) {
	buf := make([]byte, resultResponseHeaderSize+len(p.Stdout)+len(p.Stderr))
	binary.BigEndian.PutUint32(buf[0:4], p.JobID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(p.Status))
	binary.BigEndian.PutUint16(buf[6:8], 0) // reserved
	binary.BigEndian.PutUint32(buf[8:12], uint32(p.ExitCode))
	binary.BigEndian.PutUint32(buf[12:16], p.OutputSize)
	binary.BigEndian.PutUint32(buf[16:20], p.ErrorSize)
	binary.BigEndian.PutUint32(buf[20:24], p.ExecutionTimeMs)
	off := resultResponseHeaderSize
	off += copy(buf[off:], p.Stdout)
	copy(buf[off:], p.Stderr)
	return buf, nil
}

func UnmarshalResultResponse(buf []byte) (ResultResponsePayload, error) {
	if len(buf) < resultResponseHeaderSize {
		return ResultResponsePayload{}, ErrTruncated
	}
	p := ResultResponsePayload{
		JobID:           binary.BigEndian.Uint32(buf[0:4]),
		Status:          JobStatus(binary.BigEndian.Uint16(buf[4:6])),
		ExitCode:        int32(binary.BigEndian.Uint32(buf[8:12])),
		OutputSize:      binary.BigEndian.Uint32(buf[12:16]),
		ErrorSize:       binary.BigEndian.Uint32(buf[16:20]),
		ExecutionTimeMs: binary.BigEndian.Uint32(buf[20:24]),
	}
	need := resultResponseHeaderSize + int(p.OutputSize) + int(p.ErrorSize)
	if len(buf) < need {
		return ResultResponsePayload{}, ErrTruncated
	}
	off := resultResponseHeaderSize
	p.Stdout = buf[off : off+int(p.OutputSize)]
	p.Stderr = buf[off+int(p.OutputSize) : off+int(p.OutputSize)+int(p.ErrorSize)]
	return p, nil
}

// TextTablePayload wraps the formatted text tables MsgAdminListClients and
// MsgAdminListJobs answer with, per §4.A's "text-table responses" wording —
// admin_handler.c builds the same tables with snprintf into a fixed buffer;
// this module keeps the human-readable rendering but frees it from that
// buffer's size cap.
type TextTablePayload struct {
	Text string
}

func (p TextTablePayload) Marshal() ([]byte, error) {
	return []byte(p.Text), nil
}

func UnmarshalTextTable(buf []byte) (TextTablePayload, error) {
	return TextTablePayload{Text: string(buf)}, nil
}

// ErrorPayload accompanies MsgError and MsgNack.
type ErrorPayload struct {
	ErrorCode    ErrorCode
	ErrorLine    uint32
	ErrorMessage string
	ErrorContext string
}

const errorPayloadSize = 4 + 4 + errorMessageWidth + errorContextWidth

func (p ErrorPayload) Marshal() ([]byte, error) {
	buf := make([]byte, errorPayloadSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.ErrorCode))
	binary.BigEndian.PutUint32(buf[4:8], p.ErrorLine)
	off := 8
	if err := putFixedString(buf[off:off+errorMessageWidth], p.ErrorMessage); err != nil {
		return nil, err
	}
	off += errorMessageWidth
	if err := putFixedString(buf[off:off+errorContextWidth], p.ErrorContext); err != nil {
		return nil, err
	}
	return buf, nil
}

func UnmarshalError(buf []byte) (ErrorPayload, error) {
	if len(buf) < errorPayloadSize {
		return ErrorPayload{}, ErrTruncated
	}
	off := 8
	msg := getFixedString(buf[off : off+errorMessageWidth])
	off += errorMessageWidth
	ctx := getFixedString(buf[off : off+errorContextWidth])
	return ErrorPayload{
		ErrorCode:    ErrorCode(binary.BigEndian.Uint32(buf[0:4])),
		ErrorLine:    binary.BigEndian.Uint32(buf[4:8]),
		ErrorMessage: msg,
		ErrorContext: ctx,
	}, nil
}

// AdminCommandPayload is the generic admin control-plane envelope.
type AdminCommandPayload struct {
	CommandType uint16
	Flags       uint16
	TargetID    uint32
	CommandData string
}

const adminCommandSize = 2 + 2 + 4 + adminCommandWidth

func (p AdminCommandPayload) Marshal() ([]byte, error) {
	buf := make([]byte, adminCommandSize)
	binary.BigEndian.PutUint16(buf[0:2], p.CommandType)
	binary.BigEndian.PutUint16(buf[2:4], p.Flags)
	binary.BigEndian.PutUint32(buf[4:8], p.TargetID)
	if err := putFixedString(buf[8:8+adminCommandWidth], p.CommandData); err != nil {
		return nil, err
	}
	return buf, nil
}

func UnmarshalAdminCommand(buf []byte) (AdminCommandPayload, error) {
	if len(buf) < adminCommandSize {
		return AdminCommandPayload{}, ErrTruncated
	}
	return AdminCommandPayload{
		CommandType: binary.BigEndian.Uint16(buf[0:2]),
		Flags:       binary.BigEndian.Uint16(buf[2:4]),
		TargetID:    binary.BigEndian.Uint32(buf[4:8]),
		CommandData: getFixedString(buf[8 : 8+adminCommandWidth]),
	}, nil
}

// Admin command type constants, from original_source's ADMIN_CMD_* macros,
// plus BulkDisconnect (see SPEC_FULL.md's 4.Q supplement).
const (
	AdminCmdListClients      uint16 = 1
	AdminCmdListJobs         uint16 = 2
	AdminCmdServerStats      uint16 = 3
	AdminCmdDisconnectClient uint16 = 4
	AdminCmdKillJob          uint16 = 5
	AdminCmdServerShutdown   uint16 = 6
	AdminCmdConfigList       uint16 = 7
	AdminCmdConfigGet        uint16 = 8
	AdminCmdConfigSet        uint16 = 9
	AdminCmdBulkDisconnect   uint16 = 10
)

// ServerStatsPayload is the binary projection of §3's server statistics,
// sent in response to MsgAdminServerStats.
type ServerStatsPayload struct {
	StartTimeUnix      int64
	CurrentTimeUnix    int64
	TotalClients       uint32
	ActiveClients      uint32
	TotalJobs          uint32
	ActiveJobs         uint32
	CompletedJobs      uint32
	FailedJobs         uint32
	TotalBytesReceived uint64
	TotalBytesSent     uint64
	MemoryUsageKB      uint32
	CPUUsagePercent    float32
	AvgResponseTimeMs  float32
}

const serverStatsSize = 8 + 8 + 4*6 + 8 + 8 + 4 + 4 + 4

func (p ServerStatsPayload) Marshal() ([]byte, error) {
	buf := make([]byte, serverStatsSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(p.StartTimeUnix))
	binary.BigEndian.PutUint64(buf[8:16], uint64(p.CurrentTimeUnix))
	binary.BigEndian.PutUint32(buf[16:20], p.TotalClients)
	binary.BigEndian.PutUint32(buf[20:24], p.ActiveClients)
	binary.BigEndian.PutUint32(buf[24:28], p.TotalJobs)
	binary.BigEndian.PutUint32(buf[28:32], p.ActiveJobs)
	binary.BigEndian.PutUint32(buf[32:36], p.CompletedJobs)
	binary.BigEndian.PutUint32(buf[36:40], p.FailedJobs)
	binary.BigEndian.PutUint64(buf[40:48], p.TotalBytesReceived)
	binary.BigEndian.PutUint64(buf[48:56], p.TotalBytesSent)
	binary.BigEndian.PutUint32(buf[56:60], p.MemoryUsageKB)
	binary.BigEndian.PutUint32(buf[60:64], math.Float32bits(p.CPUUsagePercent))
	binary.BigEndian.PutUint32(buf[64:68], math.Float32bits(p.AvgResponseTimeMs))
	return buf, nil
}

func UnmarshalServerStats(buf []byte) (ServerStatsPayload, error) {
	if len(buf) < serverStatsSize {
		return ServerStatsPayload{}, ErrTruncated
	}
	return ServerStatsPayload{
		StartTimeUnix:      int64(binary.BigEndian.Uint64(buf[0:8])),
		CurrentTimeUnix:    int64(binary.BigEndian.Uint64(buf[8:16])),
		TotalClients:       binary.BigEndian.Uint32(buf[16:20]),
		ActiveClients:      binary.BigEndian.Uint32(buf[20:24]),
		TotalJobs:          binary.BigEndian.Uint32(buf[24:28]),
		ActiveJobs:         binary.BigEndian.Uint32(buf[28:32]),
		CompletedJobs:      binary.BigEndian.Uint32(buf[32:36]),
		FailedJobs:         binary.BigEndian.Uint32(buf[36:40]),
		TotalBytesReceived: binary.BigEndian.Uint64(buf[40:48]),
		TotalBytesSent:     binary.BigEndian.Uint64(buf[48:56]),
		MemoryUsageKB:      binary.BigEndian.Uint32(buf[56:60]),
		CPUUsagePercent:    math.Float32frombits(binary.BigEndian.Uint32(buf[60:64])),
		AvgResponseTimeMs:  math.Float32frombits(binary.BigEndian.Uint32(buf[64:68])),
	}, nil
}

// ConfigEntryPayload carries a single key/value pair for MsgAdminConfigGet
// and MsgAdminConfigSet, keyed against the closed whitelist internal/admin
// enforces.
type ConfigEntryPayload struct {
	Key   string
	Value string
}

func (p ConfigEntryPayload) Marshal() ([]byte, error) {
	buf := make([]byte, 2+len(p.Key)+2+len(p.Value))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(p.Key)))
	off := 2
	off += copy(buf[off:], p.Key)
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(p.Value)))
	off += 2
	copy(buf[off:], p.Value)
	return buf, nil
}

func UnmarshalConfigEntry(buf []byte) (ConfigEntryPayload, error) {
	if len(buf) < 2 {
		return ConfigEntryPayload{}, ErrTruncated
	}
	keyLen := int(binary.BigEndian.Uint16(buf[0:2]))
	off := 2
	if len(buf) < off+keyLen+2 {
		return ConfigEntryPayload{}, ErrTruncated
	}
	key := string(buf[off : off+keyLen])
	off += keyLen
	valLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	if len(buf) < off+valLen {
		return ConfigEntryPayload{}, ErrTruncated
	}
	return ConfigEntryPayload{Key: key, Value: string(buf[off : off+valLen])}, nil
}
