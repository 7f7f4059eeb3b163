package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ccexec/internal/compiler"
	"ccexec/internal/protocol"
	"ccexec/internal/queue"
	"ccexec/pkg/apperrors"
	"ccexec/pkg/logger"
)

// dispatch routes one decoded message to its handler, matching
// process_client_request's switch over message_type.
func (m *Manager) dispatch(ctx context.Context, s *Session, msg protocol.Message) error {
	switch msg.Header.Type {
	case protocol.MsgHello:
		return m.handleHello(ctx, s, msg)
	case protocol.MsgFileUploadStart:
		return m.handleUploadStart(ctx, s, msg)
	case protocol.MsgFileUploadChunk:
		return m.handleUploadChunk(ctx, s, msg)
	case protocol.MsgFileUploadEnd:
		return m.handleUploadEnd(ctx, s, msg)
	case protocol.MsgCompileRequest:
		return m.handleCompileRequest(ctx, s, msg)
	case protocol.MsgStatusRequest:
		return m.handleStatusRequest(ctx, s, msg)
	case protocol.MsgResultRequest:
		return m.handleResultRequest(ctx, s, msg)
	case protocol.MsgPing:
		return m.send(s, protocol.MsgPong, nil, msg.Header.CorrelationID)
	default:
		return m.sendError(s, apperrors.InvalidArgument, "unknown message type", msg.Header.CorrelationID)
	}
}

// send writes one framed response under the session's own connection;
// net.Conn.Write already serializes concurrent writers at the syscall
// level, but the dispatcher only ever calls this from the single poll
// goroutine, so no additional write mutex is needed here (unlike the
// original's multi-threaded client handler).
func (m *Manager) send(s *Session, msgType protocol.MessageType, payload []byte, correlationID uint32) error {
	if err := protocol.WriteMessage(s.conn, msgType, correlationID, 0, payload); err != nil {
		return err
	}
	n := uint64(protocol.HeaderSize) + uint64(len(payload))
	s.bytesSent += n
	m.cfg.Stats.BytesSent(n)
	return nil
}

func (m *Manager) sendError(s *Session, code apperrors.Code, message string, correlationID uint32) error {
	payload := protocol.ErrorPayload{
		ErrorCode:    protocol.ErrorCodeFromAppCode(int(code)),
		ErrorMessage: message,
		ErrorContext: s.RemoteAddr,
	}
	buf, err := payload.Marshal()
	if err != nil {
		return err
	}
	return m.send(s, protocol.MsgError, buf, correlationID)
}

func (m *Manager) handleHello(ctx context.Context, s *Session, msg protocol.Message) error {
	if s.state != StateConnecting {
		return m.sendError(s, apperrors.Permission, "already authenticated", msg.Header.CorrelationID)
	}

	hello, err := protocol.UnmarshalHello(msg.Payload)
	if err != nil {
		return m.sendError(s, apperrors.InvalidArgument, "invalid hello payload", msg.Header.CorrelationID)
	}

	s.ClientName = hello.ClientName
	s.ClientPlatform = hello.ClientPlatform
	s.state = StateAuthenticated

	logger.Info(ctx, "client authenticated",
		zap.Uint32("session_id", s.ID), zap.String("client_name", s.ClientName), zap.String("platform", s.ClientPlatform))

	resp := protocol.HelloPayload{
		ClientVersionMajor: 1,
		ClientVersionMinor: 0,
		ClientVersionPatch: 0,
		ClientName:         "ccexec server",
		ClientPlatform:     "linux",
	}
	buf, err := resp.Marshal()
	if err != nil {
		return err
	}
	return m.send(s, protocol.MsgHello, buf, msg.Header.CorrelationID)
}

func (m *Manager) handleUploadStart(ctx context.Context, s *Session, msg protocol.Message) error {
	if s.state != StateAuthenticated && s.state != StateIdle {
		return m.sendError(s, apperrors.Permission, "not authenticated", msg.Header.CorrelationID)
	}

	start, err := protocol.UnmarshalFileUploadStart(msg.Payload)
	if err != nil {
		return m.sendError(s, apperrors.InvalidArgument, "invalid upload start payload", msg.Header.CorrelationID)
	}
	if m.cfg.MaxUploadBytes > 0 && start.FileSize > uint64(m.cfg.MaxUploadBytes) {
		return m.sendError(s, apperrors.QuotaExceeded, "file too large", msg.Header.CorrelationID)
	}

	s.upload = &pendingUpload{
		filename:  start.Filename,
		totalSize: start.FileSize,
		chunkSize: start.ChunkSize,
		checksum:  start.FileChecksum,
	}
	s.state = StateUploading

	logger.Info(ctx, "upload started",
		zap.Uint32("session_id", s.ID), zap.String("filename", start.Filename), zap.Uint64("size", start.FileSize))

	return m.send(s, protocol.MsgAck, nil, msg.Header.CorrelationID)
}

func (m *Manager) handleUploadChunk(ctx context.Context, s *Session, msg protocol.Message) error {
	if s.state != StateUploading || s.upload == nil {
		return m.sendError(s, apperrors.Permission, "not in upload mode", msg.Header.CorrelationID)
	}

	_, data, err := protocol.UnmarshalFileChunk(msg.Payload)
	if err != nil {
		return m.sendError(s, apperrors.InvalidArgument, "invalid chunk payload", msg.Header.CorrelationID)
	}
	s.upload.buf.Write(data)

	return m.send(s, protocol.MsgAck, nil, msg.Header.CorrelationID)
}

func (m *Manager) handleUploadEnd(ctx context.Context, s *Session, msg protocol.Message) error {
	if s.state != StateUploading || s.upload == nil {
		return m.sendError(s, apperrors.Permission, "not in upload mode", msg.Header.CorrelationID)
	}

	up := s.upload
	s.upload = nil
	s.state = StateIdle

	// Uploads land in the file manager under the session's own id as a
	// placeholder job id; handleCompileRequest re-stages the bytes into the
	// job's actual sandbox once a real job id exists.
	path, err := m.cfg.Files.SaveUploadedFile(ctx, s.ID, s.ID, up.filename, up.buf.Bytes())
	if err != nil {
		return m.sendError(s, apperrors.GetCode(err), "failed to persist upload", msg.Header.CorrelationID)
	}
	s.uploads[up.filename] = path

	logger.Info(ctx, "upload completed", zap.Uint32("session_id", s.ID), zap.String("filename", up.filename))

	return m.send(s, protocol.MsgAck, nil, msg.Header.CorrelationID)
}

func (m *Manager) handleCompileRequest(ctx context.Context, s *Session, msg protocol.Message) error {
	if s.state != StateIdle {
		return m.sendError(s, apperrors.Permission, "client not ready", msg.Header.CorrelationID)
	}

	req, err := protocol.UnmarshalCompileRequest(msg.Payload)
	if err != nil {
		return m.sendError(s, apperrors.InvalidArgument, "invalid compile request payload", msg.Header.CorrelationID)
	}

	uploadedPath, ok := s.uploads[req.Filename]
	if !ok {
		return m.sendError(s, apperrors.NotFound, "file not uploaded", msg.Header.CorrelationID)
	}

	lang := req.Language
	if lang == protocol.LanguageUnknown {
		lang = compiler.DetectLanguageFromExtension(req.Filename)
	}

	job := &queue.Job{
		SessionID:     s.ID,
		ClientID:      s.ID,
		Language:      lang,
		Mode:          req.Mode,
		SourceFile:    req.Filename,
		UploadedPath:  uploadedPath,
		CompilerArgs:  req.CompilerArgs,
		ExecutionArgs: req.ExecutionArgs,
		Priority:      queue.Priority(req.Priority),
	}

	jobID, err := m.cfg.Queue.Submit(job)
	if err != nil {
		return m.sendError(s, apperrors.Internal, "failed to queue job", msg.Header.CorrelationID)
	}

	s.state = StateProcessing
	s.activeJobs[jobID] = true
	m.cfg.Stats.JobQueued()

	logger.Info(ctx, "job submitted",
		zap.Uint32("session_id", s.ID), zap.Uint32("job_id", jobID), zap.String("filename", req.Filename))

	resp := protocol.CompileResponsePayload{
		JobID:  jobID,
		Status: protocol.JobStatusQueued,
	}
	buf, err := resp.Marshal()
	if err != nil {
		return err
	}
	return m.send(s, protocol.MsgCompileResponse, buf, msg.Header.CorrelationID)
}

func (m *Manager) handleStatusRequest(ctx context.Context, s *Session, msg protocol.Message) error {
	req, err := protocol.UnmarshalStatusRequest(msg.Payload)
	if err != nil {
		return m.sendError(s, apperrors.InvalidArgument, "invalid status request", msg.Header.CorrelationID)
	}

	job, ok := m.cfg.Queue.StatusOf(req.JobID)
	if !ok {
		return m.sendError(s, apperrors.NotFound, "job not found", msg.Header.CorrelationID)
	}
	if job.SessionID != s.ID {
		return m.sendError(s, apperrors.Permission, "access denied", msg.Header.CorrelationID)
	}

	payload := protocol.JobStatusPayload{
		JobID:         job.ID,
		Status:        job.Status,
		Progress:      progressFor(job.Status),
		StartTimeUnix: unixOrZero(job.StartedAt),
		EndTimeUnix:   unixOrZero(job.EndedAt),
		StatusMessage: statusMessage(job.ID, job.Status),
	}
	buf, err := payload.Marshal()
	if err != nil {
		return err
	}
	return m.send(s, protocol.MsgStatusResponse, buf, msg.Header.CorrelationID)
}

func (m *Manager) handleResultRequest(ctx context.Context, s *Session, msg protocol.Message) error {
	req, err := protocol.UnmarshalResultRequest(msg.Payload)
	if err != nil {
		return m.sendError(s, apperrors.InvalidArgument, "invalid result request", msg.Header.CorrelationID)
	}

	job, ok := m.cfg.Queue.StatusOf(req.JobID)
	if !ok {
		return m.sendError(s, apperrors.NotFound, "job not found", msg.Header.CorrelationID)
	}
	if job.SessionID != s.ID {
		return m.sendError(s, apperrors.Permission, "access denied", msg.Header.CorrelationID)
	}
	if !job.Status.IsTerminal() {
		return m.sendError(s, apperrors.Permission, "job not completed", msg.Header.CorrelationID)
	}

	var execMs uint32
	if job.EndedAt.After(job.StartedAt) {
		execMs = uint32(job.EndedAt.Sub(job.StartedAt).Milliseconds())
	}

	stdout, _ := m.cfg.Files.LoadFileContent(job.ID, job.OutputFile)
	stderr, _ := m.cfg.Files.LoadFileContent(job.ID, job.ErrorFile)

	resp := protocol.ResultResponsePayload{
		JobID:           job.ID,
		Status:          job.Status,
		ExitCode:        job.ExitCode,
		OutputSize:      uint32(len(stdout)),
		ErrorSize:       uint32(len(stderr)),
		ExecutionTimeMs: execMs,
		Stdout:          stdout,
		Stderr:          stderr,
	}
	buf, err := resp.Marshal()
	if err != nil {
		return err
	}
	logger.Info(ctx, "result delivered",
		zap.Uint32("session_id", s.ID), zap.Uint32("job_id", job.ID), zap.Int32("exit_code", job.ExitCode), zap.Uint32("exec_time_ms", execMs))
	return m.send(s, protocol.MsgResultResponse, buf, msg.Header.CorrelationID)
}

// statusMessage matches handle_status_request's "Job %u: %s" snprintf.
func statusMessage(jobID uint32, status protocol.JobStatus) string {
	return fmt.Sprintf("Job %d: %s", jobID, status)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
