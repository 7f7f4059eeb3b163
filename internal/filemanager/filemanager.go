// Package filemanager tracks uploaded and generated files on local disk:
// path-safe uploads under a per-job name, temporary file allocation, and
// age-based garbage collection. Grounded on
// original_source/server/src/file_manager.c, adapted from a global
// pthread-guarded linked list to a mutex-guarded map and from inotify-based
// monitoring (dropped — nothing in this module consumes filesystem change
// events) to a plain ticker-driven sweep.
package filemanager

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ccexec/pkg/apperrors"
	"ccexec/pkg/logger"
)

// invalidFilenameChars matches the original's blacklist of characters that
// are unsafe on at least one supported target platform.
const invalidFilenameChars = `/<>:"|?*\`

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const maxFilenameLength = 256

// IsValidFilename reports whether filename is safe to place on disk,
// matching original_source's is_valid_filename.
func IsValidFilename(filename string) bool {
	if filename == "" || len(filename) > maxFilenameLength {
		return false
	}
	for _, r := range filename {
		if r < 32 || strings.ContainsRune(invalidFilenameChars, r) {
			return false
		}
	}
	return !reservedNames[strings.ToUpper(filename)]
}

// Entry describes one tracked file, the Go analogue of file_info_t.
type Entry struct {
	JobID      uint32
	ClientID   uint32
	Filename   string
	FullPath   string
	Size       int64
	CreatedAt  time.Time
	LastAccess time.Time
	Temporary  bool
}

// Stats mirrors file_manager_stats_t.
type Stats struct {
	TotalFiles     int
	TemporaryFiles int
	TotalSize      int64
}

// Config configures directory roots, size caps, and GC behavior.
type Config struct {
	ProcessingRoot  string
	OutgoingRoot    string
	MaxUploadBytes  int64
	MaxFileAge      time.Duration
	CleanupInterval time.Duration
}

// Manager tracks files under ProcessingRoot/OutgoingRoot.
type Manager struct {
	mu    sync.Mutex
	files map[string]*Entry

	cfg Config

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates the processing/outgoing directories (if absent) and returns
// a ready Manager. The cleanup sweep is not started until Run is called.
func New(cfg Config) (*Manager, error) {
	for _, dir := range []string{cfg.ProcessingRoot, cfg.OutgoingRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.FileIo, "create directory %s", dir)
		}
	}
	return &Manager{
		files:  make(map[string]*Entry),
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}, nil
}

// Run starts the background sweeper that deletes temporary files older
// than cfg.MaxFileAge, blocking until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	m.wg.Add(1)
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanupOldFiles(ctx)
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) processingPath(jobID uint32, filename string) string {
	return filepath.Join(m.cfg.ProcessingRoot, "job_"+strconv.FormatUint(uint64(jobID), 10)+"_"+filename)
}

// entryKey scopes the in-memory index by (jobID, filename), matching the
// on-disk job_{id}_{filename} naming processingPath uses. Keying by bare
// filename alone would let two concurrent jobs sharing a source basename
// (both "hello.c" emitting "hello_output.txt") overwrite each other's index
// entry even though their on-disk paths never collide.
func entryKey(jobID uint32, filename string) string {
	return strconv.FormatUint(uint64(jobID), 10) + ":" + filename
}

// validatePath rejects traversal attempts and paths escaping the two
// managed roots, matching original_source's validate_file_path.
func (m *Manager) validatePath(path string) error {
	if strings.Contains(path, "..") || strings.Contains(path, "//") {
		return apperrors.New(apperrors.InvalidArgument).WithMessage("path contains directory traversal").WithContext(path)
	}
	if !strings.HasPrefix(path, m.cfg.ProcessingRoot) && !strings.HasPrefix(path, m.cfg.OutgoingRoot) {
		return apperrors.New(apperrors.Permission).WithMessage("path outside managed directories").WithContext(path)
	}
	return nil
}

// SaveUploadedFile writes data to a per-job path under ProcessingRoot and
// tracks it. Returns the file's full path.
func (m *Manager) SaveUploadedFile(ctx context.Context, jobID, clientID uint32, filename string, data []byte) (string, error) {
	if !IsValidFilename(filename) {
		return "", apperrors.New(apperrors.InvalidArgument).WithMessage("invalid filename").WithContext(filename)
	}
	if m.cfg.MaxUploadBytes > 0 && int64(len(data)) > m.cfg.MaxUploadBytes {
		return "", apperrors.Newf(apperrors.QuotaExceeded, "file too large: %d bytes (max %d)", len(data), m.cfg.MaxUploadBytes)
	}

	fullPath := m.processingPath(jobID, filename)
	if err := m.validatePath(fullPath); err != nil {
		return "", err
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.FileIo)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(fullPath)
		return "", apperrors.Wrap(err, apperrors.FileIo)
	}
	f.Close()

	m.addEntry(&Entry{
		JobID:      jobID,
		ClientID:   clientID,
		Filename:   filename,
		FullPath:   fullPath,
		Size:       int64(len(data)),
		CreatedAt:  time.Now(),
		LastAccess: time.Now(),
	})

	logger.Info(ctx, "saved uploaded file",
		zap.String("filename", filename), zap.Int("bytes", len(data)))
	return fullPath, nil
}

// LoadFileContent reads jobID's tracked filename's current bytes.
func (m *Manager) LoadFileContent(jobID uint32, filename string) ([]byte, error) {
	key := entryKey(jobID, filename)
	m.mu.Lock()
	entry, ok := m.files[key]
	if ok {
		entry.LastAccess = time.Now()
	}
	m.mu.Unlock()
	if !ok {
		return nil, apperrors.New(apperrors.NotFound).WithContext(filename)
	}

	data, err := os.ReadFile(entry.FullPath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.FileIo)
	}
	return data, nil
}

// DeleteFile removes a file owned by jobID.
func (m *Manager) DeleteFile(jobID uint32, filename string) error {
	key := entryKey(jobID, filename)
	m.mu.Lock()
	entry, ok := m.files[key]
	if !ok {
		m.mu.Unlock()
		return apperrors.New(apperrors.NotFound).WithContext(filename)
	}
	delete(m.files, key)
	m.mu.Unlock()

	if err := os.Remove(entry.FullPath); err != nil {
		return apperrors.Wrap(err, apperrors.FileIo)
	}
	return nil
}

// CreateTempFile allocates a collision-free temporary file under
// ProcessingRoot, tracked for later GC. The original derives uniqueness
// from time+pid+attempt-counter; this module uses a UUIDv4 suffix instead
// (see SPEC_FULL.md's DOMAIN STACK section).
func (m *Manager) CreateTempFile(jobID uint32, extension string) (string, error) {
	if extension == "" {
		extension = "tmp"
	}
	name := "temp_" + uuid.NewString() + "." + extension
	fullPath := filepath.Join(m.cfg.ProcessingRoot, name)

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.FileIo)
	}
	f.Close()

	m.addEntry(&Entry{
		JobID:      jobID,
		Filename:   name,
		FullPath:   fullPath,
		CreatedAt:  time.Now(),
		LastAccess: time.Now(),
		Temporary:  true,
	})
	return fullPath, nil
}

func (m *Manager) addEntry(e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[entryKey(e.JobID, e.Filename)] = e
}

// GetFileInfo returns the tracked entry for jobID's filename, with its size
// refreshed from disk.
func (m *Manager) GetFileInfo(jobID uint32, filename string) (Entry, error) {
	m.mu.Lock()
	entry, ok := m.files[entryKey(jobID, filename)]
	m.mu.Unlock()
	if !ok {
		return Entry{}, apperrors.New(apperrors.NotFound).WithContext(filename)
	}
	if st, err := os.Stat(entry.FullPath); err == nil {
		entry.Size = st.Size()
	}
	return *entry, nil
}

// ListJobFiles returns every tracked entry belonging to jobID.
func (m *Manager) ListJobFiles(jobID uint32) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.files {
		if e.JobID == jobID {
			if st, err := os.Stat(e.FullPath); err == nil {
				e.Size = st.Size()
			}
			out = append(out, *e)
		}
	}
	return out
}

// CleanupJobFiles deletes every file tracked for jobID and returns how
// many were removed.
func (m *Manager) CleanupJobFiles(jobID uint32) int {
	m.mu.Lock()
	var toDelete []*Entry
	for name, e := range m.files {
		if e.JobID == jobID {
			toDelete = append(toDelete, e)
			delete(m.files, name)
		}
	}
	m.mu.Unlock()

	deleted := 0
	for _, e := range toDelete {
		if err := os.Remove(e.FullPath); err == nil {
			deleted++
		}
	}
	return deleted
}

func (m *Manager) cleanupOldFiles(ctx context.Context) {
	maxAge := m.cfg.MaxFileAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	now := time.Now()

	m.mu.Lock()
	var stale []*Entry
	for name, e := range m.files {
		if e.Temporary && now.Sub(e.CreatedAt) > maxAge {
			stale = append(stale, e)
			delete(m.files, name)
		}
	}
	m.mu.Unlock()

	cleaned := 0
	for _, e := range stale {
		if err := os.Remove(e.FullPath); err == nil {
			cleaned++
		}
	}
	if cleaned > 0 {
		logger.Info(ctx, "cleaned up old temporary files", zap.Int("count", cleaned))
	}
}

// Stats reports aggregate counts across all tracked files.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, e := range m.files {
		s.TotalFiles++
		s.TotalSize += e.Size
		if e.Temporary {
			s.TemporaryFiles++
		}
	}
	return s
}
