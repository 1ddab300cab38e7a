// Package storage owns the output directory: the dedup ledger that makes
// downloads idempotent, and atomic writes of media files.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
)

// LedgerFilename is the dedup ledger stored alongside the media files.
const LedgerFilename = ".magpie-ledger.json"

// DownloadRecord is one completed download in the ledger.
type DownloadRecord struct {
	MediaKey  string `json:"media_key"`
	LocalPath string `json:"local_path"`
	ByteSize  int64  `json:"byte_size"`
	Completed bool   `json:"completed"`
}

// Manager serializes all ledger mutation. Workers claim a media key before
// downloading, then commit or fail the claim; at most one worker can hold a
// claim and a committed key is never downloaded again.
type Manager struct {
	outputDir  string
	ledgerPath string
	logger     logger.Logger

	mu      sync.Mutex
	records map[string]DownloadRecord
	claimed map[string]bool
}

// NewManager creates a manager for the output directory, loading the
// existing ledger and scanning the directory for files a lost ledger would
// otherwise forget.
func NewManager(outputDir string, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	m := &Manager{
		outputDir:  outputDir,
		ledgerPath: filepath.Join(outputDir, LedgerFilename),
		logger:     log,
		records:    make(map[string]DownloadRecord),
		claimed:    make(map[string]bool),
	}

	if err := m.loadLedger(); err != nil {
		return nil, err
	}
	if err := m.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}

	return m, nil
}

func (m *Manager) loadLedger() error {
	data, err := os.ReadFile(m.ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	var records []DownloadRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to decode ledger: %w", err)
	}

	for _, record := range records {
		if record.Completed {
			m.records[record.MediaKey] = record
		}
	}

	m.logger.DebugWithFields("ledger loaded", map[string]interface{}{
		"entries": len(m.records),
		"path":    m.ledgerPath,
	})

	return nil
}

// scanExistingFiles repairs the ledger from the directory contents. A file
// present on disk counts as downloaded even if the ledger lost track of it.
func (m *Manager) scanExistingFiles() error {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	recovered := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == LedgerFilename || filepath.Ext(name) == ".tmp" {
			continue
		}

		mediaKey := mediaKeyFromFilename(name)
		if mediaKey == "" {
			continue
		}
		if _, ok := m.records[mediaKey]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		m.records[mediaKey] = DownloadRecord{
			MediaKey:  mediaKey,
			LocalPath: filepath.Join(m.outputDir, name),
			ByteSize:  info.Size(),
			Completed: true,
		}
		recovered++
	}

	if recovered > 0 {
		m.logger.InfoWithFields("recovered ledger entries from directory scan", map[string]interface{}{
			"recovered": recovered,
		})
	}

	return nil
}

// Record returns the completed download record for a media key, if any.
func (m *Manager) Record(mediaKey string) (DownloadRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[mediaKey]
	return record, ok
}

// IsDownloaded reports whether a media key has already been downloaded.
func (m *Manager) IsDownloaded(mediaKey string) bool {
	_, ok := m.Record(mediaKey)
	return ok
}

// Claim reserves a media key for download. It returns false when the key is
// already completed or claimed by another worker.
func (m *Manager) Claim(mediaKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, done := m.records[mediaKey]; done {
		return false
	}
	if m.claimed[mediaKey] {
		return false
	}

	m.claimed[mediaKey] = true
	return true
}

// Fail releases a claim without recording a download. The key becomes
// claimable again on a later run.
func (m *Manager) Fail(mediaKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claimed, mediaKey)
}

// Commit records a completed download and persists the ledger.
func (m *Manager) Commit(mediaKey, localPath string, byteSize int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[mediaKey] = DownloadRecord{
		MediaKey:  mediaKey,
		LocalPath: localPath,
		ByteSize:  byteSize,
		Completed: true,
	}
	delete(m.claimed, mediaKey)

	return m.saveLedgerLocked()
}

// DownloadedCount returns the number of completed downloads known to the
// ledger.
func (m *Manager) DownloadedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// saveLedgerLocked writes the ledger atomically, ordered by media key so
// successive saves produce stable, diffable files. Callers hold m.mu.
func (m *Manager) saveLedgerLocked() error {
	records := make([]DownloadRecord, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].MediaKey < records[j].MediaKey
	})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	tempPath := m.ledgerPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Rename(tempPath, m.ledgerPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace ledger: %w", err)
	}

	return nil
}

// SaveMedia writes media bytes to the named file in the output directory.
// Bytes are staged to a temp file, synced, and renamed so a crash never
// leaves a partial file at the final path. Returns the final path.
func (m *Manager) SaveMedia(data []byte, filename string) (string, error) {
	finalPath := filepath.Join(m.outputDir, filename)
	tempPath := finalPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to write media data: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to sync media file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to close media file: %w", err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to rename media file: %w", err)
	}

	return finalPath, nil
}

// OutputDir returns the directory the manager writes into.
func (m *Manager) OutputDir() string {
	return m.outputDir
}
