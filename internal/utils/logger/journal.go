// internal/utils/logger/journal.go
package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Journal appends CSV records to a file with buffered, periodically flushed writes.
// It is safe for concurrent use.
type Journal struct {
	mu       sync.Mutex
	writer   *csv.Writer
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	logger   *zap.Logger
	filePath string

	writtenRecords uint64
	flushCount     uint64
}

// NewJournal opens filePath for appending and writes header when the file is new.
func NewJournal(filePath string, header []string, flushInterval time.Duration, logger *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	j := &Journal{
		writer:   csv.NewWriter(file),
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		logger:   logger.Named("journal"),
		filePath: filePath,
	}

	if stat.Size() == 0 && len(header) > 0 {
		if err := j.writer.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		j.writer.Flush()
	}

	go j.periodicFlush()
	return j, nil
}

// WriteRecord buffers one CSV row.
func (j *Journal) WriteRecord(record []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	j.writtenRecords++
	return nil
}

// Flush writes buffered rows and syncs the file.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	j.flushCount++
	return nil
}

func (j *Journal) periodicFlush() {
	for {
		select {
		case <-j.ticker.C:
			if err := j.Flush(); err != nil {
				j.logger.Error("Periodic CSV flush failed",
					zap.String("file", j.filePath),
					zap.Error(err))
			}
		case <-j.done:
			return
		}
	}
}

// Close stops the flusher and writes everything still buffered.
func (j *Journal) Close() error {
	close(j.done)
	j.ticker.Stop()

	j.mu.Lock()
	defer j.mu.Unlock()

	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error on close: %w", err)
	}
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	j.logger.Info("Journal closed",
		zap.String("file", j.filePath),
		zap.Uint64("written_records", j.writtenRecords),
		zap.Uint64("flush_count", j.flushCount))
	return nil
}
