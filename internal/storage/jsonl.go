// Package storage appends JSON records to a size-rotated file.
package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrClosed     = errors.New("writer is closed")
	ErrBufferFull = errors.New("buffer full")
)

// JSONLWriter writes records asynchronously, one JSON document per line.
type JSONLWriter struct {
	path    string
	writeCh chan any
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu     sync.Mutex
	logger *lumberjack.Logger
}

// NewJSONLWriter opens (lazily) path for appending. The file rotates at
// maxSizeMB and old files are kept for maxAgeDays.
func NewJSONLWriter(path string, bufferSize, maxSizeMB, maxAgeDays int) *JSONLWriter {
	w := &JSONLWriter{
		path:    path,
		writeCh: make(chan any, bufferSize),
		done:    make(chan struct{}),
		logger: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: 10,
			MaxAge:     maxAgeDays,
		},
	}

	w.wg.Add(1)
	go w.writeLoop()

	return w
}

// Path returns the file being written.
func (w *JSONLWriter) Path() string { return w.path }

// Write queues a record. It never blocks; a full buffer drops the record.
func (w *JSONLWriter) Write(record any) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		slog.Warn("JSONL write buffer full, dropping record", "file", w.path)
		return ErrBufferFull
	}
}

// Close flushes queued records and closes the file.
func (w *JSONLWriter) Close() error {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()

	timeout := time.After(5 * time.Second)
drain:
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-timeout:
			slog.Warn("JSONL writer close timeout, some records may be lost", "file", w.path)
			break drain
		default:
			break drain
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.logger.Close()
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			return
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("Failed to marshal record", "error", err, "file", w.path)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		slog.Error("Failed to create output directory", "error", err, "file", w.path)
		return
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write record", "error", err, "file", w.path)
	}
}
