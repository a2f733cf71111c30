package logger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	fileBufferSize    = 32 * 1024
	fileFlushInterval = 5 * time.Second
	logDirPermissions = 0o700
)

// bufferedFileWriter appends log records to a file through a buffer that is
// flushed periodically and on Close.
type bufferedFileWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

func newBufferedFileWriter(path string) (*bufferedFileWriter, error) {
	if dir := filepath.Dir(path); dir != "." && dir != path {
		if err := os.MkdirAll(dir, logDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w := &bufferedFileWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, fileBufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.flushLoop()
	return w, nil
}

func (w *bufferedFileWriter) flushLoop() {
	defer close(w.done)
	ticker := time.NewTicker(fileFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			_ = w.Flush()
		}
	}
}

func (w *bufferedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, errors.New("log writer is closed")
	}
	return w.writer.Write(p)
}

// Flush pushes buffered bytes to the OS without fsync.
func (w *bufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.writer.Flush()
}

// Close is idempotent.
func (w *bufferedFileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.writer.Flush(), w.file.Sync(), w.file.Close())
}
