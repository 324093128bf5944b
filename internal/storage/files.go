package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	consoleLogName = "console.log"
	networkLogName = "network.log"
	requestsDir    = "requests"
)

// CaptureFiles owns the durable capture artifacts used in immediate output
// mode: the append-only console and network text logs plus the per-exchange
// JSON detail directory.
type CaptureFiles struct {
	dir     string
	console *lumberjack.Logger
	network *lumberjack.Logger
	mu      sync.Mutex
}

// OpenCaptureFiles prepares the output directory and opens the append logs.
func OpenCaptureFiles(dir string, maxSizeMB int) (*CaptureFiles, error) {
	if err := os.MkdirAll(filepath.Join(dir, requestsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &CaptureFiles{
		dir:     dir,
		console: newAppendLog(filepath.Join(dir, consoleLogName), maxSizeMB),
		network: newAppendLog(filepath.Join(dir, networkLogName), maxSizeMB),
	}, nil
}

func newAppendLog(path string, maxSizeMB int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		Compress:   false,
		LocalTime:  false,
	}
}

// Dir returns the root output directory.
func (f *CaptureFiles) Dir() string { return f.dir }

// AppendConsole writes one console line synchronously.
func (f *CaptureFiles) AppendConsole(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.console.Write([]byte(line + "\n"))
	return err
}

// AppendNetwork writes one network summary line synchronously.
func (f *CaptureFiles) AppendNetwork(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.network.Write([]byte(line + "\n"))
	return err
}

// ExchangePath returns the detail file path for a sequence id.
func (f *CaptureFiles) ExchangePath(id string) string {
	return filepath.Join(f.dir, requestsDir, id+".json")
}

// WriteExchange persists one exchange detail record, replacing any previous
// content for the same id.
func (f *CaptureFiles) WriteExchange(id string, v any) error {
	return WriteJSONAtomic(f.ExchangePath(id), v)
}

// ReadExchange loads an exchange detail record into v.
func (f *CaptureFiles) ReadExchange(id string, v any) error {
	data, err := os.ReadFile(f.ExchangePath(id))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Reset truncates both text logs and recreates the detail directory.
func (f *CaptureFiles) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, l := range []*lumberjack.Logger{f.console, f.network} {
		if err := l.Close(); err != nil {
			return fmt.Errorf("close log: %w", err)
		}
		if err := os.Remove(l.Filename); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("truncate %s: %w", l.Filename, err)
		}
	}

	dir := filepath.Join(f.dir, requestsDir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recreate %s: %w", dir, err)
	}
	return nil
}

// Close flushes and closes the append logs.
func (f *CaptureFiles) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.console.Close(); err != nil {
		return err
	}
	return f.network.Close()
}
