package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditLogger appends structured audit records as JSON lines to a daily
// file under memory/logs/. One record per tool invocation; front-ends and
// humans can replay what the agent actually did.
type AuditLogger struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	date string
	now  func() time.Time
}

// NewAuditLogger writes under dir (memory/logs of the workspace). Files
// are named audit-YYYY-MM-DD.log and rolled at midnight.
func NewAuditLogger(dir string) *AuditLogger {
	return &AuditLogger{dir: dir, now: time.Now}
}

// Write appends one record, stamping it with the current time.
func (a *AuditLogger) Write(record map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	date := a.now().Format("2006-01-02")
	if a.file == nil || date != a.date {
		if a.file != nil {
			a.file.Close()
			a.file = nil
		}
		if err := os.MkdirAll(a.dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
		f, err := os.OpenFile(
			filepath.Join(a.dir, "audit-"+date+".log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
		)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		a.file = f
		a.date = date
	}

	entry := make(map[string]any, len(record)+1)
	for k, v := range record {
		entry[k] = v
	}
	entry["ts"] = a.now().UnixMilli()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = a.file.Write(append(data, '\n'))
	return err
}

// Close releases the current file.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
