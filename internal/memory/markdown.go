package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// On-disk layout under the workspace. Everything is plain markdown so
// humans can read, edit, and version-control their agent's memory.
const (
	memoryDirName   = "memory"
	logsDirName     = "logs"
	longTermFile    = "long-term.md"
	vectorSnapFile  = "vector_snapshot.json"
	lessonsFile     = "lessons.md"
	proceduralFile  = "procedural.md"
	preferencesFile = "preferences.md"
)

// Root returns the memory directory for a workspace.
func Root(workspace string) string {
	return filepath.Join(workspace, memoryDirName)
}

// LongTermPath returns memory/long-term.md.
func LongTermPath(workspace string) string {
	return filepath.Join(Root(workspace), longTermFile)
}

// VectorSnapshotPath returns memory/vector_snapshot.json.
func VectorSnapshotPath(workspace string) string {
	return filepath.Join(Root(workspace), vectorSnapFile)
}

// LessonsPath returns memory/lessons.md.
func LessonsPath(workspace string) string {
	return filepath.Join(Root(workspace), lessonsFile)
}

// ProceduralPath returns memory/procedural.md.
func ProceduralPath(workspace string) string {
	return filepath.Join(Root(workspace), proceduralFile)
}

// PreferencesPath returns memory/preferences.md.
func PreferencesPath(workspace string) string {
	return filepath.Join(Root(workspace), preferencesFile)
}

// DailyLogPath returns memory/logs/YYYY-MM-DD.md for the given date.
func DailyLogPath(workspace, date string) string {
	return filepath.Join(Root(workspace), logsDirName, date+".md")
}

// FileStore is one of the append-only markdown stores (lessons, procedural,
// preferences). Reads go through an mtime-invalidated cache so prompt
// assembly does not hit the disk every step. Appends are deduplicated
// against existing lines.
type FileStore struct {
	mu      sync.Mutex
	path    string
	cached  string
	modTime time.Time
}

// NewFileStore binds a store to its markdown file. The file is created on
// first append.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load returns the trimmed file content, re-reading only when the file
// changed on disk.
func (s *FileStore) Load() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) loadLocked() string {
	info, err := os.Stat(s.path)
	if err != nil {
		s.cached = ""
		s.modTime = time.Time{}
		return ""
	}
	if info.ModTime().Equal(s.modTime) && s.cached != "" {
		return s.cached
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.cached
	}
	s.cached = strings.TrimSpace(string(data))
	s.modTime = info.ModTime()
	return s.cached
}

// Append adds one record line to the store. Appending a line that already
// exists is a no-op, so repeated lessons collapse to a single entry.
func (s *FileStore) Append(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.loadLocked()
	for _, existing := range strings.Split(current, "\n") {
		if strings.TrimSpace(existing) == line {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}
	// Keep the cache coherent without waiting for the next stat.
	if current == "" {
		s.cached = line
	} else {
		s.cached = current + "\n" + line
	}
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}
	return nil
}

// AppendProcedural records one tool outcome in the procedural store.
func AppendProcedural(s *FileStore, tool string, success bool, detail string) error {
	status := "ok"
	if !success {
		status = "fail"
	}
	return s.Append(fmt.Sprintf("- %s %s: %s", tool, status, strings.TrimSpace(detail)))
}

// AppendDailyLog appends one turn's dialogue to the daily log under a
// session header. Tool messages are skipped; the log is the human-readable
// record of real conversation.
func AppendDailyLog(workspace, date, sessionID string, messages []Message) error {
	path := DailyLogPath(workspace, date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n## Session %s (%s)\n\n", sessionID, date)
	for _, m := range messages {
		var role string
		switch m.Role {
		case RoleUser:
			role = "User"
		case RoleAssistant:
			role = "Assistant"
		case RoleSystem:
			role = "System"
		default:
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", role, m.Content)
	}
	b.WriteString("---\n")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
