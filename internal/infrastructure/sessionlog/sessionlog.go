// Package sessionlog persists one append-only JSON-lines file per session,
// so --resume/--continue can rebuild prior conversation history without
// pulling in the trajectory log's structured event types.
package sessionlog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fathomline/agentcore/internal/domain/service"
)

// Turn is one persisted message (a user request or an assistant reply).
type Turn struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"` // "user" | "assistant"
	Content   string    `json:"content"`
}

// Session is a handle to one session's JSONL file, opened for append.
type Session struct {
	ID   string
	path string
}

// Dir returns the sessions directory for workspace, namespaced by a short
// hash so sessions from different projects never collide.
func Dir(workspace string) string {
	home, _ := os.UserHomeDir()
	sum := sha256.Sum256([]byte(workspace))
	return filepath.Join(home, ".agentcore", "sessions", hex.EncodeToString(sum[:])[:12])
}

// New creates a fresh session file under workspace's sessions directory.
func New(workspace string) (*Session, error) {
	dir := Dir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	id := uuid.NewString()
	path := filepath.Join(dir, id+".jsonl")
	if err := writeLatest(dir, id); err != nil {
		return nil, err
	}
	return &Session{ID: id, path: path}, nil
}

// Open reuses an existing session file by id (or id prefix).
func Open(workspace, id string) (*Session, error) {
	dir := Dir(workspace)
	full, err := resolveID(dir, id)
	if err != nil {
		return nil, err
	}
	return &Session{ID: full, path: filepath.Join(dir, full+".jsonl")}, nil
}

// Latest opens the session named by workspace's LATEST pointer, which New
// and Touch both update.
func Latest(workspace string) (*Session, error) {
	dir := Dir(workspace)
	data, err := os.ReadFile(filepath.Join(dir, "LATEST"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no prior session found for this workspace")
		}
		return nil, err
	}
	id := string(data)
	return &Session{ID: id, path: filepath.Join(dir, id+".jsonl")}, nil
}

func resolveID(dir, prefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("list sessions: %w", err)
	}
	var matches []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".jsonl" {
			continue
		}
		id := name[:len(name)-len(".jsonl")]
		if len(prefix) == 0 || len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			matches = append(matches, id)
		}
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", fmt.Errorf("no session matching %q", prefix)
	}
	return matches[len(matches)-1], nil
}

func writeLatest(dir, id string) error {
	return os.WriteFile(filepath.Join(dir, "LATEST"), []byte(id), 0o644)
}

// Append records one turn, creating the file if needed.
func (s *Session) Append(turn Turn) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// Touch records this session as the workspace's latest, so a later
// --continue picks it back up even if it wasn't freshly created by New.
func (s *Session) Touch(workspace string) error {
	return writeLatest(Dir(workspace), s.ID)
}

// History reads every persisted turn back as LLMMessages, oldest first.
func (s *Session) History() ([]service.LLMMessage, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []service.LLMMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t Turn
		if err := json.Unmarshal(line, &t); err != nil {
			continue // tolerate a corrupt trailing line, don't fail the whole load
		}
		out = append(out, service.LLMMessage{Role: t.Role, Content: t.Content})
	}
	return out, scanner.Err()
}
