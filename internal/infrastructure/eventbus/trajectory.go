package eventbus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TrajectoryKind names one of the structured event types the Trajectory
// Log records. The set is closed — observability consumers key off it.
type TrajectoryKind string

const (
	TrajTurnStarted       TrajectoryKind = "turn_started"
	TrajLLMRequest        TrajectoryKind = "llm_request"
	TrajLLMResponse       TrajectoryKind = "llm_response"
	TrajToolCall          TrajectoryKind = "tool_call"
	TrajToolResult        TrajectoryKind = "tool_result"
	TrajApprovalRequested TrajectoryKind = "approval_requested"
	TrajApprovalDecision  TrajectoryKind = "approval_decision"
	TrajBudgetWarning     TrajectoryKind = "budget_warning"
	TrajLoopSignal        TrajectoryKind = "loop_signal"
	TrajError             TrajectoryKind = "error"
)

// trajectoryEntry is the JSON-lines on-disk form of one event.
type trajectoryEntry struct {
	Seq       uint64         `json:"seq"`
	Turn      int            `json:"turn"`
	Kind      TrajectoryKind `json:"kind"`
	Timestamp time.Time      `json:"ts"`
	Payload   any            `json:"payload,omitempty"`
}

// TrajectoryRecorder is an append-only sink for agent run events: one
// JSON line per event, a monotonically increasing sequence number, and
// the turn index the event belongs to. It is write-only — the agent
// never reads the trajectory back; replay tooling does.
//
// Emit writes synchronously through a buffered writer under a mutex; when
// the buffer fills, the write goes to disk inside Emit, so a slow disk
// does slow the caller. Entries that fail to marshal or write are counted
// and surfaced as a single overflow marker on Close rather than dropped
// silently.
type TrajectoryRecorder struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	seq     uint64
	turn    int
	dropped uint64
	path    string
	logger  *zap.Logger
}

// NewTrajectoryRecorder opens (creating if needed) an append-only
// trajectory file under dir, named by sessionID.
func NewTrajectoryRecorder(dir, sessionID string, logger *zap.Logger) (*TrajectoryRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trajectory dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trajectory file: %w", err)
	}
	return &TrajectoryRecorder{
		file:   f,
		writer: bufio.NewWriterSize(f, 64*1024),
		path:   path,
		logger: logger.With(zap.String("component", "trajectory")),
	}, nil
}

// SetTurn updates the turn index stamped on subsequent events.
func (r *TrajectoryRecorder) SetTurn(turn int) {
	r.mu.Lock()
	r.turn = turn
	r.mu.Unlock()
}

// Emit appends one event. Marshal or write failures are counted, never
// propagated — the trajectory is an observability stream, losing an
// entry must not fail the turn that produced it.
func (r *TrajectoryRecorder) Emit(kind TrajectoryKind, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if kind == TrajTurnStarted {
		r.turn++
	}
	entry := trajectoryEntry{
		Seq:       r.seq,
		Turn:      r.turn,
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		r.dropped++
		r.logger.Warn("trajectory entry not serializable", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		r.dropped++
		r.logger.Warn("trajectory write failed", zap.Error(err))
	}
}

// Seq returns the sequence number of the most recently emitted event.
func (r *TrajectoryRecorder) Seq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Path returns the on-disk location of the trajectory file.
func (r *TrajectoryRecorder) Path() string {
	return r.path
}

// Close flushes and closes the file. If any entries were dropped, a
// final error event records the count so the stream is honest about
// its own gaps.
func (r *TrajectoryRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dropped > 0 {
		r.seq++
		entry := trajectoryEntry{
			Seq:       r.seq,
			Turn:      r.turn,
			Kind:      TrajError,
			Timestamp: time.Now(),
			Payload:   map[string]any{"dropped_events": r.dropped},
		}
		if data, err := json.Marshal(entry); err == nil {
			_, _ = r.writer.Write(append(data, '\n'))
		}
	}

	_ = r.writer.Flush()
	_ = r.file.Sync()
	return r.file.Close()
}
