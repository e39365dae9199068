// Package task implements the vault's task store: Markdown files with a
// leading YAML frontmatter block, one per task, moved atomically between
// state directories as the task progresses through the workflow.
package task

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/assadsharif/fte/internal/ferrors"
)

// State is a task's logical position in the workflow graph. It is derived
// from the name of the directory the task file currently lives in.
type State string

const (
	StateInbox            State = "inbox"
	StateNeedsAction       State = "needs_action"
	StatePlanning          State = "planning"
	StatePendingApproval   State = "pending_approval"
	StateExecuting         State = "executing"
	StateDone              State = "done"
	StateRejected          State = "rejected"
)

// Priority is the free-text categorical priority carried in frontmatter.
// It is distinct from the computed priority score (internal/priority).
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority reports whether p is one of the four recognized values.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// dirForState maps a logical state to its vault directory name. Planning
// and Executing both physically back onto In_Progress; PendingApproval
// backs onto Approvals. The state machine remains the source of truth for
// which of the two In_Progress states a task is actually in.
var dirForState = map[State]string{
	StateInbox:          "Inbox",
	StateNeedsAction:     "Needs_Action",
	StatePlanning:        "In_Progress",
	StatePendingApproval: "Approvals",
	StateExecuting:       "In_Progress",
	StateDone:            "Done",
	StateRejected:        "Rejected",
}

// stateForDir is the reverse lookup used by DeriveStateFromLocation. Because
// In_Progress backs two logical states, location alone cannot disambiguate
// Planning from Executing; the frontmatter's own `state` field carries that
// distinction forward once it has been set by the state machine, and
// DeriveStateFromLocation returns the more specific of the two only when the
// existing frontmatter state agrees with the directory.
var stateForDir = map[string]State{
	"Inbox":        StateInbox,
	"Needs_Action": StateNeedsAction,
	"In_Progress":  StateExecuting, // default when frontmatter disagrees
	"Approvals":    StatePendingApproval,
	"Done":         StateDone,
	"Rejected":     StateRejected,
}

// Checkpoint is the task-level checkpoint persisted under the reserved
// `persistence_loop` frontmatter key. Hand-editing it is not supported.
type Checkpoint struct {
	Iteration          int                    `yaml:"iteration" json:"iteration"`
	ConsecutiveRetries int                    `yaml:"consecutive_retries" json:"consecutive_retries"`
	StartedAt          time.Time              `yaml:"started_at" json:"started_at"`
	LastUpdated        time.Time              `yaml:"last_updated" json:"last_updated"`
	LastError          string                 `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	LastErrorType      string                 `yaml:"last_error_type,omitempty" json:"last_error_type,omitempty"`
	StateData          map[string]interface{} `yaml:"state_data,omitempty" json:"state_data,omitempty"`
}

// frontmatter is the on-disk YAML shape of a task file's leading block.
type frontmatter struct {
	ID             string                 `yaml:"id"`
	State          State                  `yaml:"state"`
	Priority       Priority               `yaml:"priority"`
	CreatedAt      time.Time              `yaml:"created_at"`
	ModifiedAt     time.Time              `yaml:"modified_at"`
	Metadata       map[string]interface{} `yaml:"metadata,omitempty"`
	PersistenceLoop *Checkpoint            `yaml:"persistence_loop,omitempty"`
}

// Task is the in-memory representation of a task file.
type Task struct {
	ID         string
	State      State
	Priority   Priority
	CreatedAt  time.Time
	ModifiedAt time.Time
	Metadata   map[string]interface{}
	Checkpoint *Checkpoint
	Body       string
}

// Name returns the task's frontmatter id, which need not equal its file
// stem.
func (t *Task) Name() string {
	return t.ID
}

const fmDelim = "---"

// Load reads path, requiring a leading frontmatter block, and parses it
// into a Task.
func Load(path string) (*Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.TaskNotFound(path)
		}
		return nil, err
	}
	fm, body, err := splitFrontmatter(string(raw))
	if err != nil {
		return nil, ferrors.FrontmatterInvalid(path, err.Error())
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return nil, ferrors.FrontmatterInvalid(path, "malformed YAML: "+err.Error())
	}
	if parsed.ID == "" {
		return nil, ferrors.FrontmatterInvalid(path, "missing required field: id")
	}
	if parsed.State == "" {
		return nil, ferrors.FrontmatterInvalid(path, "missing required field: state")
	}
	if parsed.CreatedAt.IsZero() || parsed.ModifiedAt.IsZero() {
		return nil, ferrors.FrontmatterInvalid(path, "missing required timestamp field")
	}
	if _, ok := dirForState[parsed.State]; !ok {
		return nil, ferrors.FrontmatterInvalid(path, fmt.Sprintf("invalid state value: %q", parsed.State))
	}
	return &Task{
		ID:         parsed.ID,
		State:      parsed.State,
		Priority:   parsed.Priority,
		CreatedAt:  parsed.CreatedAt,
		ModifiedAt: parsed.ModifiedAt,
		Metadata:   parsed.Metadata,
		Checkpoint: parsed.PersistenceLoop,
		Body:       body,
	}, nil
}

// splitFrontmatter separates the leading "---\n...\n---\n" block from the
// remaining Markdown body.
func splitFrontmatter(content string) (fm string, body string, err error) {
	if !strings.HasPrefix(content, fmDelim) {
		return "", "", fmt.Errorf("file does not start with frontmatter delimiter %q", fmDelim)
	}
	rest := content[len(fmDelim):]
	idx := strings.Index(rest, "\n"+fmDelim)
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter block")
	}
	fm = strings.TrimPrefix(rest[:idx], "\n")
	after := rest[idx+len("\n"+fmDelim):]
	body = strings.TrimPrefix(after, "\n")
	return fm, body, nil
}

// Save writes task to path as frontmatter + body, creating the parent
// directory if needed. Save itself is not required to be atomic; Move is.
func Save(t *Task, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	fm := frontmatter{
		ID:              t.ID,
		State:           t.State,
		Priority:        t.Priority,
		CreatedAt:       t.CreatedAt,
		ModifiedAt:      t.ModifiedAt,
		Metadata:        t.Metadata,
		PersistenceLoop: t.Checkpoint,
	}
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(fmDelim)
	b.WriteString("\n")
	b.Write(fmBytes)
	b.WriteString(fmDelim)
	b.WriteString("\n")
	b.WriteString(t.Body)
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// DirForState returns the vault directory name backing a logical state.
func DirForState(s State) (string, error) {
	d, ok := dirForState[s]
	if !ok {
		return "", fmt.Errorf("no directory mapped for state %q", s)
	}
	return d, nil
}

// DeriveStateFromLocation computes the logical state implied by path's
// parent directory name. Because In_Progress backs both Planning and
// Executing, when the task's existing in-memory State already agrees with
// the directory (i.e. it is Planning or Executing), that finer-grained
// value is preserved; otherwise the directory's default mapping is used.
func DeriveStateFromLocation(t *Task, path string) (State, error) {
	dir := filepath.Base(filepath.Dir(path))
	defaultState, ok := stateForDir[dir]
	if !ok {
		return "", fmt.Errorf("unknown state directory: %q", dir)
	}
	if dir == "In_Progress" && (t.State == StatePlanning || t.State == StateExecuting) {
		return t.State, nil
	}
	return defaultState, nil
}

// SyncState sets t.State to the directory-derived state and bumps
// ModifiedAt when it diverges from the stored value.
func SyncState(t *Task, path string) error {
	derived, err := DeriveStateFromLocation(t, path)
	if err != nil {
		return err
	}
	if derived != t.State {
		t.State = derived
		t.ModifiedAt = time.Now().UTC()
	}
	return nil
}

// Move atomically renames srcPath to dstPath on the same filesystem,
// creating dstPath's parent directory if needed.
func Move(srcPath, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	return os.Rename(srcPath, dstPath)
}
