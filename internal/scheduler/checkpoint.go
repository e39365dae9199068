package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// maxExitLog bounds the in-memory/on-disk exit log to the most recent N
// entries (a ring buffer).
const maxExitLog = 200

// ActiveTaskRecord describes a task the scheduler is mid-processing.
type ActiveTaskRecord struct {
	TaskID    string    `json:"task_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// ExitLogEntry records the outcome of one task's pass through a sweep.
type ExitLogEntry struct {
	TaskID    string    `json:"task_id"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Checkpoint is the scheduler-level checkpoint persisted to
// <vault>/.fte/scheduler_checkpoint.json after every sweep.
type Checkpoint struct {
	LastIteration int                         `json:"last_iteration"`
	StartedAt     time.Time                   `json:"started_at"`
	ActiveTasks   map[string]ActiveTaskRecord `json:"active_tasks"`
	ExitLog       []ExitLogEntry              `json:"exit_log"`
	StopHookSet   bool                        `json:"stop_hook_set"`
}

func newCheckpoint() Checkpoint {
	return Checkpoint{
		StartedAt:   time.Now().UTC(),
		ActiveTasks: map[string]ActiveTaskRecord{},
	}
}

func (c *Checkpoint) recordExit(taskID, reason, detail string) {
	c.ExitLog = append(c.ExitLog, ExitLogEntry{
		TaskID:    taskID,
		Reason:    reason,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	if len(c.ExitLog) > maxExitLog {
		c.ExitLog = c.ExitLog[len(c.ExitLog)-maxExitLog:]
	}
}

func loadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newCheckpoint(), nil
		}
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return newCheckpoint(), nil
	}
	if cp.ActiveTasks == nil {
		cp.ActiveTasks = map[string]ActiveTaskRecord{}
	}
	return cp, nil
}

// saveCheckpoint writes cp atomically: write to a temp file in the same
// directory, then rename over the destination.
func saveCheckpoint(path string, cp Checkpoint) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "checkpoint-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
