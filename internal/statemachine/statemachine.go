// Package statemachine validates and executes the vault's task workflow
// transitions by moving files between state directories.
package statemachine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/assadsharif/fte/internal/audit"
	"github.com/assadsharif/fte/internal/ferrors"
	"github.com/assadsharif/fte/internal/task"
)

// transitions is the fixed directed graph of legal state transitions. Any
// edge not listed here is forbidden.
var transitions = map[task.State][]task.State{
	task.StateInbox:          {task.StateNeedsAction},
	task.StateNeedsAction:    {task.StatePlanning},
	task.StatePlanning:       {task.StatePendingApproval, task.StateExecuting, task.StateNeedsAction},
	task.StatePendingApproval: {task.StateExecuting, task.StateRejected},
	task.StateExecuting:      {task.StateDone, task.StateRejected},
	task.StateDone:           {},
	task.StateRejected:       {task.StateInbox},
}

var retryBackoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// Actor distinguishes system-driven from human-driven transitions.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorHuman  Actor = "human"
)

// Machine drives state transitions for tasks rooted at vaultPath.
type Machine struct {
	vaultPath string
	auditLog  *audit.Log
}

// New returns a Machine whose state directories live directly under
// vaultPath and whose transition audit records go to auditLog.
func New(vaultPath string, auditLog *audit.Log) *Machine {
	return &Machine{vaultPath: vaultPath, auditLog: auditLog}
}

func allowed(from, to task.State) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// AllowedTargets returns the legal destination states from from.
func AllowedTargets(from task.State) []task.State {
	return transitions[from]
}

// Transition moves t's file from its current location toward target,
// validating the edge, retrying transient move errors, rerouting
// permission failures to Rejected, and syncing frontmatter before
// auditing the outcome.
func (m *Machine) Transition(t *task.Task, currentPath string, target task.State, reason string, actor Actor) (newPath string, err error) {
	from := t.State
	if !allowed(from, target) {
		allowedStrs := make([]string, 0, len(transitions[from]))
		for _, s := range transitions[from] {
			allowedStrs = append(allowedStrs, string(s))
		}
		ferr := ferrors.InvalidTransition(string(from), string(target), allowedStrs)
		m.audit(t.ID, from, target, reason, actor, ferr.Error())
		return "", ferr
	}

	dstDir, err := task.DirForState(target)
	if err != nil {
		return "", err
	}
	dstPath := filepath.Join(m.vaultPath, dstDir, filepath.Base(currentPath))

	if err := os.MkdirAll(filepath.Join(m.vaultPath, dstDir), 0o755); err != nil {
		return "", err
	}

	samePath := filepath.Clean(currentPath) == filepath.Clean(dstPath)
	if !samePath {
		if mvErr := m.moveWithPolicy(t, currentPath, dstPath, target, reason, actor); mvErr != nil {
			return "", mvErr
		}
	}

	t.State = target
	if err := task.SyncState(t, dstPath); err != nil {
		return "", err
	}
	if err := task.Save(t, dstPath); err != nil {
		return "", err
	}

	m.audit(t.ID, from, target, reason, actor, "")
	return dstPath, nil
}

func (m *Machine) moveWithPolicy(t *task.Task, src, dst string, target task.State, reason string, actor Actor) error {
	var lastErr error
	for attempt := 0; attempt < len(retryBackoff)+1; attempt++ {
		err := task.Move(src, dst)
		if err == nil {
			return nil
		}
		lastErr = err

		if os.IsPermission(err) {
			return m.reroutePermissionDenied(t, src, err)
		}
		if isDiskFull(err) {
			ferr := ferrors.DiskFull("state transition", err)
			m.audit(t.ID, t.State, target, reason, actor, ferr.Error())
			return ferr
		}
		if attempt < len(retryBackoff) {
			time.Sleep(retryBackoff[attempt])
			continue
		}
	}
	return lastErr
}

// reroutePermissionDenied attempts to move the task to Rejected instead;
// if even that fails, the original error is surfaced and CRITICAL-audited.
func (m *Machine) reroutePermissionDenied(t *task.Task, src string, cause error) error {
	rejectedDir := filepath.Join(m.vaultPath, "Rejected")
	if err := os.MkdirAll(rejectedDir, 0o755); err != nil {
		ferr := ferrors.PermissionDenied("reroute to Rejected", cause)
		m.audit(t.ID, t.State, task.StateRejected, "Permission error: "+cause.Error(), ActorSystem, ferr.Error())
		return ferr
	}
	dst := filepath.Join(rejectedDir, filepath.Base(src))
	if err := task.Move(src, dst); err != nil {
		ferr := ferrors.PermissionDenied("reroute to Rejected", cause)
		m.audit(t.ID, t.State, task.StateRejected, "Permission error: "+cause.Error(), ActorSystem, ferr.Error())
		return ferr
	}
	t.State = task.StateRejected
	_ = task.SyncState(t, dst)
	_ = task.Save(t, dst)
	m.audit(t.ID, t.State, task.StateRejected, fmt.Sprintf("Permission error: %s; new location: %s", cause.Error(), dst), ActorSystem, "")
	return ferrors.PermissionDenied("state transition", cause)
}

func isDiskFull(err error) bool {
	return err != nil && isENOSPC(err)
}

func (m *Machine) audit(taskID string, from, to task.State, reason string, actor Actor, failure string) {
	fields := map[string]interface{}{
		"task_id":    taskID,
		"from_state": string(from),
		"to_state":   string(to),
		"reason":     reason,
		"actor":      string(actor),
	}
	if failure != "" {
		fields["error"] = failure
	}
	_ = m.auditLog.Append(audit.New(audit.EventStateTransition, fields))
}
