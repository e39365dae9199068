// Package scheduler implements the Ralph-Wiggum loop (C14): discover,
// prioritize, gate, transition, invoke, transition. Every task the scheduler
// begins processing ends in a terminal directory, in Approvals/, or back in
// its source directory with an audit record explaining why.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/semaphore"

	"github.com/assadsharif/fte/internal/agent"
	"github.com/assadsharif/fte/internal/approval"
	"github.com/assadsharif/fte/internal/audit"
	"github.com/assadsharif/fte/internal/gate"
	"github.com/assadsharif/fte/internal/mcpclient"
	"github.com/assadsharif/fte/internal/persistence"
	"github.com/assadsharif/fte/internal/priority"
	"github.com/assadsharif/fte/internal/security"
	"github.com/assadsharif/fte/internal/statemachine"
	"github.com/assadsharif/fte/internal/task"
	"github.com/assadsharif/fte/internal/webhook"
)

const (
	defaultPollInterval       = 30 * time.Second
	defaultMaxConcurrentTasks = 3
	defaultMaxIterations      = 10
	defaultStopHookFile       = ".claude_stop"
)

// Deps are the scheduler's constructed collaborators and runtime
// configuration, injected once at startup rather than built lazily inside
// the scheduler.
type Deps struct {
	VaultPath          string
	PollInterval       time.Duration
	MaxConcurrentTasks int
	MaxIterations      int
	StopHookFile       string
	DryRun             bool

	Scorer    *priority.Scorer
	Machine   *statemachine.Machine
	Gate      *gate.Gate
	Approvals *approval.Manager
	AuditLog  *audit.Log
	Invoker   *agent.Invoker
	Notifier  *webhook.Notifier
	Logger    *slog.Logger

	// Security and MCPServers are optional: when a task's metadata names
	// an mcp_server present in MCPServers, runAndFinish routes that task's
	// execution through the server's outbound call instead of Invoker,
	// wrapped by Security's rate limiter/breaker/audit pipeline (C13).
	Security   *security.Gate
	MCPServers map[string]*mcpclient.Client
}

func (d *Deps) applyDefaults() {
	if d.PollInterval <= 0 {
		d.PollInterval = defaultPollInterval
	}
	if d.MaxConcurrentTasks <= 0 {
		d.MaxConcurrentTasks = defaultMaxConcurrentTasks
	}
	if d.MaxIterations <= 0 {
		d.MaxIterations = defaultMaxIterations
	}
	if d.StopHookFile == "" {
		d.StopHookFile = defaultStopHookFile
	}
	if d.Notifier == nil {
		d.Notifier = webhook.New("", nil, 5*time.Second)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// Scheduler drives the whole-loop protocol for one vault.
type Scheduler struct {
	deps     Deps
	stopHook sentinelStopHook

	checkpointPath string
	logPath        string

	sem *semaphore.Weighted

	mu         sync.Mutex
	checkpoint Checkpoint

	fsWatcher *fsnotify.Watcher
	wake      chan struct{}
}

// New builds a Scheduler for deps, loading any existing scheduler
// checkpoint from <vault>/.fte/scheduler_checkpoint.json.
func New(deps Deps) (*Scheduler, error) {
	deps.applyDefaults()

	metaDir := filepath.Join(deps.VaultPath, ".fte")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create vault metadata dir: %w", err)
	}

	checkpointPath := filepath.Join(metaDir, "scheduler_checkpoint.json")
	cp, err := loadCheckpoint(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("load scheduler checkpoint: %w", err)
	}

	s := &Scheduler{
		deps:           deps,
		stopHook:       sentinelStopHook{path: filepath.Join(deps.VaultPath, deps.StopHookFile)},
		checkpointPath: checkpointPath,
		logPath:        filepath.Join(deps.VaultPath, "orchestrator.log"),
		sem:            semaphore.NewWeighted(int64(deps.MaxConcurrentTasks)),
		checkpoint:     cp,
		wake:           make(chan struct{}, 1),
	}

	s.startWatcher()
	return s, nil
}

// startWatcher installs a best-effort fsnotify watch on Needs_Action/ and
// Approvals/ so the scheduler can wake early instead of waiting the full
// poll interval; the poll remains the source of truth if this fails.
func (s *Scheduler) startWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.deps.Logger.Warn("fsnotify unavailable, falling back to poll-only discovery", "error", err)
		return
	}
	for _, dir := range []string{"Needs_Action", "Approvals"} {
		path := s.vaultDir(dir)
		_ = os.MkdirAll(path, 0o755)
		if err := w.Add(path); err != nil {
			s.deps.Logger.Debug("failed to watch directory", "path", path, "error", err)
		}
	}
	s.fsWatcher = w

	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				select {
				case s.wake <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Close releases the fsnotify watcher and any open MCP server connections.
func (s *Scheduler) Close() error {
	for _, c := range s.deps.MCPServers {
		_ = c.Close()
	}
	if s.fsWatcher != nil {
		return s.fsWatcher.Close()
	}
	return nil
}

func (s *Scheduler) vaultDir(name string) string {
	return filepath.Join(s.deps.VaultPath, name)
}

// Run drives sweeps continuously until the stop hook is observed or ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.deps.Notifier.OrchestratorStarted(s.deps.VaultPath, s.deps.DryRun)
	s.logLine("orchestrator started, vault=%s dry_run=%v", s.deps.VaultPath, s.deps.DryRun)

	for {
		stopped, err := s.RunOnce(ctx)
		if err != nil {
			s.deps.Logger.Error("sweep failed", "error", err)
		}
		if stopped {
			s.deps.Notifier.OrchestratorStopped("stop hook")
			s.logLine("orchestrator stopped: stop hook observed")
			return nil
		}

		select {
		case <-ctx.Done():
			s.persistCheckpoint(false)
			s.deps.Notifier.OrchestratorStopped("context cancelled")
			s.logLine("orchestrator stopped: context cancelled")
			return ctx.Err()
		case <-s.wake:
		case <-time.After(s.deps.PollInterval):
		}
	}
}

// RunOnce performs exactly one sweep: stop-hook check, expired-approval
// sweep, task discovery and processing, approved-task resume, and
// checkpoint persistence. stopped reports whether the stop hook was
// observed.
func (s *Scheduler) RunOnce(ctx context.Context) (stopped bool, err error) {
	if s.stopHook.IsSet() {
		s.persistCheckpoint(true)
		return true, nil
	}

	if _, err := s.deps.Approvals.CheckExpired(); err != nil {
		s.deps.Logger.Warn("check expired approvals failed", "error", err)
	}

	paths, err := s.discover()
	if err != nil {
		return false, fmt.Errorf("discover tasks: %w", err)
	}

	s.processAll(ctx, paths)

	if s.stopHook.IsSet() {
		s.persistCheckpoint(true)
		return true, nil
	}

	if err := s.resumeApproved(ctx); err != nil {
		s.deps.Logger.Warn("resume approved tasks failed", "error", err)
	}

	s.persistCheckpoint(false)
	return false, nil
}

type scored struct {
	path  string
	score float64
}

// discover lists Needs_Action/*.md files excluding currently active tasks,
// scores each, and returns paths sorted by score descending.
func (s *Scheduler) discover() ([]string, error) {
	dir := s.vaultDir("Needs_Action")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	s.mu.Lock()
	active := make(map[string]bool, len(s.checkpoint.ActiveTasks))
	for id := range s.checkpoint.ActiveTasks {
		active[id] = true
	}
	s.mu.Unlock()

	var candidates []scored
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		taskID := strings.TrimSuffix(e.Name(), ".md")
		if active[taskID] {
			continue
		}
		path := filepath.Join(dir, e.Name())
		score, err := s.deps.Scorer.Score(path)
		if err != nil {
			s.deps.Logger.Warn("priority scoring failed", "path", path, "error", err)
			score = 1.0
		}
		candidates = append(candidates, scored{path: path, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.path
	}
	return paths, nil
}

// processAll runs processTask for every path, bounded by
// MaxConcurrentTasks concurrent persistence-loop invocations, aborting the
// remainder of the sweep (but not the task in flight) when the stop hook
// appears.
func (s *Scheduler) processAll(ctx context.Context, paths []string) {
	var wg sync.WaitGroup
	for _, path := range paths {
		if s.stopHook.IsSet() {
			break
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(p string) {
			defer s.sem.Release(1)
			defer wg.Done()
			s.processTask(p)
		}(path)
	}
	wg.Wait()
}

func (s *Scheduler) markActive(taskID string, state task.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint.ActiveTasks[taskID] = ActiveTaskRecord{TaskID: taskID, State: string(state), StartedAt: time.Now().UTC()}
}

func (s *Scheduler) clearActive(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoint.ActiveTasks, taskID)
}

func (s *Scheduler) recordExit(taskID, reason, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint.recordExit(taskID, reason, detail)
}

// processTask drives one Needs_Action task through Planning, the approval
// gate, Executing, and a terminal transition, recording an exit reason at
// every early return so no task is silently abandoned.
func (s *Scheduler) processTask(path string) {
	t, err := task.Load(path)
	if err != nil {
		s.recordExit(strings.TrimSuffix(filepath.Base(path), ".md"), "load_error", err.Error())
		return
	}
	taskID := t.ID
	s.markActive(taskID, task.StatePlanning)
	defer s.clearActive(taskID)

	currentPath, err := s.deps.Machine.Transition(t, path, task.StatePlanning, "scheduler sweep", statemachine.ActorSystem)
	if err != nil {
		s.recordExit(taskID, "transition_error", err.Error())
		return
	}

	requiresApproval, err := s.deps.Gate.RequiresApproval(currentPath)
	if err != nil {
		s.recordExit(taskID, "gate_error", err.Error())
		return
	}

	if requiresApproval {
		approved, err := s.deps.Gate.IsApproved(currentPath)
		if err != nil {
			s.recordExit(taskID, "gate_error", err.Error())
			return
		}
		if !approved {
			keywords, _ := s.deps.Gate.MatchedKeywords(currentPath)
			if _, err := s.deps.Gate.CreateApprovalRequest(currentPath, keywords); err != nil {
				s.recordExit(taskID, "approval_create_error", err.Error())
				return
			}
			if _, err := s.deps.Machine.Transition(t, currentPath, task.StatePendingApproval, "approval required", statemachine.ActorSystem); err != nil {
				s.recordExit(taskID, "transition_error", err.Error())
				return
			}
			s.recordExit(taskID, "pending_approval", "")
			return
		}
	}

	s.markActive(taskID, task.StateExecuting)
	currentPath, err = s.deps.Machine.Transition(t, currentPath, task.StateExecuting, "begin execution", statemachine.ActorSystem)
	if err != nil {
		s.recordExit(taskID, "transition_error", err.Error())
		return
	}

	s.runAndFinish(taskID, currentPath)
}

// invokerFor returns the persistence.Invoker that should drive taskPath: an
// MCP capability call routed through the security gate when the task's
// metadata names mcp_server/mcp_tool and that server is configured, or the
// agent invoker otherwise.
func (s *Scheduler) invokerFor(taskPath string) persistence.Invoker {
	if s.deps.Security == nil || len(s.deps.MCPServers) == 0 {
		return s.deps.Invoker
	}
	t, err := task.Load(taskPath)
	if err != nil {
		return s.deps.Invoker
	}
	server, tool, args, ok := mcpTarget(t)
	if !ok {
		return s.deps.Invoker
	}
	client, ok := s.deps.MCPServers[server]
	if !ok {
		return s.deps.Invoker
	}
	approved, _ := s.deps.Gate.IsApproved(taskPath)
	opts := security.CallOptions{Approved: approved}
	if req, err := s.deps.Gate.Manager.FindForTask(t.ID); err == nil && req != nil {
		opts.RiskLevel = string(req.RiskLevel)
		opts.ApprovalID = req.ApprovalID
	}
	return &mcpInvoker{
		gate:   s.deps.Security,
		client: client,
		server: server,
		tool:   tool,
		args:   args,
		opts:   opts,
	}
}

// runAndFinish drives the persistence loop to completion and transitions
// the task to its terminal state.
func (s *Scheduler) runAndFinish(taskID, currentPath string) {
	loop := persistence.NewLoop(s.deps.MaxIterations, s.invokerFor(currentPath), s.stopHook)
	loop.Logger = s.deps.Logger
	result, err := loop.Run(currentPath, s.deps.DryRun)
	if err != nil {
		s.recordExit(taskID, "persistence_loop_error", err.Error())
		return
	}

	reloaded, err := task.Load(currentPath)
	if err != nil {
		s.recordExit(taskID, "load_error", err.Error())
		return
	}

	if result.Success {
		if _, err := s.deps.Machine.Transition(reloaded, currentPath, task.StateDone, "execution succeeded", statemachine.ActorSystem); err != nil {
			s.recordExit(taskID, "transition_error", err.Error())
			return
		}
		reason := "done"
		if s.deps.DryRun {
			reason = "dry-run"
		}
		s.recordExit(taskID, reason, "")
		return
	}

	if _, err := s.deps.Machine.Transition(reloaded, currentPath, task.StateRejected, "execution failed", statemachine.ActorSystem); err != nil {
		s.recordExit(taskID, "transition_error", err.Error())
		return
	}
	detail := truncate(result.Stderr, 200)
	s.recordExit(taskID, "hard_failure", detail)
	s.deps.Notifier.TaskFailed(taskID, detail, 0)
}

// resumeApproved drives tasks sitting in Approvals/ whose HITL decision
// has been made (approved, rejected, or timed out) to their next state. It
// skips approval-request files themselves (the "APR-" naming convention)
// and tasks still pending.
func (s *Scheduler) resumeApproved(ctx context.Context) error {
	dir := s.vaultDir("Approvals")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, e := range entries {
		if s.stopHook.IsSet() {
			return nil
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || strings.HasPrefix(e.Name(), "APR-") {
			continue
		}
		taskID := strings.TrimSuffix(e.Name(), ".md")
		path := filepath.Join(dir, e.Name())

		req, err := s.deps.Approvals.FindForTask(taskID)
		if err != nil || req == nil {
			continue
		}

		switch req.Status {
		case approval.StatusApproved:
			s.resumeExecution(taskID, path)
		case approval.StatusRejected, approval.StatusTimeout:
			s.rejectPending(taskID, path, string(req.Status))
		default:
			// still pending, leave in place
		}
	}
	return nil
}

func (s *Scheduler) resumeExecution(taskID, path string) {
	t, err := task.Load(path)
	if err != nil {
		s.recordExit(taskID, "load_error", err.Error())
		return
	}
	s.markActive(taskID, task.StateExecuting)
	defer s.clearActive(taskID)

	currentPath, err := s.deps.Machine.Transition(t, path, task.StateExecuting, "approval granted", statemachine.ActorHuman)
	if err != nil {
		s.recordExit(taskID, "transition_error", err.Error())
		return
	}
	s.runAndFinish(taskID, currentPath)
}

func (s *Scheduler) rejectPending(taskID, path, reason string) {
	t, err := task.Load(path)
	if err != nil {
		s.recordExit(taskID, "load_error", err.Error())
		return
	}
	if _, err := s.deps.Machine.Transition(t, path, task.StateRejected, "approval "+reason, statemachine.ActorHuman); err != nil {
		s.recordExit(taskID, "transition_error", err.Error())
		return
	}
	s.recordExit(taskID, "approval_"+reason, "")
}

// Summary reports a done/total breakdown of the most recent exit log,
// printed by the CLI's run command.
type Summary struct {
	Total    int
	Done     int
	Rejected int
	Pending  int
	ByReason map[string]int
}

func (s *Scheduler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{ByReason: map[string]int{}}
	for _, entry := range s.checkpoint.ExitLog {
		summary.Total++
		summary.ByReason[entry.Reason]++
		switch entry.Reason {
		case "done", "dry-run":
			summary.Done++
		case "hard_failure", "approval_rejected", "approval_timeout":
			summary.Rejected++
		case "pending_approval":
			summary.Pending++
		}
	}
	return summary
}

func (s *Scheduler) persistCheckpoint(stopHookSet bool) {
	s.mu.Lock()
	s.checkpoint.LastIteration++
	s.checkpoint.StopHookSet = stopHookSet
	cp := s.checkpoint
	s.mu.Unlock()

	if err := saveCheckpoint(s.checkpointPath, cp); err != nil {
		s.deps.Logger.Error("failed to persist scheduler checkpoint", "error", err)
	}
}

func (s *Scheduler) logLine(format string, args ...interface{}) {
	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ErrStopped is returned by callers that want to distinguish a clean
// stop-hook exit from other error conditions; Run itself returns nil on
// stop-hook exit, so this is exposed for callers driving RunOnce directly.
var ErrStopped = errors.New("scheduler: stop hook observed")
