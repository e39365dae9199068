// Package persistence implements the bounded-retry persistence loop (C8):
// drives one task to success or definitive failure, with per-error-class
// retry policy and in-file checkpointing.
package persistence

import (
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"time"

	"github.com/assadsharif/fte/internal/agent"
	"github.com/assadsharif/fte/internal/task"
)

// ErrorType tags a transient failure for per-class retry policy selection.
type ErrorType string

const (
	ErrorRateLimit          ErrorType = "rate_limit"
	ErrorTimeout            ErrorType = "timeout"
	ErrorConnection         ErrorType = "connection"
	ErrorServiceUnavailable ErrorType = "service_unavailable"
	ErrorLockContention     ErrorType = "lock_contention"
	ErrorGenericTransient   ErrorType = "generic_transient"
)

var transientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)timed\s*out`),
	regexp.MustCompile(`(?i)rate[\s_-]*limit`),
	regexp.MustCompile(`(?i)503|service\s+unavailable`),
	regexp.MustCompile(`(?i)connection\s+(refused|reset|error)`),
	regexp.MustCompile(`(?i)temporary\s+(error|failure)`),
	regexp.MustCompile(`(?i)try\s+again\s+later`),
	regexp.MustCompile(`(?i)lock\s+(acquisition|timeout)`),
}

var errorTypePatterns = []struct {
	re  *regexp.Regexp
	typ ErrorType
}{
	{regexp.MustCompile(`(?i)rate[\s_-]*limit`), ErrorRateLimit},
	{regexp.MustCompile(`(?i)timed\s*out`), ErrorTimeout},
	{regexp.MustCompile(`(?i)connection\s+(refused|reset|error)`), ErrorConnection},
	{regexp.MustCompile(`(?i)503|service\s+unavailable`), ErrorServiceUnavailable},
	{regexp.MustCompile(`(?i)lock\s+(acquisition|timeout)`), ErrorLockContention},
}

// IsTransient reports whether a result should be retried rather than
// treated as a hard failure.
func IsTransient(res agent.Result) bool {
	if res.TimedOut {
		return true
	}
	for _, p := range transientPatterns {
		if p.MatchString(res.Stderr) {
			return true
		}
	}
	return false
}

// ClassifyError maps a transient failure's stderr to an ErrorType.
func ClassifyError(stderr string) ErrorType {
	for _, p := range errorTypePatterns {
		if p.re.MatchString(stderr) {
			return p.typ
		}
	}
	return ErrorGenericTransient
}

// RetryPolicy holds the exponential-backoff parameters for one error class.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

var retryPolicies = map[ErrorType]RetryPolicy{
	ErrorRateLimit:          {MaxAttempts: 4, BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second, Jitter: 0.2},
	ErrorTimeout:            {MaxAttempts: 3, BaseDelay: 1 * time.Second, MaxDelay: 16 * time.Second, Jitter: 0.3},
	ErrorConnection:         {MaxAttempts: 4, BaseDelay: 2 * time.Second, MaxDelay: 32 * time.Second, Jitter: 0.2},
	ErrorServiceUnavailable: {MaxAttempts: 3, BaseDelay: 10 * time.Second, MaxDelay: 120 * time.Second, Jitter: 0.2},
	ErrorLockContention:     {MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second, Jitter: 0.4},
	ErrorGenericTransient:   {MaxAttempts: 3, BaseDelay: 1 * time.Second, MaxDelay: 16 * time.Second, Jitter: 0.2},
}

// PolicyFor returns the retry policy for an error class.
func PolicyFor(t ErrorType) RetryPolicy {
	if p, ok := retryPolicies[t]; ok {
		return p
	}
	return retryPolicies[ErrorGenericTransient]
}

// backoffDelay computes min(base*2^(attempt-1), cap) + uniform(-cap*jitter, +cap*jitter).
func backoffDelay(attempt int, p RetryPolicy) time.Duration {
	base := float64(p.BaseDelay) * pow2(attempt-1)
	capped := base
	if cap := float64(p.MaxDelay); capped > cap {
		capped = cap
	}
	jitterRange := float64(p.MaxDelay) * p.Jitter
	delta := (rand.Float64()*2 - 1) * jitterRange
	d := capped + delta
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func pow2(n int) float64 {
	if n <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

// Invoker is the minimal interface the loop needs from an agent invoker.
type Invoker interface {
	Invoke(taskPath string) agent.Result
	DryRun(taskPath string) agent.Result
}

// StopHook reports whether the scheduler-level stop sentinel is set.
type StopHook interface {
	IsSet() bool
}

// Loop drives a single task through bounded retries.
type Loop struct {
	MaxIterations int
	Invoker       Invoker
	StopHook      StopHook
	Sleep         func(time.Duration)
	Logger        *slog.Logger
}

// NewLoop returns a Loop with a real time.Sleep and the default logger;
// tests may override Sleep/Logger.
func NewLoop(maxIterations int, inv Invoker, stopHook StopHook) *Loop {
	return &Loop{MaxIterations: maxIterations, Invoker: inv, StopHook: stopHook, Sleep: time.Sleep, Logger: slog.Default()}
}

// Run drives taskPath to success or a definitive failure, persisting the
// checkpoint into the task's frontmatter at every step.
func (l *Loop) Run(taskPath string, dryRun bool) (agent.Result, error) {
	t, err := task.Load(taskPath)
	if err != nil {
		return agent.Result{}, err
	}

	cp := t.Checkpoint
	if cp == nil {
		cp = &task.Checkpoint{StartedAt: time.Now().UTC()}
	}

	warnAt := int(float64(l.MaxIterations) * 0.8)

	for iteration := cp.Iteration; iteration < l.MaxIterations; iteration++ {
		if l.StopHook != nil && l.StopHook.IsSet() {
			cp.StateData = setFlag(cp.StateData, "stopped", true)
			cp.LastUpdated = time.Now().UTC()
			t.Checkpoint = cp
			_ = task.Save(t, taskPath)
			return agent.Result{Success: false, Stderr: "interrupted by stop hook"}, nil
		}

		if iteration >= warnAt {
			logger := l.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("persistence loop approaching max iterations",
				"task", taskPath, "iteration", iteration+1, "max_iterations", l.MaxIterations)
		}

		var res agent.Result
		if dryRun {
			res = l.Invoker.DryRun(taskPath)
		} else {
			res = l.Invoker.Invoke(taskPath)
		}

		cp.Iteration = iteration + 1
		cp.LastUpdated = time.Now().UTC()

		if res.Success {
			cp.ConsecutiveRetries = 0
			cp.LastError = ""
			cp.LastErrorType = ""
			t.Checkpoint = cp
			_ = task.Save(t, taskPath)
			return res, nil
		}

		if !IsTransient(res) {
			cp.LastError = truncate(res.Stderr, 200)
			t.Checkpoint = cp
			_ = task.Save(t, taskPath)
			return res, nil
		}

		errType := ClassifyError(res.Stderr)
		policy := PolicyFor(errType)
		cp.ConsecutiveRetries++
		cp.LastError = truncate(res.Stderr, 200)
		cp.LastErrorType = string(errType)

		if cp.Iteration >= l.MaxIterations {
			break
		}

		if cp.ConsecutiveRetries >= policy.MaxAttempts {
			t.Checkpoint = cp
			_ = task.Save(t, taskPath)
			return agent.Result{
				Success:  false,
				Stderr:   fmt.Sprintf("Transient failure (%s) repeated %d times: %s", errType, policy.MaxAttempts, cp.LastError),
				ExitCode: -1,
			}, nil
		}

		t.Checkpoint = cp
		_ = task.Save(t, taskPath)
		l.Sleep(backoffDelay(cp.ConsecutiveRetries, policy))
	}

	cp.StateData = setFlag(cp.StateData, "max_iterations_exceeded", true)
	t.Checkpoint = cp
	_ = task.Save(t, taskPath)
	return agent.Result{
		Success:  false,
		Stderr:   fmt.Sprintf("Max iterations (%d) exceeded for %s", l.MaxIterations, taskPath),
		ExitCode: -2,
	}, nil
}

func setFlag(m map[string]interface{}, key string, val interface{}) map[string]interface{} {
	if m == nil {
		m = map[string]interface{}{}
	}
	m[key] = val
	return m
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
