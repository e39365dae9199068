package cli

import (
	"path/filepath"
	"time"

	"github.com/assadsharif/fte/internal/agent"
	"github.com/assadsharif/fte/internal/approval"
	"github.com/assadsharif/fte/internal/audit"
	"github.com/assadsharif/fte/internal/config"
	"github.com/assadsharif/fte/internal/gate"
	"github.com/assadsharif/fte/internal/mcpclient"
	"github.com/assadsharif/fte/internal/priority"
	"github.com/assadsharif/fte/internal/ratelimit"
	"github.com/assadsharif/fte/internal/scheduler"
	"github.com/assadsharif/fte/internal/security"
	"github.com/assadsharif/fte/internal/statemachine"
	"github.com/assadsharif/fte/internal/webhook"
)

// deps bundles every collaborator the scheduler and the approval commands
// share, built once from a loaded Config.
type deps struct {
	cfg        *config.Config
	auditLog   *audit.Log
	approvals  *approval.Manager
	gate       *gate.Gate
	machine    *statemachine.Machine
	scorer     *priority.Scorer
	invoker    *agent.Invoker
	notifier   *webhook.Notifier
	security   *security.Gate
	mcpServers map[string]*mcpclient.Client
}

func metaDir(vault string) string {
	return filepath.Join(vault, ".fte")
}

// buildDeps wires one instance of every collaborator the CLI commands
// share, all rooted at the vault's .fte metadata directory.
func buildDeps(cfg *config.Config) *deps {
	meta := metaDir(cfg.VaultPath)
	auditLog := audit.Open(filepath.Join(meta, "audit.log"))
	approvalsDir := filepath.Join(cfg.VaultPath, "Approvals")
	approvals := approval.NewManager(approvalsDir, filepath.Join(meta, "nonces.log"), filepath.Join(meta, "audit.log"))

	keywords := cfg.ApprovalKeywords
	g := gate.New(keywords, approvals, approvalsDir)
	g.LegacyFallbackEnabled = cfg.LegacyApprovalFallback

	limiter := ratelimit.New(filepath.Join(meta, "ratelimit.json"))
	secGate := security.New(limiter, auditLog, cfg.Security.FailureThreshold, cfg.Security.RecoveryTimeout)

	mcpServers := make(map[string]*mcpclient.Client, len(cfg.MCPServers))
	for _, sc := range cfg.MCPServers {
		mcpServers[sc.Name] = mcpclient.New(mcpclient.Config{
			Name:    sc.Name,
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
		})
	}

	return &deps{
		cfg:        cfg,
		auditLog:   auditLog,
		approvals:  approvals,
		gate:       g,
		machine:    statemachine.New(cfg.VaultPath, auditLog),
		scorer:     priority.NewScorerWithWeights(cfg.VIPSenders, priority.Weights(cfg.PriorityWeights)),
		invoker:    agent.NewInvoker(cfg.AgentBinary, cfg.AgentTimeout),
		notifier:   webhook.New(cfg.Webhook.URL, cfg.Webhook.Events, 10*time.Second),
		security:   secGate,
		mcpServers: mcpServers,
	}
}

func (d *deps) schedulerDeps() scheduler.Deps {
	return scheduler.Deps{
		VaultPath:          d.cfg.VaultPath,
		PollInterval:       d.cfg.PollInterval,
		MaxConcurrentTasks: d.cfg.MaxConcurrentTasks,
		MaxIterations:      d.cfg.MaxIterations,
		StopHookFile:       d.cfg.StopHookFile,
		DryRun:             d.cfg.DryRun,
		Scorer:             d.scorer,
		Machine:            d.machine,
		Gate:               d.gate,
		Approvals:          d.approvals,
		AuditLog:           d.auditLog,
		Invoker:            d.invoker,
		Notifier:           d.notifier,
		Security:           d.security,
		MCPServers:         d.mcpServers,
	}
}
