// Package gate implements the approval gate (C10): per-task decision on
// whether HITL approval is required, and lookup of whether one exists.
package gate

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/assadsharif/fte/internal/approval"
)

// DefaultKeywords is the default set of body/action keywords that route a
// task through the approval gate.
var DefaultKeywords = []string{"deploy", "production", "delete", "payment", "wire", "send email", "execute", "remove"}

// Gate decides whether a task needs approval and whether one has been
// granted, delegating storage to an approval.Manager.
type Gate struct {
	Keywords            []string
	Manager             *approval.Manager
	ApprovalsDir        string
	LegacyFallbackEnabled bool

	patterns []*regexp.Regexp
}

// New returns a Gate using keywords (defaulting to DefaultKeywords when
// nil) backed by manager. Legacy fallback defaults to disabled; it widens
// the approval surface and should only be enabled deliberately.
func New(keywords []string, manager *approval.Manager, approvalsDir string) *Gate {
	if keywords == nil {
		keywords = DefaultKeywords
	}
	patterns := make([]*regexp.Regexp, len(keywords))
	for i, kw := range keywords {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
	}
	return &Gate{Keywords: keywords, Manager: manager, ApprovalsDir: approvalsDir, patterns: patterns}
}

// RequiresApproval reports whether any configured keyword matches the
// task body at taskPath.
func (g *Gate) RequiresApproval(taskPath string) (bool, error) {
	matches, err := g.MatchedKeywords(taskPath)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// MatchedKeywords returns every configured keyword that matches the task
// body.
func (g *Gate) MatchedKeywords(taskPath string) ([]string, error) {
	raw, err := os.ReadFile(taskPath)
	if err != nil {
		return nil, err
	}
	body := string(raw)
	var hits []string
	for i, p := range g.patterns {
		if p.MatchString(body) {
			hits = append(hits, g.Keywords[i])
		}
	}
	return hits, nil
}

// IsApproved delegates to the approval manager, falling back to a weak
// legacy scan only when LegacyFallbackEnabled is true.
func (g *Gate) IsApproved(taskPath string) (bool, error) {
	taskID := strings.TrimSuffix(filepath.Base(taskPath), filepath.Ext(taskPath))
	ok, err := g.Manager.IsApproved(taskID)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	if !g.LegacyFallbackEnabled {
		return false, nil
	}
	return g.legacyScan(taskID)
}

// legacyScan accepts any hand-written file in ApprovalsDir whose name
// contains the task stem and whose body literally contains "approved" and
// not "pending". It is an intentionally weak, opt-in guard.
func (g *Gate) legacyScan(taskID string) (bool, error) {
	entries, err := os.ReadDir(g.ApprovalsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if !strings.Contains(name, strings.ToLower(taskID)) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(g.ApprovalsDir, e.Name()))
		if err != nil {
			continue
		}
		body := strings.ToLower(string(raw))
		if strings.Contains(body, "approved") && !strings.Contains(body, "pending") {
			return true, nil
		}
	}
	return false, nil
}

// CreateApprovalRequest derives a canonical action_type from keywords and
// delegates creation to the approval manager.
func (g *Gate) CreateApprovalRequest(taskPath string, keywords []string) (string, error) {
	taskID := strings.TrimSuffix(filepath.Base(taskPath), filepath.Ext(taskPath))
	actionType := approval.DeriveActionType(keywords)
	req, err := g.Manager.Create(taskID, actionType, keywords, nil, 0)
	if err != nil {
		return "", err
	}
	return filepath.Join(g.ApprovalsDir, req.ApprovalID+".md"), nil
}
