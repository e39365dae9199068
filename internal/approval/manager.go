// Package approval implements the HITL approval subsystem (C3/C4/C5): nonce
// issuance, integrity hashing, and the full approval-request lifecycle with
// a zero-bypass guarantee.
package approval

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/assadsharif/fte/internal/audit"
	"github.com/assadsharif/fte/internal/ferrors"
)

const defaultTimeout = 12 * time.Hour

// actionTypeMap maps trigger keywords to a canonical action_type, first
// match wins, left to right.
var actionTypeMap = []struct {
	triggers []string
	action   string
}{
	{[]string{"payment", "wire"}, "payment"},
	{[]string{"deploy", "production"}, "deploy"},
	{[]string{"delete", "remove"}, "delete"},
	{[]string{"send email", "email"}, "email"},
	{[]string{"execute"}, "execute"},
}

// DeriveActionType maps matched keywords to a canonical action_type.
func DeriveActionType(keywords []string) string {
	set := map[string]bool{}
	for _, k := range keywords {
		set[strings.ToLower(k)] = true
	}
	for _, m := range actionTypeMap {
		for _, trig := range m.triggers {
			if set[trig] {
				return m.action
			}
		}
	}
	return "unknown"
}

func classifyRisk(actionType string, actionDetails map[string]interface{}) RiskLevel {
	switch actionType {
	case "payment", "wire":
		if amt, ok := amountOf(actionDetails); ok && amt > 10000 {
			return RiskCritical
		}
		return RiskHigh
	case "deploy", "delete":
		return RiskHigh
	default:
		return RiskMedium
	}
}

func amountOf(details map[string]interface{}) (float64, bool) {
	if details == nil {
		return 0, false
	}
	v, ok := details["amount"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Manager owns the nonce ledger and every approval file under
// approvalsPath.
type Manager struct {
	approvalsPath string
	nonces        *NonceLedger
	auditLog      *audit.Log
}

// NewManager returns a Manager rooted at approvalsPath, with the nonce
// ledger and audit log at the given paths (conventionally under the
// vault's .fte metadata directory).
func NewManager(approvalsPath, noncePath, auditPath string) *Manager {
	return &Manager{
		approvalsPath: approvalsPath,
		nonces:        NewNonceLedger(noncePath),
		auditLog:      audit.Open(auditPath),
	}
}

// Create mints an approval request, renders it, hashes the rendered body,
// and writes the file.
func (m *Manager) Create(taskID, actionType string, keywords []string, actionDetails map[string]interface{}, timeout time.Duration) (*ApprovalRequest, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	now := time.Now().UTC()
	nonce := Generate()
	approvalID := fmt.Sprintf("APR-%s-%s", taskID, now.Format("200601021504"))

	req := &ApprovalRequest{
		ApprovalID: approvalID,
		TaskID:     taskID,
		Nonce:      nonce,
		ActionType: actionType,
		RiskLevel:  classifyRisk(actionType, actionDetails),
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(timeout),
		Action:     actionDetails,
		Keywords:   keywords,
	}

	body := renderBody(req)
	req.IntegrityHash = ComputeHash(body)

	if err := os.MkdirAll(m.approvalsPath, 0o755); err != nil {
		return nil, err
	}
	if err := writeApprovalFile(m.filePath(approvalID), req, body); err != nil {
		return nil, err
	}

	_ = m.auditLog.Append(audit.New(audit.EventApprovalCreated, map[string]interface{}{
		"approval_id": approvalID,
		"task_id":     taskID,
		"action_type": actionType,
		"risk_level":  string(req.RiskLevel),
	}))

	return req, nil
}

func (m *Manager) filePath(approvalID string) string {
	return filepath.Join(m.approvalsPath, approvalID+".md")
}

// Get loads an approval request by id.
func (m *Manager) Get(approvalID string) (*ApprovalRequest, error) {
	return readApprovalFile(m.filePath(approvalID))
}

// FindForTask returns the most recently created approval request for
// taskID, or nil if none exists.
func (m *Manager) FindForTask(taskID string) (*ApprovalRequest, error) {
	entries, err := os.ReadDir(m.approvalsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var matches []*ApprovalRequest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		if !strings.HasPrefix(e.Name(), "APR-"+taskID+"-") {
			continue
		}
		req, err := readApprovalFile(filepath.Join(m.approvalsPath, e.Name()))
		if err != nil {
			continue
		}
		matches = append(matches, req)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return matches[len(matches)-1], nil
}

// Approve runs the zero-bypass guard chain and, if every guard passes,
// flips the request to approved.
func (m *Manager) Approve(approvalID string) (*ApprovalRequest, error) {
	path := m.filePath(approvalID)
	req, err := readApprovalFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.ApprovalNotFound(approvalID)
		}
		return nil, err
	}

	if req.Status != StatusPending {
		return nil, ferrors.ApprovalNotPending(approvalID, string(req.Status))
	}
	if time.Now().UTC().After(req.ExpiresAt) {
		return nil, ferrors.ApprovalExpired(approvalID)
	}
	used, err := m.nonces.IsUsed(req.Nonce)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ferrors.NonceReplayed(req.Nonce)
	}
	body, err := BodyContent(path)
	if err != nil {
		return nil, err
	}
	if !Verify(body, req.IntegrityHash) {
		return nil, ferrors.IntegrityMismatch(approvalID)
	}

	req.Status = StatusApproved
	if err := updateStatus(path, StatusApproved, ""); err != nil {
		return nil, err
	}
	if err := m.nonces.RecordUsed(req.Nonce); err != nil {
		return nil, err
	}
	_ = m.auditLog.Append(audit.New(audit.EventApprovalApproved, map[string]interface{}{
		"approval_id": approvalID,
		"task_id":     req.TaskID,
	}))
	return req, nil
}

// Reject flips a pending request to rejected, appending reason to the body.
func (m *Manager) Reject(approvalID, reason string) (*ApprovalRequest, error) {
	path := m.filePath(approvalID)
	req, err := readApprovalFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.ApprovalNotFound(approvalID)
		}
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, ferrors.ApprovalNotPending(approvalID, string(req.Status))
	}

	req.Status = StatusRejected
	req.RejectReason = reason
	if err := updateStatus(path, StatusRejected, reason); err != nil {
		return nil, err
	}
	_ = m.auditLog.Append(audit.New(audit.EventApprovalRejected, map[string]interface{}{
		"approval_id": approvalID,
		"task_id":     req.TaskID,
		"reason":      reason,
	}))
	return req, nil
}

// IsApproved reports whether the most recent request for taskID is
// approved and not expired.
func (m *Manager) IsApproved(taskID string) (bool, error) {
	req, err := m.FindForTask(taskID)
	if err != nil {
		return false, err
	}
	if req == nil {
		return false, nil
	}
	return req.Status == StatusApproved && time.Now().UTC().Before(req.ExpiresAt), nil
}

// CheckExpired flips every pending request whose expiry has passed to
// timeout, auditing each.
func (m *Manager) CheckExpired() ([]*ApprovalRequest, error) {
	entries, err := os.ReadDir(m.approvalsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	now := time.Now().UTC()
	var flipped []*ApprovalRequest
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "APR-") {
			continue
		}
		path := filepath.Join(m.approvalsPath, e.Name())
		req, err := readApprovalFile(path)
		if err != nil {
			continue
		}
		if req.Status != StatusPending || !now.After(req.ExpiresAt) {
			continue
		}
		req.Status = StatusTimeout
		if err := updateStatus(path, StatusTimeout, ""); err != nil {
			continue
		}
		_ = m.auditLog.Append(audit.New(audit.EventApprovalTimeout, map[string]interface{}{
			"approval_id": req.ApprovalID,
			"task_id":     req.TaskID,
		}))
		flipped = append(flipped, req)
	}
	return flipped, nil
}

// renderBody produces the deterministic Markdown body for req. Re-rendering
// identical fields always yields byte-identical output so that re-hashing
// the body matches the stored integrity hash.
func renderBody(req *ApprovalRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Approval Request: %s\n\n", req.ApprovalID)
	fmt.Fprintf(&b, "**Action Type**: %s\n", req.ActionType)
	fmt.Fprintf(&b, "**Risk Level**: %s\n", req.RiskLevel)
	fmt.Fprintf(&b, "**Task ID**: %s\n", req.TaskID)
	fmt.Fprintf(&b, "**Created**: %s\n", req.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Expires**: %s\n\n", req.ExpiresAt.Format(time.RFC3339))

	if len(req.Keywords) > 0 {
		sorted := append([]string(nil), req.Keywords...)
		sort.Strings(sorted)
		fmt.Fprintf(&b, "**Triggered By**: %s\n\n", strings.Join(sorted, ", "))
	}

	if len(req.Action) > 0 {
		b.WriteString("**Action Details**:\n\n")
		keys := make([]string, 0, len(req.Action))
		for k := range req.Action {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, req.Action[k])
		}
		b.WriteString("\n")
	}

	b.WriteString("## How to Respond\n\n")
	b.WriteString("```\n")
	fmt.Fprintf(&b, "fte approve %s\n", req.TaskID)
	fmt.Fprintf(&b, "fte reject %s --reason \"...\"\n", req.TaskID)
	b.WriteString("```\n")
	return b.String()
}

type approvalFrontmatter struct {
	TaskID        string                 `yaml:"task_id"`
	ApprovalID    string                 `yaml:"approval_id"`
	Nonce         string                 `yaml:"nonce"`
	ActionType    string                 `yaml:"action_type"`
	RiskLevel     RiskLevel              `yaml:"risk_level"`
	ApprovalStatus Status                `yaml:"approval_status"`
	CreatedAt     time.Time              `yaml:"created_at"`
	ExpiresAt     time.Time              `yaml:"expires_at"`
	IntegrityHash string                 `yaml:"integrity_hash"`
	Action        map[string]interface{} `yaml:"action,omitempty"`
	Keywords      []string               `yaml:"keywords,omitempty"`
}

func writeApprovalFile(path string, req *ApprovalRequest, body string) error {
	fm := approvalFrontmatter{
		TaskID:         req.TaskID,
		ApprovalID:     req.ApprovalID,
		Nonce:          req.Nonce,
		ActionType:     req.ActionType,
		RiskLevel:      req.RiskLevel,
		ApprovalStatus: req.Status,
		CreatedAt:      req.CreatedAt,
		ExpiresAt:      req.ExpiresAt,
		IntegrityHash:  req.IntegrityHash,
		Action:         req.Action,
		Keywords:       req.Keywords,
	}
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fmBytes)
	b.WriteString("---\n")
	b.WriteString(body)
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func readApprovalFile(path string) (*ApprovalRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(raw)
	if !strings.HasPrefix(content, "---") {
		return nil, fmt.Errorf("%s: missing frontmatter", path)
	}
	rest := content[len("---"):]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, fmt.Errorf("%s: unterminated frontmatter", path)
	}
	fmText := strings.TrimPrefix(rest[:idx], "\n")

	var fm approvalFrontmatter
	if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
		return nil, err
	}
	return &ApprovalRequest{
		ApprovalID:    fm.ApprovalID,
		TaskID:        fm.TaskID,
		Nonce:         fm.Nonce,
		ActionType:    fm.ActionType,
		RiskLevel:     fm.RiskLevel,
		Status:        fm.ApprovalStatus,
		CreatedAt:     fm.CreatedAt,
		ExpiresAt:     fm.ExpiresAt,
		IntegrityHash: fm.IntegrityHash,
		Action:        fm.Action,
		Keywords:      fm.Keywords,
	}, nil
}

// updateStatus rewrites only the approval_status frontmatter line (and, for
// a reject with a reason, appends a blockquote to the body), leaving the
// rest of the file — including the hashed body — untouched.
func updateStatus(path string, status Status, rejectReason string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "approval_status:") {
			lines[i] = fmt.Sprintf("approval_status: %s", status)
			break
		}
	}
	content := strings.Join(lines, "\n")
	if rejectReason != "" {
		content += fmt.Sprintf("\n> **Rejection reason**: %s\n", rejectReason)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
