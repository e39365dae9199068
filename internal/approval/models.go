package approval

import "time"

// Status is the lifecycle state of an ApprovalRequest.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimeout  Status = "timeout"
)

// RiskLevel is derived from action_type and, for payment/wire, the action
// detail amount.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ApprovalRequest is the full HITL approval record, persisted as a Markdown
// file with YAML frontmatter under Approvals/.
type ApprovalRequest struct {
	ApprovalID    string                 `yaml:"approval_id"`
	TaskID        string                 `yaml:"task_id"`
	Nonce         string                 `yaml:"nonce"`
	ActionType    string                 `yaml:"action_type"`
	RiskLevel     RiskLevel              `yaml:"risk_level"`
	Status        Status                 `yaml:"approval_status"`
	CreatedAt     time.Time              `yaml:"created_at"`
	ExpiresAt     time.Time              `yaml:"expires_at"`
	IntegrityHash string                 `yaml:"integrity_hash"`
	Action        map[string]interface{} `yaml:"action,omitempty"`
	Keywords      []string               `yaml:"keywords,omitempty"`
	RejectReason  string                 `yaml:"-"`
}
