// Package audit implements the vault's append-only audit log: one JSON
// object per line, never modified or deleted after being written.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event type constants used across the module.
const (
	EventStateTransition  = "state_transition"
	EventApprovalCreated  = "approval_created"
	EventApprovalApproved = "approval_approved"
	EventApprovalRejected = "approval_rejected"
	EventApprovalTimeout  = "approval_timeout"
	EventMCPAction        = "mcp_action"
	EventCredentialAccess = "credential_access"
	EventScanResult       = "scan_result"
	EventAnomalyAlert     = "anomaly_alert"
	EventIncidentAction   = "incident_action"
)

// Record is a single audit log line. Extra carries whatever fields a given
// event type needs beyond Timestamp/EventType.
type Record struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	Extra     map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Extra into the top-level object alongside timestamp
// and event_type.
func (r Record) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{}
	for k, v := range r.Extra {
		m[k] = v
	}
	m["timestamp"] = r.Timestamp.UTC().Format(time.RFC3339)
	m["event_type"] = r.EventType
	return json.Marshal(m)
}

// UnmarshalJSON spreads unknown fields into Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if ts, ok := m["timestamp"].(string); ok {
		t, err := time.Parse(time.RFC3339, ts)
		if err == nil {
			r.Timestamp = t
		}
	}
	if et, ok := m["event_type"].(string); ok {
		r.EventType = et
	}
	delete(m, "timestamp")
	delete(m, "event_type")
	r.Extra = m
	return nil
}

// New builds a Record for eventType with the current UTC time and the
// given extra fields.
func New(eventType string, extra map[string]interface{}) Record {
	return Record{Timestamp: time.Now().UTC(), EventType: eventType, Extra: extra}
}

// Log is an append-only audit log backed by a single file path. Safe for
// concurrent use: every writer in the scheduler's parallel task workers
// shares one Log and serializes through mu.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns a Log for path, creating the parent directory if needed.
// It does not create the file itself; Append does that on first write.
func Open(path string) *Log {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	return &Log{path: path}
}

// Append writes record as one JSON line.
func (l *Log) Append(record Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(record)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = f.Write(b)
	return err
}

// readAll reads every parseable line, skipping blank lines and any
// unparseable line, including a torn final write.
func (l *Log) readAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	var records []Record
	for i, line := range lines {
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			if i == len(lines)-1 {
				continue // tolerate a torn last line
			}
			continue // tolerate malformed lines anywhere; never fail the reader
		}
		records = append(records, rec)
	}
	return records, nil
}

// QueryRecent returns the last n parseable records.
func (l *Log) QueryRecent(n int) ([]Record, error) {
	all, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// Filter returns every record for which predicate returns true, optionally
// restricted to records at or after since.
func (l *Log) Filter(predicate func(Record) bool, since *time.Time) ([]Record, error) {
	all, err := l.readAll()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if since != nil && r.Timestamp.Before(*since) {
			continue
		}
		if predicate == nil || predicate(r) {
			out = append(out, r)
		}
	}
	return out, nil
}
