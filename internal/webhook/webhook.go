// Package webhook implements fire-and-forget outbound notification POSTs
// for orchestrator lifecycle events, grounded on
// original_source/src/orchestrator/webhooks.py's WebhookNotifier.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Event names the notifier emits.
const (
	EventTaskFailed          = "task_failed"
	EventHealthDegraded      = "health_degraded"
	EventOrchestratorStopped = "orchestrator_stopped"
	EventOrchestratorStarted = "orchestrator_started"
	EventHighErrorRate       = "high_error_rate"
)

// Notifier posts JSON event envelopes to a configured URL. Failures never
// propagate: a broken webhook must not affect the scheduler.
type Notifier struct {
	URL     string
	Events  map[string]bool
	Client  *http.Client
	enabled bool
}

// New returns a Notifier for url, filtering to events if non-empty (empty
// means all events are sent). A blank url disables the notifier entirely.
func New(url string, events []string, timeout time.Duration) *Notifier {
	n := &Notifier{
		URL:     url,
		enabled: url != "",
		Client:  &http.Client{Timeout: timeout},
	}
	if len(events) > 0 {
		n.Events = map[string]bool{}
		for _, e := range events {
			n.Events[e] = true
		}
	}
	return n
}

func (n *Notifier) wants(event string) bool {
	if !n.enabled {
		return false
	}
	if n.Events == nil {
		return true
	}
	return n.Events[event]
}

// TaskFailed notifies that a task has failed.
func (n *Notifier) TaskFailed(taskName, errMsg string, priority float64) {
	if !n.wants(EventTaskFailed) {
		return
	}
	n.send(map[string]interface{}{
		"event":     EventTaskFailed,
		"task_name": taskName,
		"error":     truncate(errMsg, 200),
		"priority":  priority,
	})
}

// HealthDegraded notifies that orchestrator health is degraded or unhealthy.
func (n *Notifier) HealthDegraded(status, message string) {
	if !n.wants(EventHealthDegraded) {
		return
	}
	n.send(map[string]interface{}{
		"event":   EventHealthDegraded,
		"status":  status,
		"message": message,
	})
}

// OrchestratorStopped notifies that the scheduler has stopped.
func (n *Notifier) OrchestratorStopped(reason string) {
	if !n.wants(EventOrchestratorStopped) {
		return
	}
	n.send(map[string]interface{}{
		"event":  EventOrchestratorStopped,
		"reason": reason,
	})
}

// OrchestratorStarted notifies that the scheduler has started.
func (n *Notifier) OrchestratorStarted(vaultPath string, dryRun bool) {
	if !n.wants(EventOrchestratorStarted) {
		return
	}
	n.send(map[string]interface{}{
		"event":      EventOrchestratorStarted,
		"vault_path": vaultPath,
		"dry_run":    dryRun,
	})
}

// HighErrorRate notifies that the observed error rate crossed threshold.
func (n *Notifier) HighErrorRate(errorRate, threshold float64) {
	if !n.wants(EventHighErrorRate) {
		return
	}
	n.send(map[string]interface{}{
		"event":      EventHighErrorRate,
		"error_rate": errorRate,
		"threshold":  threshold,
	})
}

// formatForSlack wraps payload as a Slack attachment message when the
// target URL host indicates Slack.
func formatForSlack(payload map[string]interface{}) map[string]interface{} {
	colors := map[string]string{
		EventTaskFailed:          "#ff0000",
		EventHealthDegraded:      "#ff9900",
		EventHighErrorRate:       "#ff9900",
		EventOrchestratorStopped: "#999999",
		EventOrchestratorStarted: "#00ff00",
	}
	event, _ := payload["event"].(string)
	color, ok := colors[event]
	if !ok {
		color = "#999999"
	}

	var fields []map[string]interface{}
	for k, v := range payload {
		if k == "event" || k == "timestamp" {
			continue
		}
		fields = append(fields, map[string]interface{}{
			"title": strings.ReplaceAll(k, "_", " "),
			"value": fmt.Sprintf("%v", v),
			"short": true,
		})
	}

	return map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  "Orchestrator Event: " + strings.ReplaceAll(event, "_", " "),
				"fields": fields,
				"footer": "FTE Orchestrator",
			},
		},
	}
}

// send fires the POST in the background and discards the outcome beyond
// logging it to the caller's choosing is out of scope; failures are
// swallowed per the fire-and-forget contract.
func (n *Notifier) send(payload map[string]interface{}) {
	payload["timestamp"] = timeNow().UTC().Format(time.RFC3339)

	body := payload
	if u, err := url.Parse(n.URL); err == nil && strings.Contains(strings.ToLower(u.Host), "slack.com") {
		body = formatForSlack(payload)
	}

	go n.post(body)
}

func (n *Notifier) post(body map[string]interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.Client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(data))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// timeNow is a package-level indirection so tests can't need to touch the
// wall clock directly; production always uses time.Now.
var timeNow = time.Now
