// Package priority implements the bounded priority-scoring formula (C7):
// urgency + deadline + sender signals from task body content, plus an
// age-based starvation-prevention boost.
package priority

import (
	"os"
	"regexp"
	"strings"
	"time"
)

// Weights are the urgency/deadline/sender weights; they MUST sum to 1.
type Weights struct {
	Urgency  float64
	Deadline float64
	Sender   float64
}

// DefaultWeights is the built-in urgency/deadline/sender weighting.
var DefaultWeights = Weights{Urgency: 0.4, Deadline: 0.3, Sender: 0.3}

var urgencyPatterns = []struct {
	re    *regexp.Regexp
	score float64
}{
	{regexp.MustCompile(`(?i)\bURGENT\b`), 5},
	{regexp.MustCompile(`(?i)\bASAP\b|(?i)high[- ]?priority`), 4},
	{regexp.MustCompile(`(?i)low[- ]?priority`), 2},
	{regexp.MustCompile(`(?i)whenever|(?i)no[- ]?rush`), 1},
}

var deadlinePatterns = []struct {
	re    *regexp.Regexp
	score float64
}{
	{regexp.MustCompile(`(?i)by\s+(today|end[- ]of[- ]day|EOD)`), 5},
	{regexp.MustCompile(`(?i)by\s+(tomorrow|end[- ]of[- ]week|Friday|this week)`), 4},
	{regexp.MustCompile(`(?i)by\s+(next\s+week|next\s+monday)`), 3},
	{regexp.MustCompile(`(?i)by\s+(end[- ]of[- ]month|next\s+month)`), 2},
	{regexp.MustCompile(`(?i)by\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)`), 4},
}

var senderRe = regexp.MustCompile(`(?i)\*\*From\*\*:\s*(\S+@\S+)|sender[:\s]+(\S+@\S+)`)

// Scorer computes priority scores against a configured vip list and weights.
type Scorer struct {
	Weights    Weights
	VIPSenders []string
}

// NewScorer returns a Scorer with the given VIP sender list and default
// weights.
func NewScorer(vipSenders []string) *Scorer {
	return &Scorer{Weights: DefaultWeights, VIPSenders: vipSenders}
}

// NewScorerWithWeights returns a Scorer with an explicit weight
// configuration, used when the urgency/deadline/sender weights are
// overridden via config rather than left at DefaultWeights.
func NewScorerWithWeights(vipSenders []string, weights Weights) *Scorer {
	return &Scorer{Weights: weights, VIPSenders: vipSenders}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Score reads path's content and modified time and returns a value in
// [1.0, 5.0].
func (s *Scorer) Score(path string) (float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	body := string(raw)

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	u := scoreUrgency(body)
	d := scoreDeadline(body)
	sc := s.scoreSender(body)
	a := ageBoost(info.ModTime())

	raw64 := s.Weights.Urgency*u + s.Weights.Deadline*d + s.Weights.Sender*sc + a
	return clamp(raw64, 1.0, 5.0), nil
}

func scoreUrgency(body string) float64 {
	for _, p := range urgencyPatterns {
		if p.re.MatchString(body) {
			return p.score
		}
	}
	return 3
}

func scoreDeadline(body string) float64 {
	for _, p := range deadlinePatterns {
		if p.re.MatchString(body) {
			return p.score
		}
	}
	return 1
}

func (s *Scorer) scoreSender(body string) float64 {
	m := senderRe.FindStringSubmatch(body)
	if m == nil {
		return 2
	}
	addr := m[1]
	if addr == "" {
		addr = m[2]
	}
	addr = strings.ToLower(addr)

	for _, vip := range s.VIPSenders {
		if strings.ToLower(vip) == addr {
			return 5
		}
	}
	window := body
	if len(window) > 500 {
		window = window[:500]
	}
	if strings.Contains(addr, "client") || strings.Contains(strings.ToLower(window), "client") {
		return 4
	}
	domain := domainOf(addr)
	for _, vip := range s.VIPSenders {
		if domain != "" && domain == domainOf(strings.ToLower(vip)) {
			return 3
		}
	}
	return 2
}

func domainOf(addr string) string {
	idx := strings.IndexByte(addr, '@')
	if idx < 0 {
		return ""
	}
	return addr[idx+1:]
}

func ageBoost(modTime time.Time) float64 {
	age := time.Since(modTime)
	switch {
	case age >= 7*24*time.Hour:
		return 1.0
	case age >= 3*24*time.Hour:
		return 0.5
	case age >= 24*time.Hour:
		return 0.25
	default:
		return 0
	}
}
