// Package ratelimit implements the per-(server, action_type) token bucket
// rate limiter (C11) with persisted JSON state.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/assadsharif/fte/internal/ferrors"
)

// Limit is a bucket's capacity and refill rate.
type Limit struct {
	MaxTokens      float64 `json:"max_tokens"`
	RefillPerMinute float64 `json:"refill_per_minute"`
}

// defaultLimits are the built-in action_type-keyed bucket defaults.
var defaultLimits = map[string]Limit{
	"email":   {MaxTokens: 100, RefillPerMinute: 10},
	"payment": {MaxTokens: 10, RefillPerMinute: 1},
	"deploy":  {MaxTokens: 20, RefillPerMinute: 2},
}

var elseLimit = Limit{MaxTokens: 3600, RefillPerMinute: 60}

type bucketState struct {
	MaxTokens       float64   `json:"max_tokens"`
	RefillPerMinute float64   `json:"refill_per_minute"`
	Tokens          float64   `json:"tokens"`
	LastRefill      time.Time `json:"last_refill"`
}

// Limiter owns every bucket for one vault, persisted as a JSON map keyed
// by "server:action_type".
type Limiter struct {
	path    string
	mu      sync.Mutex
	buckets map[string]*bucketState
	limits  map[string]Limit
}

// New returns a Limiter backed by path, loading any existing state.
func New(path string) *Limiter {
	l := &Limiter{path: path, buckets: map[string]*bucketState{}, limits: map[string]Limit{}}
	for k, v := range defaultLimits {
		l.limits[k] = v
	}
	l.load()
	return l
}

// AddLimit overrides or adds a limit for a given action_type.
func (l *Limiter) AddLimit(actionType string, limit Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[actionType] = limit
}

func key(server, actionType string) string {
	return fmt.Sprintf("%s:%s", server, actionType)
}

func (l *Limiter) limitFor(actionType string) Limit {
	if lim, ok := l.limits[actionType]; ok {
		return lim
	}
	return elseLimit
}

func (l *Limiter) getOrCreate(server, actionType string) *bucketState {
	k := key(server, actionType)
	b, ok := l.buckets[k]
	if !ok {
		lim := l.limitFor(actionType)
		b = &bucketState{MaxTokens: lim.MaxTokens, RefillPerMinute: lim.RefillPerMinute, Tokens: lim.MaxTokens, LastRefill: time.Now()}
		l.buckets[k] = b
	}
	return b
}

func refill(b *bucketState, now time.Time) {
	elapsed := now.Sub(b.LastRefill).Seconds()
	refillRate := b.RefillPerMinute / 60.0
	b.Tokens = min(b.MaxTokens, b.Tokens+elapsed*refillRate)
	b.LastRefill = now
}

// Consume attempts to take n tokens (default semantics: n=1) from the
// (server, actionType) bucket.
func (l *Limiter) Consume(server, actionType string, n float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getOrCreate(server, actionType)
	refill(b, time.Now())

	if b.Tokens < n {
		return ferrors.RateLimited(key(server, actionType), b.Tokens)
	}
	b.Tokens -= n
	return l.save()
}

// Remaining performs a non-destructive refill and returns the current
// token count.
func (l *Limiter) Remaining(server, actionType string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.getOrCreate(server, actionType)
	refill(b, time.Now())
	return b.Tokens
}

func (l *Limiter) load() {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	var stored map[string]*bucketState
	if err := json.Unmarshal(raw, &stored); err != nil {
		return
	}
	l.buckets = stored
}

func (l *Limiter) save() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(l.buckets, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
