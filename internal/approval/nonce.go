package approval

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// NonceLedger is the append-only single-use token ledger. Operations are
// serialized per-vault via mu since the ledger is a single file.
type NonceLedger struct {
	path string
	mu   sync.Mutex
}

// NewNonceLedger returns a ledger backed by path.
func NewNonceLedger(path string) *NonceLedger {
	return &NonceLedger{path: path}
}

// Generate mints a new single-use token: the hyphenated hex string of a
// random UUIDv4, which is URL-safe and carries 122 random bits (not 128).
func Generate() string {
	return uuid.New().String()
}

// RecordUsed appends nonce to the ledger.
func (l *NonceLedger) RecordUsed(nonce string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(nonce + "\n")
	return err
}

// IsUsed reports whether nonce has already been recorded.
func (l *NonceLedger) IsUsed(nonce string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == nonce {
			return true, nil
		}
	}
	return false, sc.Err()
}
