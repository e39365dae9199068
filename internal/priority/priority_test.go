package priority

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBody(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.md")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestScoreBounds(t *testing.T) {
	s := NewScorer(nil)
	path := writeBody(t, "# Task\nplain text with no signals\n")
	score, err := s.Score(path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 1.0)
	assert.LessOrEqual(t, score, 5.0)
}

func TestUrgentScoresHigh(t *testing.T) {
	s := NewScorer(nil)
	path := writeBody(t, "# Task\nURGENT please handle\n")
	score, err := s.Score(path)
	require.NoError(t, err)
	assert.Greater(t, score, 3.0)
}

func TestNewScorerWithWeightsOverridesDefault(t *testing.T) {
	plain := writeBody(t, "# Task\nplain text with no signals\n")
	urgent := writeBody(t, "# Task\nURGENT please handle\n")

	zeroUrgency := NewScorerWithWeights(nil, Weights{Urgency: 0, Deadline: 0.5, Sender: 0.5})
	plainScore, err := zeroUrgency.Score(plain)
	require.NoError(t, err)
	urgentScore, err := zeroUrgency.Score(urgent)
	require.NoError(t, err)
	assert.InDelta(t, plainScore, urgentScore, 0.001, "urgency weight of 0 must cancel the urgency signal")

	defaultScorer := NewScorer(nil)
	defaultUrgentScore, err := defaultScorer.Score(urgent)
	require.NoError(t, err)
	assert.Greater(t, defaultUrgentScore, urgentScore, "default weights must score the same urgent task higher than a zero urgency weight does")
}

func TestAgeBoostOlderScoresHigher(t *testing.T) {
	s := NewScorer(nil)
	body := "# Task\nplain\n"

	youngPath := writeBody(t, body)
	oldPath := writeBody(t, body)
	oldTime := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, oldTime, oldTime))

	youngScore, err := s.Score(youngPath)
	require.NoError(t, err)
	oldScore, err := s.Score(oldPath)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, oldScore-youngScore, 0.99)
}

func TestVIPSenderScoresHigh(t *testing.T) {
	s := NewScorer([]string{"ceo@company.com"})
	path := writeBody(t, "# Task\n**From**: ceo@company.com\nplain\n")
	score, err := s.Score(path)
	require.NoError(t, err)
	assert.Greater(t, score, 2.0)
}
