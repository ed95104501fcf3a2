package idempotency

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKeyDeterministic(t *testing.T) {
	at := time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)

	k1 := GenerateKey("profile-1", "routine-1", at)
	k2 := GenerateKey("profile-1", "routine-1", at)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestGenerateKeyTruncatesToMinute(t *testing.T) {
	at := time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)
	withSeconds := at.Add(42 * time.Second)

	assert.Equal(t, GenerateKey("p", "r", at), GenerateKey("p", "r", withSeconds))
}

func TestGenerateKeyVariesByDose(t *testing.T) {
	at := time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)

	base := GenerateKey("p", "r", at)
	assert.NotEqual(t, base, GenerateKey("p2", "r", at))
	assert.NotEqual(t, base, GenerateKey("p", "r2", at))
	assert.NotEqual(t, base, GenerateKey("p", "r", at.Add(time.Minute)))
}

func TestIsTerminalHeuristic(t *testing.T) {
	i := &Inbox{config: DefaultInboxConfig()}

	assert.True(t, i.isTerminal(errors.New("schema validation failed")))
	assert.True(t, i.isTerminal(errors.New("routine not found")))
	assert.True(t, i.isTerminal(errors.New("reschedule conflict at target")))
	assert.False(t, i.isTerminal(errors.New("connection refused")))
}

func TestIsTerminalOverride(t *testing.T) {
	cfg := DefaultInboxConfig()
	cfg.IsTerminal = func(error) bool { return true }
	i := &Inbox{config: cfg}

	assert.True(t, i.isTerminal(errors.New("connection refused")))
}
