package runner

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestJobDuration_RunningWhenOnlyStarted(t *testing.T) {
	start := sql.NullTime{Time: time.Now(), Valid: true}
	assert.Equal(t, "running...", jobDuration(start, sql.NullTime{}))
}

func TestJobDuration_ZeroWhenNotStarted(t *testing.T) {
	assert.Equal(t, "0s", jobDuration(sql.NullTime{}, sql.NullTime{}))
}

func TestJobDuration_ComputesElapsedSeconds(t *testing.T) {
	start := sql.NullTime{Time: time.Now().Add(-5 * time.Second), Valid: true}
	end := sql.NullTime{Time: time.Now(), Valid: true}
	assert.Equal(t, "5s", jobDuration(start, end))
}

func TestBlake3Hex_IsDeterministicAndHex(t *testing.T) {
	data := []byte("artifact contents")
	a := blake3Hex(data)
	b := blake3Hex(data)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHub_AnyReturnsFalseWhenEmpty(t *testing.T) {
	h := newHub()
	_, _, ok := h.any()
	assert.False(t, ok)
}

func TestHub_AnyReturnsAddedRunner(t *testing.T) {
	h := newHub()
	id := uuid.New()
	h.add(id, &conn{})

	got, _, ok := h.any()
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestHub_RemoveDropsRunner(t *testing.T) {
	h := newHub()
	id := uuid.New()
	h.add(id, &conn{})
	h.remove(id)

	_, _, ok := h.any()
	assert.False(t, ok)
}
