package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests use logger.Close() to drain entries instead of time.Sleep,
// ensuring deterministic behavior with the race detector.

func TestLogAndQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(100, DefaultRetain, &buf)

	logger.Log("Sign", "hsm", "100", StatusOK, "127.0.0.1:50051", nil)
	logger.Log("GetPublicKey", "hsm", "100", StatusOK, "127.0.0.1:50051", nil)
	logger.Log("Sign", "software", "validator", StatusError, "", map[string]string{"reason": "x"})

	logger.Close()

	assert.Len(t, logger.Query("100", "", time.Time{}, time.Time{}, 0), 2)

	signs := logger.Query("", "Sign", time.Time{}, time.Time{}, 0)
	require.Len(t, signs, 2)
	assert.Equal(t, "validator", signs[0].KeyID, "newest first")

	var lines []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "audit", lines[0]["log"])
	assert.Equal(t, "Sign", lines[0]["operation"])
	assert.Equal(t, "hsm", lines[0]["backend"])
	assert.Equal(t, map[string]any{"reason": "x"}, lines[2]["metadata"])
}

func TestQueryLimit(t *testing.T) {
	logger := NewLogger(100, DefaultRetain, nil)

	for range 10 {
		logger.Log("Sign", "hsm", "1", StatusOK, "", nil)
	}
	logger.Close()

	assert.Len(t, logger.Query("", "", time.Time{}, time.Time{}, 3), 3)
}

func TestQueryTimeWindow(t *testing.T) {
	logger := NewLogger(10, DefaultRetain, nil)
	logger.Log("Sign", "hsm", "1", StatusOK, "", nil)
	logger.Close()

	future := time.Now().Add(time.Hour)
	assert.Empty(t, logger.Query("", "", future, time.Time{}, 0))
	assert.Len(t, logger.Query("", "", time.Time{}, future, 0), 1)
}

func TestLogEntryHasID(t *testing.T) {
	logger := NewLogger(100, DefaultRetain, nil)
	logger.Log("Sign", "hsm", "1", StatusOK, "", nil)
	logger.Close()

	entries := logger.Query("", "", time.Time{}, time.Time{}, 0)
	require.Len(t, entries, 1)
	_, err := uuid.Parse(entries[0].ID)
	assert.NoError(t, err)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	logger := NewLogger(0, DefaultRetain, nil)
	done := make(chan struct{})
	go func() {
		for range 100 {
			logger.Log("Sign", "hsm", "1", StatusOK, "", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Log blocked on a full buffer")
	}
	logger.Close()
}

func TestRetentionIsBounded(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(1000, 5, &buf)
	for i := range 12 {
		logger.Log("Sign", "hsm", strconv.Itoa(i), StatusOK, "", nil)
	}
	logger.Close()

	assert.Equal(t, 5, logger.Len())
	var got []string
	for _, e := range logger.Query("", "", time.Time{}, time.Time{}, 0) {
		got = append(got, e.KeyID)
	}
	assert.Equal(t, []string{"11", "10", "9", "8", "7"}, got)
	assert.Equal(t, 12, bytes.Count(buf.Bytes(), []byte("\n")), "every entry still reaches the output")
}

func TestRetentionPartiallyFilled(t *testing.T) {
	logger := NewLogger(10, 5, nil)
	logger.Log("Sign", "hsm", "a", StatusOK, "", nil)
	logger.Log("Sign", "hsm", "b", StatusOK, "", nil)
	logger.Close()

	entries := logger.Query("", "", time.Time{}, time.Time{}, 0)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].KeyID)
	assert.Equal(t, "a", entries[1].KeyID)
}

func TestRetentionDisabled(t *testing.T) {
	logger := NewLogger(10, 0, nil)
	logger.Log("Sign", "hsm", "1", StatusOK, "", nil)
	logger.Close()

	assert.Zero(t, logger.Len())
	assert.Empty(t, logger.Query("", "", time.Time{}, time.Time{}, 0))
}

func TestLogAfterCloseIsDropped(t *testing.T) {
	logger := NewLogger(10, DefaultRetain, nil)
	logger.Close()
	assert.NotPanics(t, func() { logger.Log("Sign", "hsm", "1", StatusOK, "", nil) })
	logger.Close()
	assert.Zero(t, logger.Len())
}
