package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryLogAppend(t *testing.T) {
	log := HistoryLog{}

	log = log.Append(HistoryActionCreated, "Request created by Nguyen Van A")
	require.Len(t, log, 1)
	assert.Equal(t, HistoryActionCreated, log[0].Action)
	assert.Equal(t, "Request created by Nguyen Van A", log[0].Note)

	_, err := time.Parse(time.RFC3339, log[0].Timestamp)
	assert.NoError(t, err, "timestamp should be RFC 3339")

	log = log.Append(HistoryActionAutoForwarded, "System auto-forwarded to Technician due to request type")
	require.Len(t, log, 2)
	assert.Equal(t, HistoryActionCreated, log[0].Action, "earlier entries keep their order")
	assert.Equal(t, HistoryActionAutoForwarded, log[1].Action)
}

func TestHistoryLogAppendDoesNotMutateReceiver(t *testing.T) {
	original := HistoryLog{}.Append(HistoryActionCreated, "first")
	require.Len(t, original, 1)

	extended := original.Append(HistoryActionCancelled, "second")

	assert.Len(t, original, 1, "receiver must stay untouched")
	assert.Len(t, extended, 2)
}

func TestHistoryLogAppendDefaultNote(t *testing.T) {
	log := HistoryLog{}.Append("Status changed to assigned", "")
	require.Len(t, log, 1)
	assert.Equal(t, HistoryDefaultNote, log[0].Note)
}

func TestHistoryLogScanValue(t *testing.T) {
	log := HistoryLog{}.Append(HistoryActionCreated, "note")

	raw, err := log.Value()
	require.NoError(t, err)

	var decoded HistoryLog
	require.NoError(t, decoded.Scan([]byte(raw.(string))))
	assert.Equal(t, log, decoded)

	var empty HistoryLog
	require.NoError(t, empty.Scan(nil))
	assert.Empty(t, empty)
}

func TestHistoryLogValueNil(t *testing.T) {
	var log HistoryLog

	raw, err := log.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)

	var entries []HistoryEntry
	require.NoError(t, json.Unmarshal([]byte(raw.(string)), &entries))
	assert.Empty(t, entries)
}
