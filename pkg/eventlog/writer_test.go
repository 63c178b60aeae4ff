package eventlog

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocalcommit/pkg/events"
)

func TestWriteAndReadBack(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write(events.Event{
		Kind:      events.KindTaskCreated,
		TaskID:    "t1",
		Summary:   "task created",
		Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, w.Write(events.Event{
		Kind:    events.KindTaskFailed,
		TaskID:  "t1",
		Summary: "edit failed",
	}))

	got, err := ReadEvents(w.CurrentLogFile())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.KindTaskCreated, got[0].Kind)
	assert.Equal(t, events.KindTaskFailed, got[1].Kind)
	assert.Equal(t, "t1", got[1].TaskID)
}

func TestRotatesOnDateChange(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	day := time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return day }
	require.NoError(t, w.Write(events.Event{Kind: events.KindTaskCreated}))
	first := w.CurrentLogFile()

	w.now = func() time.Time { return day.Add(2 * time.Hour) }
	require.NoError(t, w.Write(events.Event{Kind: events.KindTaskCompleted}))
	second := w.CurrentLogFile()

	assert.NotEqual(t, first, second)
	assert.Contains(t, first, "events-2026-08-30.jsonl")
	assert.Contains(t, second, "events-2026-08-31.jsonl")
}

func TestReadEventsSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.Write(events.Event{Kind: events.KindTaskCreated}))
	path := w.CurrentLogFile()
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := ReadEvents(path)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
