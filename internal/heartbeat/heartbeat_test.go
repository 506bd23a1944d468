package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silver2dream/pipesup/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "state", "heartbeat.json"))
}

func TestStore_ReadAbsent(t *testing.T) {
	rec, err := newTestStore(t).Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_WriteRead(t *testing.T) {
	s := newTestStore(t)
	at := time.UnixMilli(1700000000123)

	require.NoError(t, s.Write(NewRecord("implementer", at)))

	rec, err := s.Read()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "implementer", rec.AgentName)
	assert.Equal(t, int64(1700000000123), rec.Timestamp)
	assert.True(t, rec.Time().Equal(at))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"agent_name":"implementer","timestamp_ms":1700000000123}`, string(data))

	entries, _ := os.ReadDir(filepath.Dir(s.Path()))
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Clear(), "clearing a missing record is fine")

	require.NoError(t, Beat(s.Path(), "verifier"))
	require.NoError(t, s.Clear())

	rec, err := s.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_ReadCorrupt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0644))

	_, err := s.Read()
	require.Error(t, err)
}

func TestMonitor_IsFresh(t *testing.T) {
	s := newTestStore(t)
	m := NewMonitor(s, logging.Discard())

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.SetClock(func() time.Time { return now })

	assert.True(t, m.IsFresh(15*time.Minute), "absent record is fresh")

	require.NoError(t, s.Write(NewRecord("implementer", base)))

	now = base.Add(14 * time.Minute)
	assert.True(t, m.IsFresh(15*time.Minute))

	now = base.Add(15 * time.Minute)
	assert.True(t, m.IsFresh(15*time.Minute), "exactly max staleness is still fresh")

	now = base.Add(15*time.Minute + time.Millisecond)
	assert.False(t, m.IsFresh(15*time.Minute))

	// A new beat is picked up on the next call.
	require.NoError(t, s.Write(NewRecord("implementer", now)))
	assert.True(t, m.IsFresh(15*time.Minute))
}

func TestMonitor_ClockEvaluatedPerCall(t *testing.T) {
	s := newTestStore(t)
	m := NewMonitor(s, logging.Discard())

	base := time.Now()
	require.NoError(t, s.Write(NewRecord("strategist", base)))

	calls := 0
	m.SetClock(func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Minute)
	})

	assert.True(t, m.IsFresh(2*time.Minute))
	assert.True(t, m.IsFresh(2*time.Minute))
	assert.False(t, m.IsFresh(2*time.Minute))
	assert.Equal(t, 3, calls)
}

func TestMonitor_CorruptRecordIsFresh(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0644))

	m := NewMonitor(s, logging.Discard())
	assert.True(t, m.IsFresh(time.Nanosecond))
}

func TestMonitor_Age(t *testing.T) {
	s := newTestStore(t)
	m := NewMonitor(s, logging.Discard())
	base := time.Now()
	m.SetClock(func() time.Time { return base.Add(90 * time.Second) })

	_, _, ok := m.Age()
	assert.False(t, ok)

	require.NoError(t, s.Write(NewRecord("verifier", base)))
	age, rec, ok := m.Age()
	require.True(t, ok)
	assert.Equal(t, "verifier", rec.AgentName)
	assert.InDelta(t, float64(90*time.Second), float64(age), float64(time.Millisecond))
}

func TestMonitor_Watch(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
	m := NewMonitor(s, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	beats, err := m.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, Beat(s.Path(), "implementer"))

	select {
	case rec := <-beats:
		assert.Equal(t, "implementer", rec.AgentName)
	case <-time.After(5 * time.Second):
		t.Fatal("no beat observed")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-beats:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond, "channel closes after cancel")
}
