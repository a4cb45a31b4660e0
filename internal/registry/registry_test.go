package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportbot/internal/eventbus"
	"reportbot/internal/storage"
	logx "reportbot/pkg/logx"
)

type memStore struct {
	mu      sync.Mutex
	ids     []string
	exists  bool
	readErr error
	failW   error
	writes  int
	audits  []storage.AuditEntry
}

func (m *memStore) ReadAll(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	if !m.exists {
		return nil, storage.ErrNotFound
	}
	return append([]string(nil), m.ids...), nil
}

func (m *memStore) WriteAll(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failW != nil {
		return m.failW
	}
	m.writes++
	m.exists = true
	m.ids = append([]string(nil), ids...)
	return nil
}

func (m *memStore) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, e)
	return nil
}

func (m *memStore) persisted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}

func loaded(t *testing.T, st *memStore) *Registry {
	t.Helper()
	r := New(st, logx.Nop())
	require.NoError(t, r.Load(context.Background()))
	return r
}

func TestLoadMissingStoreCreatesEmpty(t *testing.T) {
	st := &memStore{}
	r := loaded(t, st)

	assert.Equal(t, 0, r.Len())
	assert.True(t, st.exists)
	assert.Equal(t, 1, st.writes)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "corrupt", err: fmt.Errorf("x: %w", storage.ErrCorrupt), want: ErrRegistryCorrupt},
		{name: "unreadable", err: fmt.Errorf("%w: permission denied", storage.ErrUnreadable), want: ErrStoreUnreadable},
		{name: "other", err: errors.New("disk on fire"), want: ErrStoreUnreadable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := New(&memStore{readErr: tc.err}, logx.Nop())
			require.ErrorIs(t, r.Load(context.Background()), tc.want)

			_, err := r.Add(context.Background(), "111")
			require.ErrorIs(t, err, ErrNotLoaded)
		})
	}
}

func TestAddIsIdempotent(t *testing.T) {
	st := &memStore{exists: true}
	r := loaded(t, st)
	ctx := context.Background()

	added, err := r.Add(ctx, "111")
	require.NoError(t, err)
	assert.True(t, added)
	sizeAfterFirst := r.Len()

	added, err = r.Add(ctx, " 111 ")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, sizeAfterFirst, r.Len())
	assert.Equal(t, 1, st.writes, "no flush when nothing changed")
	assert.Equal(t, []string{"111"}, st.persisted())
}

func TestAddRejectsInvalidIDs(t *testing.T) {
	r := loaded(t, &memStore{exists: true})
	for _, id := range []string{"", "   ", "a b"} {
		_, err := r.Add(context.Background(), id)
		require.ErrorIs(t, err, ErrInvalidID, "id %q", id)
	}
	assert.Equal(t, 0, r.Len())
}

func TestRemoveSafety(t *testing.T) {
	st := &memStore{exists: true}
	r := loaded(t, st)
	ctx := context.Background()

	removed, err := r.Remove(ctx, "999")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 0, st.writes)

	_, err = r.Add(ctx, "111")
	require.NoError(t, err)
	removed, err = r.Remove(ctx, "999")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, []string{"111"}, st.persisted())

	removed, err = r.Remove(ctx, "111")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, st.persisted())
}

func TestFailedFlushRollsBack(t *testing.T) {
	st := &memStore{exists: true, ids: []string{"111"}}
	r := loaded(t, st)
	ctx := context.Background()

	st.failW = errors.New("disk full")

	added, err := r.Add(ctx, "222")
	require.ErrorIs(t, err, ErrPersistenceFailed)
	assert.False(t, added)
	assert.False(t, r.Contains("222"))

	removed, err := r.Remove(ctx, "111")
	require.ErrorIs(t, err, ErrPersistenceFailed)
	assert.False(t, removed)
	assert.True(t, r.Contains("111"))

	assert.Equal(t, []string{"111"}, r.Snapshot())
	assert.Equal(t, []string{"111"}, st.persisted())
}

func TestSnapshotIsACopy(t *testing.T) {
	r := loaded(t, &memStore{exists: true, ids: []string{"b", "a"}})
	snap := r.Snapshot()
	assert.Equal(t, []string{"a", "b"}, snap)

	snap[0] = "mutated"
	_, err := r.Remove(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, r.Snapshot())
}

func TestAuditAndEvents(t *testing.T) {
	st := &memStore{exists: true}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	r := New(st, logx.Nop(), WithBus(bus))
	require.NoError(t, r.Load(context.Background()))

	ctx := WithActor(WithReason(context.Background(), "command"), 7)
	_, err := r.Add(ctx, "111")
	require.NoError(t, err)
	_, err = r.Remove(WithRunID(WithReason(context.Background(), "forbidden"), "run-1"), "111")
	require.NoError(t, err)

	require.Len(t, st.audits, 2)
	assert.Equal(t, "subscriber.add", st.audits[0].Action)
	assert.Equal(t, int64(7), st.audits[0].ActorID)
	assert.Equal(t, "forbidden", st.audits[1].Reason)
	assert.Equal(t, "run-1", st.audits[1].RunID)

	assert.Equal(t, eventbus.SubscriberAdded, (<-events).Type)
	assert.Equal(t, eventbus.SubscriberRemoved, (<-events).Type)
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	st := &memStore{exists: true}
	r := loaded(t, st)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Add(ctx, fmt.Sprint(i))
			if i%2 == 0 {
				_, _ = r.Remove(ctx, fmt.Sprint(i))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
	assert.ElementsMatch(t, r.Snapshot(), st.persisted())
}

func TestRegisterScenarioOnFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	r := New(st, logx.Nop())
	require.NoError(t, r.Load(context.Background()))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	added, err := r.Add(context.Background(), "111")
	require.NoError(t, err)
	assert.True(t, added)

	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `["111"]`, string(raw))

	// A fresh process sees the same set.
	r2 := New(st, logx.Nop())
	require.NoError(t, r2.Load(context.Background()))
	assert.Equal(t, []string{"111"}, r2.Snapshot())
}

func TestLoadCorruptFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	require.NoError(t, os.WriteFile(path, []byte(`["111",`), 0o644))
	st, err := storage.Open(storage.Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	r := New(st, logx.Nop())
	require.ErrorIs(t, r.Load(context.Background()), ErrRegistryCorrupt)
	assert.Equal(t, 0, r.Len())
}
