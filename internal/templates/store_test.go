package templates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/helios-gateway/internal/engine"
	"github.com/JakeFAU/helios-gateway/internal/storage/memory"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewTemplateID() (string, error) {
	return fmt.Sprintf("tpl-%03d", s.n.Add(1)), nil
}

func startedStore(t *testing.T, snap Snapshotter, opts ...Option) *Store {
	t.Helper()
	s := NewStore(snap, &seqIDs{}, opts...)
	require.NoError(t, s.Start(context.Background()))
	return s
}

func TestAddThenGet(t *testing.T) {
	t.Parallel()

	s := startedStore(t, memory.NewSnapshot(nil))
	ctx := context.Background()

	created, err := s.Add(ctx, Template{
		Name:        "t1",
		Description: "d",
		Processes:   []engine.ProcessDescriptor{{Type: "X", Config: map[string]any{}}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, "t1", got.Name)
	require.Len(t, got.Processes, 1)
	require.Equal(t, "X", got.Processes[0].Type)
	require.True(t, s.Has(ctx, created.ID))
}

func TestAddRequiresName(t *testing.T) {
	t.Parallel()

	s := startedStore(t, memory.NewSnapshot(nil))
	_, err := s.Add(context.Background(), Template{Name: "  "})
	require.ErrorIs(t, err, ErrInvalid)
	require.Zero(t, s.Len())
}

func TestUseBeforeStart(t *testing.T) {
	t.Parallel()

	s := NewStore(memory.NewSnapshot(nil), &seqIDs{})
	_, err := s.Add(context.Background(), Template{Name: "early"})
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestRoundTripThroughSnapshot(t *testing.T) {
	t.Parallel()

	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()

			snap := memory.NewSnapshot(nil)
			ids := &seqIDs{}
			first := NewStore(snap, ids, WithFormat(format))
			require.NoError(t, first.Start(context.Background()))
			ctx := context.Background()

			for _, name := range []string{"a", "b", "c"} {
				_, err := first.Add(ctx, Template{
					Name: name,
					Processes: []engine.ProcessDescriptor{
						{Type: "sequence", Config: map[string]any{"count": 3}},
						{Type: "limit", Config: map[string]any{"count": 1}},
					},
				})
				require.NoError(t, err)
			}
			require.NoError(t, first.Remove(ctx, "tpl-002"))

			restarted := NewStore(snap, ids, WithFormat(format))
			require.NoError(t, restarted.Start(ctx))
			require.ElementsMatch(t, first.IDs(ctx), restarted.IDs(ctx))

			got, err := restarted.Get(ctx, "tpl-003")
			require.NoError(t, err)
			require.Equal(t, "c", got.Name)
			require.Len(t, got.Processes, 2)
			require.Equal(t, "limit", got.Processes[1].Type)
		})
	}
}

func TestUpdateReplacesWholesale(t *testing.T) {
	t.Parallel()

	snap := memory.NewSnapshot(nil)
	s := startedStore(t, snap)
	ctx := context.Background()

	created, err := s.Add(ctx, Template{
		Name:        "t",
		Description: "old",
		Processes: []engine.ProcessDescriptor{
			{Type: "values"}, {Type: "select"}, {Type: "limit"},
		},
	})
	require.NoError(t, err)

	updated, err := s.Update(ctx, created.ID, "new", []engine.ProcessDescriptor{{Type: "sequence"}})
	require.NoError(t, err)
	require.Equal(t, "t", updated.Name)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.Description)
	require.Equal(t, []engine.ProcessDescriptor{{Type: "sequence"}}, got.Processes)

	_, err = s.Update(ctx, "missing", "x", nil)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Remove(ctx, "missing"), ErrNotFound)
	require.Equal(t, 2, snap.Saves())
}

func TestFailedSaveRollsBack(t *testing.T) {
	t.Parallel()

	snap := memory.NewSnapshot(nil)
	s := startedStore(t, snap)
	ctx := context.Background()

	kept, err := s.Add(ctx, Template{Name: "kept", Description: "v1"})
	require.NoError(t, err)

	snap.FailSave = errors.New("disk full")

	_, err = s.Add(ctx, Template{Name: "lost"})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "add", perr.Op)
	require.Equal(t, 1, s.Len())

	_, err = s.Update(ctx, kept.ID, "v2", nil)
	require.ErrorAs(t, err, &perr)
	got, err := s.Get(ctx, kept.ID)
	require.NoError(t, err)
	require.Equal(t, "v1", got.Description)

	require.ErrorAs(t, s.Remove(ctx, kept.ID), &perr)
	require.True(t, s.Has(ctx, kept.ID))
}

func TestConcurrentAddsAreAllPersisted(t *testing.T) {
	t.Parallel()

	snap := memory.NewSnapshot(nil)
	ids := &seqIDs{}
	s := NewStore(snap, ids)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Add(ctx, Template{Name: fmt.Sprintf("t%d", i)}); err != nil {
				t.Errorf("add %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	reloaded := NewStore(snap, ids)
	require.NoError(t, reloaded.Start(ctx))
	require.Equal(t, writers, reloaded.Len())
	require.ElementsMatch(t, s.IDs(ctx), reloaded.IDs(ctx))
}

func TestReturnedTemplatesAreCopies(t *testing.T) {
	t.Parallel()

	s := startedStore(t, memory.NewSnapshot(nil))
	ctx := context.Background()
	created, err := s.Add(ctx, Template{
		Name:      "t",
		Processes: []engine.ProcessDescriptor{{Type: "filter", Config: map[string]any{"field": "a"}}},
	})
	require.NoError(t, err)

	created.Processes[0].Config["field"] = "mutated"
	all := s.All(ctx)
	all[0].Processes[0].Type = "mutated"

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "filter", got.Processes[0].Type)
	require.Equal(t, "a", got.Processes[0].Config["field"])
}

func TestStartFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	require.Error(t, NewStore(memory.NewSnapshot([]byte("{not json")), &seqIDs{}).Start(ctx))
	require.Error(t, NewStore(memory.NewSnapshot([]byte(`{"data":[{"name":"no id"}]}`)), &seqIDs{}).Start(ctx))
	require.Error(t, NewStore(memory.NewSnapshot([]byte(`{"data":[{"id":"a"},{"id":"a"}]}`)), &seqIDs{}).Start(ctx))

	s := NewStore(memory.NewSnapshot([]byte(`{"data":[{"id":"a","name":"x","description":"","processes":[{"type":"X","config":{}}]}]}`)), &seqIDs{})
	require.NoError(t, s.Start(ctx))
	require.Equal(t, []string{"a"}, s.IDs(ctx))
}

func TestFormatFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, FormatYAML, FormatFor("data/templates.yaml"))
	require.Equal(t, FormatYAML, FormatFor("T.YML"))
	require.Equal(t, FormatJSON, FormatFor("templates.json"))
	require.Equal(t, FormatJSON, FormatFor("helios:templates"))
}
