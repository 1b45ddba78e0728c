package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/infra/storage"
	"github.com/vietddude/ethbridge/internal/infra/storage/storagetest"
)

func TestBoltStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) *storage.Store {
		db, err := Open(filepath.Join(t.TempDir(), "bridge.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return NewStore(db)
	})
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	s := NewStore(db)
	require.NoError(t, s.Counters.Set(ctx, "ingress", "summary_root", 3))
	require.NoError(t, s.Ranges.SetActive(ctx, 1, domain.ActiveRange{Range: domain.NewBlockRange(40, 20)}))
	require.NoError(t, s.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	s = NewStore(db)

	v, err := s.Counters.Get(ctx, "ingress", "summary_root")
	require.NoError(t, err)
	require.Equal(t, uint64(3), v)

	ar, err := s.Ranges.GetActive(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, ar)
	require.Equal(t, uint32(40), ar.Range.StartBlock)
}
