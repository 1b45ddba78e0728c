// Package storagetest holds the behaviour every storage.Store backend must share.
package storagetest

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/infra/storage"
)

// Run exercises every repository of a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) *storage.Store) {
	t.Run("Sessions", func(t *testing.T) { sessions(t, newStore(t)) })
	t.Run("Counters", func(t *testing.T) { counters(t, newStore(t)) })
	t.Run("Offences", func(t *testing.T) { offences(t, newStore(t)) })
	t.Run("Processed", func(t *testing.T) { processed(t, newStore(t)) })
	t.Run("Ranges", func(t *testing.T) { ranges(t, newStore(t)) })
}

func record(kind domain.ActionKind, subject string, counter, createdAt uint64, state domain.SessionState) *storage.SessionRecord {
	return &storage.SessionRecord{
		Kind: kind,
		Session: domain.VotingSession{
			Kind:      kind,
			ActionID:  domain.NewActionID(subject, counter),
			Quorum:    3,
			Ayes:      []domain.AccountID{common.HexToAddress("0x01")},
			CreatedAt: createdAt,
			Deadline:  createdAt + 100,
			State:     state,
		},
		Payload: []byte{0xca, 0xfe},
	}
}

func sessions(t *testing.T, s *storage.Store) {
	ctx := context.Background()
	repo := s.Sessions

	open := record(domain.ActionEventsPartition, "a", 1, 10, domain.SessionOpen)
	done := record(domain.ActionEventsPartition, "b", 1, 10, domain.SessionApproved)
	other := record(domain.ActionSummaryRoot, "a", 1, 10, domain.SessionOpen)
	for _, rec := range []*storage.SessionRecord{open, done, other} {
		require.NoError(t, repo.Save(ctx, rec))
	}

	got, err := repo.Get(ctx, domain.ActionEventsPartition, open.Session.ActionID)
	require.NoError(t, err)
	assert.Equal(t, open.Session.ActionID, got.Session.ActionID)
	assert.Equal(t, open.Session.Ayes, got.Session.Ayes)
	assert.Equal(t, open.Payload, got.Payload)

	_, err = repo.Get(ctx, domain.ActionEventsPartition, domain.NewActionID("missing", 1))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := repo.ListOpen(ctx, domain.ActionEventsPartition)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Session.ActionID.Subject)

	n, err := repo.DeleteConcludedBefore(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = repo.Get(ctx, domain.ActionEventsPartition, done.Session.ActionID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, domain.ActionEventsPartition, open.Session.ActionID))
	list, err = repo.ListOpen(ctx, domain.ActionEventsPartition)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func counters(t *testing.T, s *storage.Store) {
	ctx := context.Background()

	v, err := s.Counters.Get(ctx, "nonce", "x")
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, s.Counters.Set(ctx, "nonce", "x", 5))
	require.NoError(t, s.Counters.Set(ctx, "payment_nonce", "x", 9))

	v, err = s.Counters.Get(ctx, "nonce", "x")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)
}

func offences(t *testing.T, s *storage.Store) {
	ctx := context.Background()
	a, b := common.HexToAddress("0x0a"), common.HexToAddress("0x0b")
	id := domain.NewActionID("subject", 2)

	require.NoError(t, s.Offences.Save(ctx, &domain.Offence{
		ID:         "first",
		Kind:       domain.OffenceRejectedValidAction,
		ActionID:   id,
		Offenders:  []domain.AccountID{a},
		ReportedAt: 5,
	}))
	require.NoError(t, s.Offences.Save(ctx, &domain.Offence{
		ID:         "second",
		Kind:       domain.OffenceApprovedInvalidAction,
		ActionID:   id,
		Offenders:  []domain.AccountID{b},
		ReportedAt: 6,
	}))

	ok, err := s.Offences.Exists(ctx, domain.OffenceRejectedValidAction, id, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Offences.Exists(ctx, domain.OffenceRejectedValidAction, id, b)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.Offences.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].ID)
	assert.Equal(t, []domain.AccountID{a}, list[0].Offenders)
}

func processed(t *testing.T, s *storage.Store) {
	ctx := context.Background()
	old := domain.EventID{Signature: common.HexToHash("0x01"), TxHash: common.HexToHash("0x02")}
	recent := domain.EventID{Signature: common.HexToHash("0x01"), TxHash: common.HexToHash("0x03")}

	fresh, err := s.Processed.MarkProcessed(ctx, old, 10)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.Processed.MarkProcessed(ctx, old, 10)
	require.NoError(t, err)
	assert.False(t, fresh)

	_, err = s.Processed.MarkProcessed(ctx, recent, 50)
	require.NoError(t, err)

	n, err := s.Processed.DeleteBefore(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := s.Processed.IsProcessed(ctx, old)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Processed.IsProcessed(ctx, recent)
	require.NoError(t, err)
	assert.True(t, ok)
}

func ranges(t *testing.T, s *storage.Store) {
	ctx := context.Background()

	ar, err := s.Ranges.GetActive(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, ar)

	want := domain.ActiveRange{Range: domain.NewBlockRange(200, 20), Partition: 1}
	require.NoError(t, s.Ranges.SetActive(ctx, 7, want))

	ar, err = s.Ranges.GetActive(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, ar)
	assert.Equal(t, want, *ar)

	require.NoError(t, s.Ranges.Clear(ctx, 7))
	ar, err = s.Ranges.GetActive(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, ar)
}
