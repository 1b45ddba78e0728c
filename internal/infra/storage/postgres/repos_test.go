package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/infra/storage"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Wrap(db), mock
}

func TestSessionRepo_SaveAndGet(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)
	ctx := context.Background()

	session := domain.VotingSession{
		Kind:      domain.ActionEventsPartition,
		ActionID:  domain.NewActionID("1/100+20/p0/ab", 3),
		Quorum:    4,
		Ayes:      []domain.AccountID{common.HexToAddress("0x01")},
		CreatedAt: 10,
		Deadline:  60,
		State:     domain.SessionOpen,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO voting_sessions")).
		WithArgs("events_partition", "1/100+20/p0/ab", int64(3), "open", int64(10), sqlmock.AnyArg(), []byte{0x01}).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Save(ctx, &storage.SessionRecord{Kind: domain.ActionEventsPartition, Session: session, Payload: []byte{0x01}})
	require.NoError(t, err)

	encoded, err := json.Marshal(session)
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT kind, session, payload FROM voting_sessions WHERE kind = $1 AND subject = $2 AND ingress_counter = $3")).
		WithArgs("events_partition", "1/100+20/p0/ab", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "session", "payload"}).
			AddRow("events_partition", encoded, []byte{0x01}))

	rec, err := repo.Get(ctx, domain.ActionEventsPartition, session.ActionID)
	require.NoError(t, err)
	assert.Equal(t, session.ActionID, rec.Session.ActionID)
	assert.Equal(t, session.Ayes, rec.Session.Ayes)
	assert.Equal(t, []byte{0x01}, rec.Payload)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT kind, session, payload FROM voting_sessions")).
		WithArgs("summary_root", "summary-root", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "session", "payload"}))

	_, err := repo.Get(context.Background(), domain.ActionSummaryRoot, domain.NewActionID("summary-root", 1))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionRepo_DeleteConcludedBefore(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM voting_sessions WHERE state <> $1 AND created_at < $2")).
		WithArgs("open", int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteConcludedBefore(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestCounterRepo(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCounterRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM counters WHERE scope = $1 AND key = $2")).
		WithArgs("nonce", "0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	v, err := repo.Get(ctx, "nonce", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO counters")).
		WithArgs("nonce", "0xabc", int64(2)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.Set(ctx, "nonce", "0xabc", 2))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM counters")).
		WithArgs("nonce", "0xabc").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(2))

	v, err = repo.Get(ctx, "nonce", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOffenceRepo_SaveIsTransactional(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOffenceRepo(db)

	offence := &domain.Offence{
		ID:         "id-1",
		Kind:       domain.OffenceRejectedValidAction,
		ActionID:   domain.NewActionID("subject", 1),
		Offenders:  []domain.AccountID{common.HexToAddress("0x01"), common.HexToAddress("0x02")},
		ReportedAt: 42,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO offences")).
		WithArgs("id-1", "rejected_valid_action", "subject", int64(1), int64(42)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO offence_offenders")).
		WithArgs("id-1", "rejected_valid_action", "subject", int64(1), common.HexToAddress("0x01").Hex()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO offence_offenders")).
		WithArgs("id-1", "rejected_valid_action", "subject", int64(1), common.HexToAddress("0x02").Hex()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), offence)
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOffenceRepo_List(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOffenceRepo(db)
	a := common.HexToAddress("0x0a")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, kind, subject, ingress_counter, reported_at FROM offences")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "subject", "ingress_counter", "reported_at"}).
			AddRow("id-1", "created_invalid_root", "summary-root", 4, 99))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT offence_id, kind, subject, ingress_counter, offender FROM offence_offenders")).
		WillReturnRows(sqlmock.NewRows([]string{"offence_id", "kind", "subject", "ingress_counter", "offender"}).
			AddRow("id-1", "created_invalid_root", "summary-root", 4, a.Hex()))

	out, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.OffenceCreatedInvalidRoot, out[0].Kind)
	assert.Equal(t, domain.NewActionID("summary-root", 4), out[0].ActionID)
	assert.Equal(t, []domain.AccountID{a}, out[0].Offenders)
}

func TestProcessedRepo_MarkProcessed(t *testing.T) {
	db, mock := newMock(t)
	repo := NewProcessedRepo(db)
	id := domain.EventID{Signature: common.HexToHash("0x01"), TxHash: common.HexToHash("0x02")}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
		WithArgs(id.Signature.Hex(), id.TxHash.Hex(), int64(120)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO processed_events")).
		WithArgs(id.Signature.Hex(), id.TxHash.Hex(), int64(120)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	fresh, err := repo.MarkProcessed(context.Background(), id, 120)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = repo.MarkProcessed(context.Background(), id, 120)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestRangeRepo(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRangeRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT start_block, length, partition FROM active_ranges WHERE instance = $1")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"start_block", "length", "partition"}))

	ar, err := repo.GetActive(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, ar)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO active_ranges")).
		WithArgs(int64(1), int64(200), int64(20), int32(2)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.SetActive(ctx, 1, domain.ActiveRange{Range: domain.NewBlockRange(200, 20), Partition: 2}))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT start_block, length, partition FROM active_ranges")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"start_block", "length", "partition"}).AddRow(200, 20, 2))

	ar, err = repo.GetActive(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, ar)
	assert.Equal(t, domain.NewBlockRange(200, 20), ar.Range)
	assert.Equal(t, uint16(2), ar.Partition)

	assert.NoError(t, mock.ExpectationsWereMet())
}
