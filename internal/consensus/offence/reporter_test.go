package offence

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/infra/storage/memory"
)

type fakeSlasher struct {
	SlashFunc func(ctx context.Context, o domain.Offence) error
	slashed   []domain.Offence
}

func (f *fakeSlasher) Slash(ctx context.Context, o domain.Offence) error {
	f.slashed = append(f.slashed, o)
	if f.SlashFunc != nil {
		return f.SlashFunc(ctx, o)
	}
	return nil
}

var (
	alice = common.HexToAddress("0xa1")
	bob   = common.HexToAddress("0xb0")
	carol = common.HexToAddress("0xc0")
)

func newReporter() (*Reporter, *fakeSlasher) {
	slasher := &fakeSlasher{}
	return NewReporter(memory.NewStore().Offences, slasher, func() uint64 { return 42 }), slasher
}

func session(kind domain.ActionKind, state domain.SessionState, ayes, nays []domain.AccountID) domain.VotingSession {
	return domain.VotingSession{
		Kind:     kind,
		ActionID: domain.NewActionID("subject", 1),
		Quorum:   2,
		Ayes:     ayes,
		Nays:     nays,
		Creator:  carol,
		State:    state,
	}
}

func TestOnConcluded_Approved(t *testing.T) {
	r, slasher := newReporter()
	s := session(domain.ActionValidatorChange, domain.SessionApproved, []domain.AccountID{alice, carol}, []domain.AccountID{bob})

	require.NoError(t, r.OnConcluded(context.Background(), s))
	require.Len(t, slasher.slashed, 1)
	o := slasher.slashed[0]
	assert.Equal(t, domain.OffenceRejectedValidAction, o.Kind)
	assert.Equal(t, []domain.AccountID{bob}, o.Offenders)
	assert.Equal(t, uint64(42), o.ReportedAt)
	assert.NotEmpty(t, o.ID)
}

func TestOnConcluded_Rejected(t *testing.T) {
	r, slasher := newReporter()
	s := session(domain.ActionValidatorChange, domain.SessionRejected, []domain.AccountID{alice}, []domain.AccountID{bob, carol})

	require.NoError(t, r.OnConcluded(context.Background(), s))
	require.Len(t, slasher.slashed, 1)
	assert.Equal(t, domain.OffenceApprovedInvalidAction, slasher.slashed[0].Kind)
	assert.Equal(t, []domain.AccountID{alice}, slasher.slashed[0].Offenders)
}

func TestOnConcluded_RejectedRootBlamesCreator(t *testing.T) {
	r, slasher := newReporter()
	s := session(domain.ActionSummaryRoot, domain.SessionRejected, nil, []domain.AccountID{alice, bob})

	require.NoError(t, r.OnConcluded(context.Background(), s))
	require.Len(t, slasher.slashed, 1)
	assert.Equal(t, domain.OffenceCreatedInvalidRoot, slasher.slashed[0].Kind)
	assert.Equal(t, []domain.AccountID{carol}, slasher.slashed[0].Offenders)
}

func TestOnConcluded_NoMinority(t *testing.T) {
	r, slasher := newReporter()
	s := session(domain.ActionValidatorChange, domain.SessionApproved, []domain.AccountID{alice, bob}, nil)

	require.NoError(t, r.OnConcluded(context.Background(), s))
	assert.Empty(t, slasher.slashed)
}

func TestReport_Deduplicates(t *testing.T) {
	ctx := context.Background()
	r, slasher := newReporter()
	id := domain.NewActionID("subject", 1)

	require.NoError(t, r.InvalidSignature(ctx, id, alice))
	require.NoError(t, r.InvalidSignature(ctx, id, alice))
	require.Len(t, slasher.slashed, 1)
	assert.Equal(t, domain.OffenceInvalidSignatureSubmitted, slasher.slashed[0].Kind)

	// another action is a separate offence
	require.NoError(t, r.InvalidSignature(ctx, domain.NewActionID("subject", 2), alice))
	assert.Len(t, slasher.slashed, 2)
}

func TestReport_SlasherFailureKeepsReport(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore().Offences
	slasher := &fakeSlasher{SlashFunc: func(context.Context, domain.Offence) error {
		return errors.New("unavailable")
	}}
	r := NewReporter(store, slasher, func() uint64 { return 1 })

	err := r.InvalidSignature(ctx, domain.NewActionID("subject", 1), alice)
	require.Error(t, err)

	stored, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestLogSlasher(t *testing.T) {
	err := NewLogSlasher().Slash(context.Background(), domain.Offence{
		ID:        "x",
		Kind:      domain.OffenceRejectedValidAction,
		Offenders: []domain.AccountID{alice},
	})
	assert.NoError(t, err)
}
