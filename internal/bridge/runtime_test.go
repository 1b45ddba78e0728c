package bridge

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/ethbridge/internal/consensus/auth"
	"github.com/vietddude/ethbridge/internal/consensus/voting"
	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/indexing/partition"
	"github.com/vietddude/ethbridge/internal/infra/storage"
	"github.com/vietddude/ethbridge/internal/infra/storage/memory"
)

const testInstance = domain.InstanceID(1)

type recordingSlasher struct {
	offences []domain.Offence
}

func (s *recordingSlasher) Slash(_ context.Context, o domain.Offence) error {
	s.offences = append(s.offences, o)
	return nil
}

func (s *recordingSlasher) kinds() map[domain.OffenceKind][]domain.AccountID {
	out := map[domain.OffenceKind][]domain.AccountID{}
	for _, o := range s.offences {
		out[o.Kind] = append(out[o.Kind], o.Offenders...)
	}
	return out
}

type fixture struct {
	rt      *Runtime
	store   *storage.Store
	signers []*auth.Signer
	slasher *recordingSlasher
	now     uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), slasher: &recordingSlasher{}, now: 1}
	var ids []domain.AccountID
	for i := 0; i < 5; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		s := auth.NewSigner(key)
		f.signers = append(f.signers, s)
		ids = append(ids, s.Address())
	}

	rt, err := NewRuntime(Config{VotingPeriod: 50, Now: func() uint64 { return f.now }}, f.store, NewValidatorSet(ids...), f.slasher)
	require.NoError(t, err)
	require.NoError(t, rt.AddInstance(domain.Instance{
		ID:             testInstance,
		ChainID:        1,
		BridgeContract: common.HexToAddress("0xb1"),
		RangeLength:    20,
	}, []common.Hash{domain.EventKindLifted.Signature()}))
	f.rt = rt
	return f
}

func (f *fixture) activate(t *testing.T, start uint32) domain.ActiveRange {
	t.Helper()
	active := domain.ActiveRange{Range: domain.NewBlockRange(start, 20)}
	require.NoError(t, f.store.Ranges.SetActive(context.Background(), testInstance, active))
	return active
}

func (f *fixture) vote(t *testing.T, i int, p domain.EventsPartition) error {
	t.Helper()
	sig, err := SignPartitionVote(f.signers[i], testInstance, p)
	require.NoError(t, err)
	return f.rt.SubmitVote(context.Background(), testInstance, f.signers[i].Address(), p, sig)
}

func mustPartitions(t *testing.T, rng domain.BlockRange, events []domain.ExternalEvent) []domain.EventsPartition {
	t.Helper()
	parts, err := partition.Create(rng, events)
	require.NoError(t, err)
	return parts
}

func lifted(block uint64, tx int64, amount uint64) domain.ExternalEvent {
	return domain.ExternalEvent{
		ID: domain.EventID{
			Signature: domain.EventKindLifted.Signature(),
			TxHash:    common.BigToHash(big.NewInt(tx)),
		},
		Data: domain.EventData{Kind: domain.EventKindLifted, Lifted: &domain.LiftedData{
			TokenContract:   common.HexToAddress("0xc1"),
			SenderAddress:   common.HexToAddress("0xd1"),
			ReceiverAddress: common.HexToHash("0xee"),
			Amount:          uint256.NewInt(amount),
		}},
		Block: block,
	}
}

func TestChooseLatestBlock(t *testing.T) {
	assert.Equal(t, uint32(300), ChooseLatestBlock([]uint32{100, 200, 300, 400}, voting.OneThirdQuorum(5)))
	assert.Equal(t, uint32(400), ChooseLatestBlock([]uint32{400}, 1))
	assert.Equal(t, uint32(100), ChooseLatestBlock([]uint32{100, 200}, 5))
	assert.Zero(t, ChooseLatestBlock(nil, 1))
}

func TestSubmitLatestBlock_AgreesInitialRange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i, block := range []uint32{100, 200, 300, 400} {
		voted, err := f.rt.HasVoted(ctx, testInstance, f.signers[i].Address())
		require.NoError(t, err)
		require.False(t, voted)

		sig, err := SignLatestBlock(f.signers[i], testInstance, block)
		require.NoError(t, err)
		require.NoError(t, f.rt.SubmitLatestBlock(ctx, testInstance, f.signers[i].Address(), block, sig))

		if i < 3 {
			voted, err = f.rt.HasVoted(ctx, testInstance, f.signers[i].Address())
			require.NoError(t, err)
			assert.True(t, voted)

			err = f.rt.SubmitLatestBlock(ctx, testInstance, f.signers[i].Address(), block, sig)
			assert.ErrorIs(t, err, ErrEventVoteExists)
		}
	}

	view, err := f.rt.View(ctx, testInstance, f.signers[4].Address())
	require.NoError(t, err)
	require.NotNil(t, view.Active)
	// 300 - 5*20 = 200, already aligned to 20
	assert.Equal(t, domain.NewBlockRange(200, 20), view.Active.Range)
	assert.Zero(t, view.Active.Partition)

	sig, err := SignLatestBlock(f.signers[4], testInstance, 500)
	require.NoError(t, err)
	err = f.rt.SubmitLatestBlock(ctx, testInstance, f.signers[4].Address(), 500, sig)
	assert.ErrorIs(t, err, voting.ErrVotingEnded)
}

func TestSubmitLatestBlock_InvalidSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sig, err := SignLatestBlock(f.signers[0], testInstance, 100)
	require.NoError(t, err)
	err = f.rt.SubmitLatestBlock(ctx, testInstance, f.signers[0].Address(), 101, sig)
	require.ErrorIs(t, err, ErrUnauthorizedSignedVote)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	voted, err := f.rt.HasVoted(ctx, testInstance, f.signers[0].Address())
	require.NoError(t, err)
	assert.False(t, voted)
	assert.Empty(t, f.slasher.offences)
}

func TestSubmitLatestBlock_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i, block := range []uint32{100, 200} {
		sig, err := SignLatestBlock(f.signers[i], testInstance, block)
		require.NoError(t, err)
		require.NoError(t, f.rt.SubmitLatestBlock(ctx, testInstance, f.signers[i].Address(), block, sig))
	}
	open, err := f.rt.OpenSessions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.ActionLatestBlock, open[0].Kind)

	// a runtime rebuilt over the same store continues the same vote
	rt, err := NewRuntime(Config{VotingPeriod: 50, Now: func() uint64 { return f.now }}, f.store, f.rt.Validators(), f.slasher)
	require.NoError(t, err)
	require.NoError(t, rt.AddInstance(domain.Instance{ID: testInstance, ChainID: 1, RangeLength: 20}, nil))

	voted, err := rt.HasVoted(ctx, testInstance, f.signers[0].Address())
	require.NoError(t, err)
	assert.True(t, voted)

	for i, block := range []uint32{300, 400} {
		sig, err := SignLatestBlock(f.signers[i+2], testInstance, block)
		require.NoError(t, err)
		require.NoError(t, rt.SubmitLatestBlock(ctx, testInstance, f.signers[i+2].Address(), block, sig))
	}
	view, err := rt.View(ctx, testInstance, f.signers[4].Address())
	require.NoError(t, err)
	require.NotNil(t, view.Active)
	assert.Equal(t, domain.NewBlockRange(200, 20), view.Active.Range)
}

func TestSubmitLatestBlock_ExpiryStartsNewRound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	voter := f.signers[0]

	sig, err := SignLatestBlock(voter, testInstance, 100)
	require.NoError(t, err)
	require.NoError(t, f.rt.SubmitLatestBlock(ctx, testInstance, voter.Address(), 100, sig))

	before, err := f.rt.View(ctx, testInstance, voter.Address())
	require.NoError(t, err)
	assert.True(t, before.HasVoted)

	f.now += 1000
	n, err := f.rt.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, f.slasher.offences, "too few submissions is nobody's fault")

	after, err := f.rt.View(ctx, testInstance, voter.Address())
	require.NoError(t, err)
	assert.False(t, after.HasVoted)
	assert.Greater(t, after.Round, before.Round)

	require.NoError(t, f.rt.SubmitLatestBlock(ctx, testInstance, voter.Address(), 100, sig))
}

func TestSubmitVote_QuorumDeliversOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	active := f.activate(t, 100)

	var delivered []domain.ExternalEvent
	f.rt.RegisterHandler(domain.EventKindLifted, HandlerFunc(func(_ context.Context, instance domain.InstanceID, ev domain.ExternalEvent) error {
		assert.Equal(t, testInstance, instance)
		delivered = append(delivered, ev)
		return nil
	}))

	tx := common.BigToHash(big.NewInt(7))
	require.NoError(t, f.rt.AddAdditionalTransaction(ctx, testInstance, tx))

	p := mustPartitions(t, active.Range, []domain.ExternalEvent{lifted(105, 7, 10)})[0]
	for i := 0; i < 3; i++ {
		require.NoError(t, f.vote(t, i, p))
		assert.Empty(t, delivered)
	}
	require.NoError(t, f.vote(t, 3, p))
	require.Len(t, delivered, 1)

	view, err := f.rt.View(ctx, testInstance, f.signers[4].Address())
	require.NoError(t, err)
	require.NotNil(t, view.Active)
	assert.Equal(t, active.Range.NextRange(), view.Active.Range)
	assert.Empty(t, view.AdditionalTxs, "delivered additional tx must leave the queue")
	assert.False(t, view.HasVoted)

	// the late validator is voting on a range that is no longer active
	err = f.vote(t, 4, p)
	assert.ErrorIs(t, err, ErrNonActiveEthereumRange)

	processed, err := f.store.Processed.IsProcessed(ctx, p.Events[0].ID)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Empty(t, f.slasher.offences)
}

func TestSubmitVote_NonLastPartitionAdvancesIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	active := f.activate(t, 100)

	var events []domain.ExternalEvent
	for i := 0; i < domain.MaxEventsPerPartition+1; i++ {
		events = append(events, lifted(100+uint64(i%20), int64(i+1), 1))
	}
	parts := mustPartitions(t, active.Range, events)
	require.Len(t, parts, 2)

	for i := 0; i < 4; i++ {
		require.NoError(t, f.vote(t, i, parts[0]))
	}
	got, err := f.store.Ranges.GetActive(ctx, testInstance)
	require.NoError(t, err)
	assert.Equal(t, active.Range, got.Range)
	assert.Equal(t, uint16(1), got.Partition)
}

func TestSubmitVote_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := mustPartitions(t, domain.NewBlockRange(100, 20), nil)[0]
	err := f.vote(t, 0, p)
	assert.ErrorIs(t, err, ErrNonActiveEthereumRange, "no active range yet")

	active := f.activate(t, 100)
	wrong := mustPartitions(t, domain.NewBlockRange(120, 20), nil)[0]
	assert.ErrorIs(t, f.vote(t, 0, wrong), ErrNonActiveEthereumRange)

	outsider, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := auth.NewSigner(outsider)
	sig, err := SignPartitionVote(s, testInstance, p)
	require.NoError(t, err)
	err = f.rt.SubmitVote(ctx, testInstance, s.Address(), p, sig)
	assert.ErrorIs(t, err, voting.ErrNotAValidator)

	err = f.rt.SubmitVote(ctx, domain.InstanceID(9), f.signers[0].Address(), p, sig)
	assert.ErrorIs(t, err, ErrUnknownInstance)

	// a signature over another content is rejected
	other := mustPartitions(t, active.Range, []domain.ExternalEvent{lifted(101, 1, 1)})[0]
	badSig, err := SignPartitionVote(f.signers[1], testInstance, other)
	require.NoError(t, err)
	err = f.rt.SubmitVote(ctx, testInstance, f.signers[1].Address(), p, badSig)
	assert.ErrorIs(t, err, ErrUnauthorizedSignedVote)
	assert.Empty(t, f.slasher.offences)

	// one vote per validator per slot, whatever the content
	require.NoError(t, f.vote(t, 0, p))
	assert.ErrorIs(t, f.vote(t, 0, p), ErrEventVoteExists)
	assert.ErrorIs(t, f.vote(t, 0, other), ErrEventVoteExists)
}

func TestSubmitVote_ForgedVoteDoesNotBlameValidator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	active := f.activate(t, 100)
	victim := f.signers[2].Address()

	for i := int64(1); i <= 3; i++ {
		p := mustPartitions(t, active.Range, []domain.ExternalEvent{lifted(101, i, 1)})[0]
		err := f.rt.SubmitVote(ctx, testInstance, victim, p, make([]byte, 65))
		assert.ErrorIs(t, err, ErrUnauthorizedSignedVote)
	}

	assert.Empty(t, f.slasher.offences)
	offences, err := f.rt.Offences(ctx)
	require.NoError(t, err)
	assert.Empty(t, offences)

	voted, err := f.rt.HasVoted(ctx, testInstance, victim)
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestSubmitVote_CompetingContentIsPenalised(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	active := f.activate(t, 100)

	honest := mustPartitions(t, active.Range, []domain.ExternalEvent{lifted(105, 1, 10)})[0]
	forged := mustPartitions(t, active.Range, []domain.ExternalEvent{lifted(105, 1, 9999)})[0]

	require.NoError(t, f.vote(t, 4, forged))
	for i := 0; i < 4; i++ {
		require.NoError(t, f.vote(t, i, honest))
	}

	offenders := f.slasher.kinds()
	assert.Equal(t, []domain.AccountID{f.signers[4].Address()}, offenders[domain.OffenceRejectedValidAction])
	assert.Empty(t, offenders[domain.OffenceApprovedInvalidAction])

	open, err := f.rt.OpenSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open, "competing sessions must be closed")
}

func TestSubmitVote_ExpiredSessionPenalisesAyes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	active := f.activate(t, 100)
	p := mustPartitions(t, active.Range, nil)[0]

	require.NoError(t, f.vote(t, 0, p))
	f.now = 1000
	n, err := f.rt.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []domain.AccountID{f.signers[0].Address()}, f.slasher.kinds()[domain.OffenceApprovedInvalidAction])

	view, err := f.rt.View(ctx, testInstance, f.signers[0].Address())
	require.NoError(t, err)
	assert.False(t, view.HasVoted)
	assert.Equal(t, uint64(1), view.Round)

	// the slot is open for voting again under the next counter
	require.NoError(t, f.vote(t, 0, p))
}

func TestDeliver_SkipsProcessedEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	active := f.activate(t, 100)
	ev := lifted(105, 3, 10)

	_, err := f.store.Processed.MarkProcessed(ctx, ev.ID, ev.Block)
	require.NoError(t, err)

	calls := 0
	f.rt.RegisterHandler(domain.EventKindLifted, HandlerFunc(func(context.Context, domain.InstanceID, domain.ExternalEvent) error {
		calls++
		return nil
	}))
	p := mustPartitions(t, active.Range, []domain.ExternalEvent{ev})[0]
	for i := 0; i < 4; i++ {
		require.NoError(t, f.vote(t, i, p))
	}
	assert.Zero(t, calls)
}

func TestAddAdditionalTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < MaxAdditionalTransactions; i++ {
		require.NoError(t, f.rt.AddAdditionalTransaction(ctx, testInstance, common.BigToHash(big.NewInt(int64(i+1)))))
	}
	err := f.rt.AddAdditionalTransaction(ctx, testInstance, common.HexToHash("0xffff"))
	assert.ErrorIs(t, err, ErrTooManyAdditionalTransactions)

	err = f.rt.AddAdditionalTransaction(ctx, testInstance, common.BigToHash(big.NewInt(1)))
	assert.ErrorIs(t, err, ErrAdditionalTransactionExists)
}

func TestResetRange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activate(t, 100)

	require.NoError(t, f.rt.ResetRange(ctx, testInstance))
	view, err := f.rt.View(ctx, testInstance, f.signers[0].Address())
	require.NoError(t, err)
	assert.Nil(t, view.Active)
	assert.Equal(t, uint64(1), view.Round)

	// a latest-block vote in progress is dropped as well
	sig, err := SignLatestBlock(f.signers[0], testInstance, 100)
	require.NoError(t, err)
	require.NoError(t, f.rt.SubmitLatestBlock(ctx, testInstance, f.signers[0].Address(), 100, sig))
	require.NoError(t, f.rt.ResetRange(ctx, testInstance))

	view, err = f.rt.View(ctx, testInstance, f.signers[0].Address())
	require.NoError(t, err)
	assert.False(t, view.HasVoted)
	assert.Equal(t, uint64(2), view.Round)
	open, err := f.rt.OpenSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func (f *fixture) ballot(t *testing.T, i int, kind domain.ActionKind, id domain.ActionID, choice domain.Choice) Ballot {
	t.Helper()
	action, err := f.rt.Action(context.Background(), kind, id)
	require.NoError(t, err)
	sign := SignValidatorVote
	if kind == domain.ActionSummaryRoot {
		sign = SignRootVote
	}
	b, err := sign(f.signers[i], id, action, choice)
	require.NoError(t, err)
	return b
}

func TestValidatorChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	newcomer := common.HexToAddress("0x1234")

	id, err := f.rt.ProposeValidatorChange(ctx, f.signers[0].Address(), domain.ValidatorChange{
		Kind:      domain.ValidatorActivation,
		Validator: newcomer,
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err = f.rt.VoteValidatorChange(ctx, f.ballot(t, i, domain.ActionValidatorChange, id, domain.Aye))
		require.NoError(t, err)
	}
	assert.True(t, f.rt.Validators().IsValidator(newcomer))
	assert.Equal(t, 6, f.rt.Validators().Count())

	// a signature for aye does not authorize a nay
	next, err := f.rt.ProposeValidatorChange(ctx, f.signers[0].Address(), domain.ValidatorChange{
		Kind:      domain.ValidatorDeactivation,
		Validator: newcomer,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.IngressCounter)
	b := f.ballot(t, 0, domain.ActionValidatorChange, next, domain.Aye)
	b.Choice = domain.Nay
	_, err = f.rt.VoteValidatorChange(ctx, b)
	assert.ErrorIs(t, err, ErrUnauthorizedSignedVote)
	assert.Empty(t, f.slasher.offences)
}

func TestVoteValidatorChange_InvalidSignatures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.rt.ProposeValidatorChange(ctx, f.signers[0].Address(), domain.ValidatorChange{
		Kind:      domain.ValidatorDeactivation,
		Validator: f.signers[4].Address(),
	})
	require.NoError(t, err)
	victim := f.signers[1].Address()

	tests := []struct {
		name  string
		mod   func(b *Ballot)
		wantE error
	}{
		{
			name:  "garbage in a validator's name",
			mod:   func(b *Ballot) { b.Signature = make([]byte, 65); b.Approval = make([]byte, 65) },
			wantE: ErrUnauthorizedSignedVote,
		},
		{
			name:  "outsider",
			mod:   func(b *Ballot) { b.Voter = common.HexToAddress("0xdead") },
			wantE: voting.ErrNotAValidator,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := f.ballot(t, 1, domain.ActionValidatorChange, id, domain.Aye)
			tt.mod(&b)
			_, err := f.rt.VoteValidatorChange(ctx, b)
			assert.ErrorIs(t, err, tt.wantE)
		})
	}
	assert.Empty(t, f.slasher.offences, "nothing proves the voter sent these")

	// the voter's own signature with an approval over something else
	b := f.ballot(t, 1, domain.ActionValidatorChange, id, domain.Aye)
	b.Approval, err = SignApproval(f.signers[1], id, domain.Action{Kind: domain.ActionValidatorChange})
	require.NoError(t, err)
	_, err = f.rt.VoteValidatorChange(ctx, b)
	require.ErrorIs(t, err, ErrUnauthorizedSignedVote)
	assert.Equal(t, []domain.AccountID{victim}, f.slasher.kinds()[domain.OffenceInvalidSignatureSubmitted])

	voted, err := f.rt.changes.HasVoted(ctx, id, victim)
	require.NoError(t, err)
	assert.False(t, voted)
}

func TestSummaryRoot_RejectedBlamesCreator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	creator := f.signers[0]

	root := domain.SummaryRoot{FromBlock: 1, ToBlock: 10, RootHash: common.HexToHash("0xabc"), Counter: 1}
	_, err := f.rt.ProposeRoot(ctx, creator.Address(), domain.SummaryRoot{Counter: 2})
	require.ErrorIs(t, err, auth.ErrInvalidIngressCounter)

	id, err := f.rt.ProposeRoot(ctx, creator.Address(), root)
	require.NoError(t, err)

	_, err = f.rt.VoteRoot(ctx, f.ballot(t, 0, domain.ActionSummaryRoot, id, domain.Aye))
	require.NoError(t, err)

	var last domain.VotingSession
	for i := 1; i < 5; i++ {
		last, err = f.rt.VoteRoot(ctx, f.ballot(t, i, domain.ActionSummaryRoot, id, domain.Nay))
		require.NoError(t, err)
	}
	assert.Equal(t, domain.SessionRejected, last.State)
	assert.Nil(t, f.rt.LastRoot())

	kinds := f.slasher.kinds()
	assert.Equal(t, []domain.AccountID{creator.Address()}, kinds[domain.OffenceCreatedInvalidRoot])
	assert.Equal(t, []domain.AccountID{creator.Address()}, kinds[domain.OffenceApprovedInvalidAction])

	// the next proposal uses the next counter
	root.Counter = 2
	_, err = f.rt.ProposeRoot(ctx, creator.Address(), root)
	require.NoError(t, err)
}

func TestSummaryRoot_EndVotingPeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := domain.SummaryRoot{FromBlock: 1, ToBlock: 10, RootHash: common.HexToHash("0xabc"), Counter: 1}
	id, err := f.rt.ProposeRoot(ctx, f.signers[0].Address(), root)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.rt.VoteRoot(ctx, f.ballot(t, i, domain.ActionSummaryRoot, id, domain.Aye))
		require.NoError(t, err)
	}

	endSig, err := SignEndVotingPeriod(f.signers[1], id)
	require.NoError(t, err)
	_, err = f.rt.EndVotingPeriod(ctx, domain.ActionSummaryRoot, f.signers[1].Address(), id, endSig)
	require.ErrorIs(t, err, voting.ErrCannotConcludeYet)

	_, err = f.rt.EndVotingPeriod(ctx, domain.ActionSummaryRoot, f.signers[2].Address(), id, endSig)
	require.ErrorIs(t, err, ErrUnauthorizedSignedVote)
	assert.Empty(t, f.slasher.offences)

	_, err = f.rt.VoteRoot(ctx, f.ballot(t, 3, domain.ActionSummaryRoot, id, domain.Aye))
	require.NoError(t, err)
	require.NotNil(t, f.rt.LastRoot())
	assert.Equal(t, root.RootHash, f.rt.LastRoot().RootHash)

	_, err = f.rt.EndVotingPeriod(ctx, domain.ActionSummaryRoot, f.signers[1].Address(), id, endSig)
	assert.ErrorIs(t, err, voting.ErrStaleVote)
}

func TestExecuteSigned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.signers[0]

	var lowered []any
	f.rt.RegisterCall(auth.SignedLowerContext, func(_ context.Context, signer domain.AccountID, fields []any) error {
		assert.Equal(t, user.Address(), signer)
		lowered = fields
		return nil
	})

	fields := []any{common.HexToAddress("0x01"), uint256.NewInt(5)}
	payload, err := auth.ActionPayload(auth.SignedLowerContext, user.Address(), fields, 0)
	require.NoError(t, err)
	sig, err := user.Sign(payload)
	require.NoError(t, err)

	d := auth.Direct{Action: auth.SignedLowerContext, Sender: user.Address(), Signer: user.Address(), Fields: fields, Signature: sig}
	require.NoError(t, f.rt.ExecuteSigned(ctx, d))
	assert.Equal(t, fields, lowered)

	nonce, err := f.rt.Nonce(ctx, user.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)

	assert.ErrorIs(t, f.rt.ExecuteSigned(ctx, d), auth.ErrUnauthorized)

	d.Action = auth.SignedTransferContext
	assert.ErrorIs(t, f.rt.ExecuteSigned(ctx, d), ErrUnknownCall)
}
