package bridge

import (
	"github.com/vietddude/ethbridge/internal/consensus/auth"
	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/indexing/partition"
)

// SignPartitionVote signs the vote SubmitVote expects from the signer.
func SignPartitionVote(s *auth.Signer, instance domain.InstanceID, p domain.EventsPartition) ([]byte, error) {
	encoded, err := partition.Encode(p)
	if err != nil {
		return nil, err
	}
	return s.SignFields(auth.SubmitEventsHashContext, uint64(instance), s.Address(), encoded)
}

// SignLatestBlock signs the vote SubmitLatestBlock expects from the signer.
func SignLatestBlock(s *auth.Signer, instance domain.InstanceID, block uint32) ([]byte, error) {
	return s.SignFields(auth.LatestBlockHashContext, uint64(instance), s.Address(), block)
}

// SignValidatorVote builds a ballot on a validator change. Ayes carry an
// approval over action.
func SignValidatorVote(s *auth.Signer, id domain.ActionID, action domain.Action, choice domain.Choice) (Ballot, error) {
	return signBallot(s, auth.CastVoteContext, id, action, choice)
}

// SignRootVote builds a ballot on a summary root.
func SignRootVote(s *auth.Signer, id domain.ActionID, action domain.Action, choice domain.Choice) (Ballot, error) {
	return signBallot(s, auth.SummaryRootVoteContext, id, action, choice)
}

// SignApproval signs the action approved by an aye.
func SignApproval(s *auth.Signer, id domain.ActionID, action domain.Action) ([]byte, error) {
	return s.SignFields(auth.ApproveActionContext, id.Subject, id.IngressCounter, action)
}

func signBallot(s *auth.Signer, voteContext string, id domain.ActionID, action domain.Action, choice domain.Choice) (Ballot, error) {
	b := Ballot{Voter: s.Address(), ID: id, Choice: choice}
	var err error
	if b.Signature, err = s.SignFields(voteContext, id.Subject, id.IngressCounter, bool(choice)); err != nil {
		return Ballot{}, err
	}
	if choice == domain.Aye {
		if b.Approval, err = SignApproval(s, id, action); err != nil {
			return Ballot{}, err
		}
	}
	return b, nil
}

// SignEndVotingPeriod signs a request to conclude a session.
func SignEndVotingPeriod(s *auth.Signer, id domain.ActionID) ([]byte, error) {
	return s.SignFields(auth.EndVotingPeriodContext, id.Subject, id.IngressCounter)
}
