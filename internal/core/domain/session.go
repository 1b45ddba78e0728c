package domain

import "slices"

type SessionState string

const (
	SessionOpen     SessionState = "open"
	SessionApproved SessionState = "approved"
	SessionRejected SessionState = "rejected"
)

// Choice is a single vote direction.
type Choice bool

const (
	Aye Choice = true
	Nay Choice = false
)

func (c Choice) String() string {
	if c {
		return "aye"
	}
	return "nay"
}

// VotingSession collects votes for one action. A voter appears in at most one of Ayes and Nays.
type VotingSession struct {
	Kind      ActionKind   `json:"kind"`
	ActionID  ActionID     `json:"action_id"`
	Quorum    uint32       `json:"quorum"`
	Ayes      []AccountID  `json:"ayes"`
	Nays      []AccountID  `json:"nays"`
	Creator   AccountID    `json:"creator"`
	CreatedAt uint64       `json:"created_at"`
	Deadline  uint64       `json:"deadline"`
	State     SessionState `json:"state"`
}

// HasVoted reports whether voter appears in either set.
func (s *VotingSession) HasVoted(voter AccountID) bool {
	return slices.Contains(s.Ayes, voter) || slices.Contains(s.Nays, voter)
}

// IsApproved reports whether enough ayes were collected.
func (s *VotingSession) IsApproved() bool {
	return uint32(len(s.Ayes)) >= s.Quorum
}

// HasOutcome reports whether either side reached quorum.
func (s *VotingSession) HasOutcome() bool {
	return s.IsApproved() || uint32(len(s.Nays)) >= s.Quorum
}

// IsExpired reports whether the voting period is over at block now.
func (s *VotingSession) IsExpired(now uint64) bool {
	return now >= s.Deadline
}

// Clone returns a deep copy.
func (s *VotingSession) Clone() *VotingSession {
	c := *s
	c.Ayes = slices.Clone(s.Ayes)
	c.Nays = slices.Clone(s.Nays)
	return &c
}
