package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ActionID names one voting session.
type ActionID struct {
	_              struct{} `cbor:",toarray"`
	Subject        string   `json:"subject"`
	IngressCounter uint64   `json:"ingress_counter"`
}

func NewActionID(subject string, counter uint64) ActionID {
	return ActionID{Subject: subject, IngressCounter: counter}
}

func (a ActionID) String() string {
	return fmt.Sprintf("%s#%d", a.Subject, a.IngressCounter)
}

type ActionKind string

const (
	ActionEventsPartition ActionKind = "events_partition"
	ActionLatestBlock     ActionKind = "latest_block"
	ActionValidatorChange ActionKind = "validator_change"
	ActionSummaryRoot     ActionKind = "summary_root"
)

// Action is the payload voted on. Only the field matching Kind is meaningful.
type Action struct {
	Kind            ActionKind
	Instance        InstanceID
	Partition       *EventsPartition
	LatestBlock     uint32
	ValidatorChange *ValidatorChange
	SummaryRoot     *SummaryRoot
}

type ValidatorChangeKind string

const (
	ValidatorActivation   ValidatorChangeKind = "activation"
	ValidatorDeactivation ValidatorChangeKind = "deactivation"
)

// ValidatorChange adds or removes a validator from the active set.
type ValidatorChange struct {
	Kind      ValidatorChangeKind
	Validator AccountID
	// EthPublicKey is the key registered on the external chain, set for activations.
	EthPublicKey []byte
}

// SummaryRoot is a periodic commitment of host chain state.
type SummaryRoot struct {
	_         struct{}    `cbor:",toarray"`
	FromBlock uint64      `json:"from_block"`
	ToBlock   uint64      `json:"to_block"`
	RootHash  common.Hash `json:"root_hash"`
	Counter   uint64      `json:"ingress_counter"`
}
