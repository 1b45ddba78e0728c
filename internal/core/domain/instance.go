package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// InstanceID identifies one bridge deployment tracked by the host.
type InstanceID uint64

func (id InstanceID) String() string {
	return fmt.Sprintf("instance-%d", uint64(id))
}

// Instance describes a bridge deployment on an external chain.
type Instance struct {
	ID             InstanceID
	ChainID        uint64
	BridgeContract common.Address
	RangeLength    uint32
	Confirmations  uint64
}

// AccountID identifies a validator or user on the host chain.
type AccountID = common.Address
