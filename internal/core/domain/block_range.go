package domain

import (
	"errors"
	"fmt"
	"math"
)

var ErrZeroRangeLength = errors.New("range length must be positive")

// BlockRange is a span of external chain blocks attested to as a unit.
type BlockRange struct {
	_          struct{} `cbor:",toarray"`
	StartBlock uint32   `json:"start_block"`
	Length     uint32   `json:"length"`
}

// NewBlockRange builds a range starting at start covering length blocks.
func NewBlockRange(start, length uint32) BlockRange {
	return BlockRange{StartBlock: start, Length: length}
}

// EndBlock returns the last block included in the range.
func (r BlockRange) EndBlock() uint32 {
	end := saturatingAdd(r.StartBlock, r.Length)
	if end == 0 {
		return 0
	}
	return end - 1
}

// NextRange returns the adjacent range of the same length.
func (r BlockRange) NextRange() BlockRange {
	return BlockRange{StartBlock: saturatingAdd(r.StartBlock, r.Length), Length: r.Length}
}

// Contains reports whether block falls within the range.
func (r BlockRange) Contains(block uint64) bool {
	return r.Length > 0 && block >= uint64(r.StartBlock) && block <= uint64(r.EndBlock())
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.StartBlock, r.EndBlock())
}

// StartBlockFromFinalised derives the first range start from an agreed latest block.
// The start is set five ranges back and aligned to the range length.
func StartBlockFromFinalised(block, length uint32) (uint32, error) {
	if length == 0 {
		return 0, ErrZeroRangeLength
	}
	var calc uint32
	back := uint64(length) * 5
	if uint64(block) > back {
		calc = block - uint32(back)
	}
	return calc - calc%length, nil
}

func saturatingAdd(a, b uint32) uint32 {
	if uint64(a)+uint64(b) > math.MaxUint32 {
		return math.MaxUint32
	}
	return a + b
}
