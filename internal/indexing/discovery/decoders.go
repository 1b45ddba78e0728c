package discovery

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

const (
	wordLength     = 32
	halfWordLength = 16
	addressOffset  = 12 // topics carry 20-byte addresses left padded with zeros
	u64Offset      = 24
	u32Offset      = 28
	nftRefLength   = wordLength + 4 // uuid with dashes
)

var (
	ErrMissingData             = errors.New("missing data")
	ErrBadDataLength           = errors.New("bad data length")
	ErrWrongTopicCount         = errors.New("wrong topic count")
	ErrBadTopicLength          = errors.New("bad topic length")
	ErrDataOverflow            = errors.New("data overflow")
	ErrShouldOnlyContainTopics = errors.New("event should only contain topics")
	ErrBadRefLength            = errors.New("bad unique external ref length")
)

// DecodeError ties a decoding failure to the event kind that produced it.
type DecodeError struct {
	Kind domain.EventKind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder turns raw log data and topics into a typed payload.
// topics[0] is the event signature.
type Decoder func(data []byte, topics [][]byte) (domain.EventData, error)

func decodeErr(kind domain.EventKind, err error) error {
	return &DecodeError{Kind: kind, Err: err}
}

func checkTopics(kind domain.EventKind, topics [][]byte, count int, indexes ...int) error {
	if len(topics) != count {
		return decodeErr(kind, ErrWrongTopicCount)
	}
	for _, i := range indexes {
		if len(topics[i]) != wordLength {
			return decodeErr(kind, ErrBadTopicLength)
		}
	}
	return nil
}

func checkWord(kind domain.EventKind, data []byte) error {
	if len(data) == 0 {
		return decodeErr(kind, ErrMissingData)
	}
	if len(data) != wordLength {
		return decodeErr(kind, ErrBadDataLength)
	}
	return nil
}

func hasNonZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return true
		}
	}
	return false
}

// u128 reads a 32-byte word whose high half must be zero.
func u128(kind domain.EventKind, word []byte) (*uint256.Int, error) {
	if hasNonZero(word[:halfWordLength]) {
		return nil, decodeErr(kind, ErrDataOverflow)
	}
	return new(uint256.Int).SetBytes(word[halfWordLength:wordLength]), nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// DecodeAddedValidator parses LogValidatorRegistered.
func DecodeAddedValidator(data []byte, topics [][]byte) (domain.EventData, error) {
	kind := domain.EventKindAddedValidator
	if err := checkWord(kind, data); err != nil {
		return domain.EventData{}, err
	}
	if err := checkTopics(kind, topics, 4, 1, 2, 3); err != nil {
		return domain.EventData{}, err
	}

	out := &domain.AddedValidatorData{
		T2Address:          common.BytesToHash(topics[3]),
		ValidatorAccountID: new(uint256.Int).SetBytes(data),
	}
	copy(out.EthPublicKey[:wordLength], topics[1])
	copy(out.EthPublicKey[wordLength:], topics[2])
	return domain.EventData{Kind: kind, AddedValidator: out}, nil
}

// DecodeLifted parses LogLifted.
func DecodeLifted(data []byte, topics [][]byte) (domain.EventData, error) {
	kind := domain.EventKindLifted
	if err := checkWord(kind, data); err != nil {
		return domain.EventData{}, err
	}
	if err := checkTopics(kind, topics, 4, 1, 2, 3); err != nil {
		return domain.EventData{}, err
	}
	amount, err := u128(kind, data)
	if err != nil {
		return domain.EventData{}, err
	}

	return domain.EventData{Kind: kind, Lifted: &domain.LiftedData{
		TokenContract:   common.BytesToAddress(topics[1][addressOffset:]),
		SenderAddress:   common.BytesToAddress(topics[2][addressOffset:]),
		ReceiverAddress: common.BytesToHash(topics[3]),
		Amount:          amount,
	}}, nil
}

// DecodeErc20Transfer parses Transfer(address,address,uint256). The token
// contract is the emitting address and is filled in by the caller.
func DecodeErc20Transfer(data []byte, topics [][]byte) (domain.EventData, error) {
	kind := domain.EventKindErc20Transfer
	if err := checkWord(kind, data); err != nil {
		return domain.EventData{}, err
	}
	if err := checkTopics(kind, topics, 3, 1, 2); err != nil {
		return domain.EventData{}, err
	}
	amount, err := u128(kind, data)
	if err != nil {
		return domain.EventData{}, err
	}

	return domain.EventData{Kind: kind, Lifted: &domain.LiftedData{
		SenderAddress: common.BytesToAddress(topics[1][addressOffset:]),
		Amount:        amount,
	}}, nil
}

// DecodeNftMint parses AvnMintTo. The string payload is abi encoded as
// offset, length and two words of content holding a 36 byte uuid.
func DecodeNftMint(data []byte, topics [][]byte) (domain.EventData, error) {
	kind := domain.EventKindNftMint
	if len(data) == 0 {
		return domain.EventData{}, decodeErr(kind, ErrMissingData)
	}
	if len(data) != 4*wordLength {
		return domain.EventData{}, decodeErr(kind, ErrBadDataLength)
	}
	if err := checkTopics(kind, topics, 4, 1, 2, 3); err != nil {
		return domain.EventData{}, err
	}

	ref := make([]byte, nftRefLength)
	copy(ref, data[2*wordLength:2*wordLength+nftRefLength])

	return domain.EventData{Kind: kind, NftMint: &domain.NftMintData{
		BatchID:           new(uint256.Int).SetBytes(topics[1]),
		SaleIndex:         beUint64(topics[2][u64Offset:]),
		T2OwnerPublicKey:  common.BytesToHash(topics[3]),
		UniqueExternalRef: ref,
	}}, nil
}

// DecodeNftTransferTo parses AvnTransferTo.
func DecodeNftTransferTo(data []byte, topics [][]byte) (domain.EventData, error) {
	kind := domain.EventKindNftTransferTo
	if len(data) > 0 {
		return domain.EventData{}, decodeErr(kind, ErrShouldOnlyContainTopics)
	}
	if err := checkTopics(kind, topics, 4, 1, 2, 3); err != nil {
		return domain.EventData{}, err
	}

	return domain.EventData{Kind: kind, NftTransferTo: &domain.NftTransferToData{
		NftID:                 new(uint256.Int).SetBytes(topics[1]),
		T2TransferToPublicKey: common.BytesToHash(topics[2]),
		OpID:                  beUint64(topics[3][u64Offset:]),
	}}, nil
}

// DecodeNftCancelListing parses AvnCancelNftListing.
func DecodeNftCancelListing(data []byte, topics [][]byte) (domain.EventData, error) {
	kind := domain.EventKindNftCancelListing
	if len(data) > 0 {
		return domain.EventData{}, decodeErr(kind, ErrShouldOnlyContainTopics)
	}
	if err := checkTopics(kind, topics, 3, 1, 2); err != nil {
		return domain.EventData{}, err
	}
	if hasNonZero(topics[2][:u64Offset]) {
		return domain.EventData{}, decodeErr(kind, ErrDataOverflow)
	}

	return domain.EventData{Kind: kind, NftCancelListing: &domain.NftCancelListingData{
		NftID: new(uint256.Int).SetBytes(topics[1]),
		OpID:  beUint64(topics[2][u64Offset:]),
	}}, nil
}

// DecodeNftEndBatchListing parses AvnEndBatchListing.
func DecodeNftEndBatchListing(data []byte, topics [][]byte) (domain.EventData, error) {
	kind := domain.EventKindNftEndBatchListing
	if len(data) > 0 {
		return domain.EventData{}, decodeErr(kind, ErrShouldOnlyContainTopics)
	}
	if err := checkTopics(kind, topics, 2, 1); err != nil {
		return domain.EventData{}, err
	}

	return domain.EventData{Kind: kind, NftEndBatchListing: &domain.NftEndBatchListingData{
		BatchID: new(uint256.Int).SetBytes(topics[1]),
	}}, nil
}

// DecodeAvtGrowthLifted parses LogGrowth.
func DecodeAvtGrowthLifted(data []byte, topics [][]byte) (domain.EventData, error) {
	kind := domain.EventKindAvtGrowthLifted
	if len(data) > 0 {
		return domain.EventData{}, decodeErr(kind, ErrShouldOnlyContainTopics)
	}
	if err := checkTopics(kind, topics, 3, 1, 2); err != nil {
		return domain.EventData{}, err
	}
	amount, err := u128(kind, topics[1])
	if err != nil {
		return domain.EventData{}, err
	}

	return domain.EventData{Kind: kind, AvtGrowthLifted: &domain.AvtGrowthLiftedData{
		Amount: amount,
		Period: uint32(beUint64(topics[2][u32Offset:])),
	}}, nil
}
