package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind identifies a bridge event type
type EventKind string

const (
	EventKindAddedValidator     EventKind = "added_validator"
	EventKindLifted             EventKind = "lifted"
	EventKindNftMint            EventKind = "nft_mint"
	EventKindNftTransferTo      EventKind = "nft_transfer_to"
	EventKindNftCancelListing   EventKind = "nft_cancel_listing"
	EventKindNftEndBatchListing EventKind = "nft_end_batch_listing"
	EventKindAvtGrowthLifted    EventKind = "avt_growth_lifted"
	EventKindErc20Transfer      EventKind = "erc20_transfer"
)

// Keccak-256 of the solidity event signatures.
var kindSignatures = map[EventKind]common.Hash{
	// LogValidatorRegistered(bytes32,bytes32,bytes32,uint256)
	EventKindAddedValidator: common.HexToHash("0xff083a6e395a67771f3c9108922bc274c27b38b48c210b0f6a8c5f4710c0494b"),
	// LogLifted(address,address,bytes32,uint256)
	EventKindLifted: common.HexToHash("0x8964776336bc2fa8ecaaf70b6f8e8450807efb1ff78f8b87980707aa821f0ec0"),
	// AvnMintTo(uint256,uint64,bytes32,string)
	EventKindNftMint: common.HexToHash("0x242e8a2c5335295f6294a23543699a458e6d5ed7a5839f93cc420116e0a31f99"),
	// AvnTransferTo(uint256,bytes32,uint64)
	EventKindNftTransferTo: common.HexToHash("0xfff226ba128aca9718a568817388f3711cfeedd8c81cec4d02dcefc50f3c67bb"),
	// AvnCancelNftListing(uint256,uint64)
	EventKindNftCancelListing: common.HexToHash("0xeb0a71ca01b1505be834cafcd54b651d77eafd1ca915d21c0898575bcab53358"),
	// AvnEndBatchListing(uint256)
	EventKindNftEndBatchListing: common.HexToHash("0x20c46236a16e176bc83a795b3a64ad94e5db8bc92afc8cc6d3fd4a3864211f8f"),
	// LogGrowth(uint256,uint32)
	EventKindAvtGrowthLifted: common.HexToHash("0x3ad58a8dc1110baa37ad88a68db14181b4ef0c69192dfa7699a9588960eca7fd"),
	// Transfer(address,address,uint256)
	EventKindErc20Transfer: common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
}

// AllEventKinds lists every known kind in a fixed order.
var AllEventKinds = []EventKind{
	EventKindAddedValidator,
	EventKindLifted,
	EventKindNftMint,
	EventKindNftTransferTo,
	EventKindNftCancelListing,
	EventKindNftEndBatchListing,
	EventKindAvtGrowthLifted,
	EventKindErc20Transfer,
}

// Signature returns the log topic0 of the event kind.
func (k EventKind) Signature() common.Hash {
	return kindSignatures[k]
}

// IsPrimary reports whether the event is emitted by a bridge contract.
// Secondary events are matched by topic only.
func (k EventKind) IsPrimary() bool {
	return k != EventKindErc20Transfer
}

// IsNft reports whether the kind belongs to the NFT marketplace.
func (k EventKind) IsNft() bool {
	switch k {
	case EventKindNftMint, EventKindNftTransferTo, EventKindNftCancelListing, EventKindNftEndBatchListing:
		return true
	}
	return false
}

// KindFromSignature maps a topic0 back to its kind.
func KindFromSignature(sig common.Hash) (EventKind, bool) {
	for _, k := range AllEventKinds {
		if kindSignatures[k] == sig {
			return k, true
		}
	}
	return "", false
}

// PrimaryKinds returns the primary event kinds.
func PrimaryKinds() []EventKind {
	var out []EventKind
	for _, k := range AllEventKinds {
		if k.IsPrimary() {
			out = append(out, k)
		}
	}
	return out
}

// SecondaryKinds returns the secondary event kinds.
func SecondaryKinds() []EventKind {
	var out []EventKind
	for _, k := range AllEventKinds {
		if !k.IsPrimary() {
			out = append(out, k)
		}
	}
	return out
}

// EventID is the identity of an external event.
type EventID struct {
	_         struct{}    `cbor:",toarray"`
	Signature common.Hash `json:"signature"`
	TxHash    common.Hash `json:"tx_hash"`
}

// ExternalEvent is a decoded log observed on the external chain.
type ExternalEvent struct {
	_     struct{}  `cbor:",toarray"`
	ID    EventID   `json:"event_id"`
	Data  EventData `json:"event_data"`
	Block uint64    `json:"block_number"`
}

// EventData is a tagged union of decoded payloads. Exactly one pointer matching Kind is set.
type EventData struct {
	Kind               EventKind               `cbor:"1,keyasint"           json:"kind"`
	AddedValidator     *AddedValidatorData     `cbor:"2,keyasint,omitempty" json:"added_validator,omitempty"`
	Lifted             *LiftedData             `cbor:"3,keyasint,omitempty" json:"lifted,omitempty"`
	NftMint            *NftMintData            `cbor:"4,keyasint,omitempty" json:"nft_mint,omitempty"`
	NftTransferTo      *NftTransferToData      `cbor:"5,keyasint,omitempty" json:"nft_transfer_to,omitempty"`
	NftCancelListing   *NftCancelListingData   `cbor:"6,keyasint,omitempty" json:"nft_cancel_listing,omitempty"`
	NftEndBatchListing *NftEndBatchListingData `cbor:"7,keyasint,omitempty" json:"nft_end_batch_listing,omitempty"`
	AvtGrowthLifted    *AvtGrowthLiftedData    `cbor:"8,keyasint,omitempty" json:"avt_growth_lifted,omitempty"`
}

type AddedValidatorData struct {
	EthPublicKey       [64]byte     `json:"eth_public_key"`
	T2Address          common.Hash  `json:"t2_address"`
	ValidatorAccountID *uint256.Int `json:"validator_account_id"`
}

// LiftedData is shared by LogLifted and plain ERC20 transfers into a bridge contract.
type LiftedData struct {
	TokenContract   common.Address `json:"token_contract"`
	SenderAddress   common.Address `json:"sender_address"`
	ReceiverAddress common.Hash    `json:"receiver_address"`
	Amount          *uint256.Int   `json:"amount"`
}

type NftMintData struct {
	BatchID           *uint256.Int `json:"batch_id"`
	T2OwnerPublicKey  common.Hash  `json:"t2_owner_public_key"`
	SaleIndex         uint64       `json:"sale_index"`
	UniqueExternalRef []byte       `json:"unique_external_ref"`
}

type NftTransferToData struct {
	NftID                 *uint256.Int `json:"nft_id"`
	T2TransferToPublicKey common.Hash  `json:"t2_transfer_to_public_key"`
	OpID                  uint64       `json:"op_id"`
}

type NftCancelListingData struct {
	NftID *uint256.Int `json:"nft_id"`
	OpID  uint64       `json:"op_id"`
}

type NftEndBatchListingData struct {
	BatchID *uint256.Int `json:"batch_id"`
}

type AvtGrowthLiftedData struct {
	Amount *uint256.Int `json:"amount"`
	Period uint32       `json:"period"`
}
