package discovery

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

func topicsOf(hashes ...common.Hash) [][]byte {
	out := make([][]byte, len(hashes))
	for i, h := range hashes {
		out[i] = h.Bytes()
	}
	return out
}

func TestDecodeAddedValidator(t *testing.T) {
	lhs := common.HexToHash("0x1111")
	rhs := common.HexToHash("0x2222")
	t2 := common.HexToHash("0x3333")
	topics := topicsOf(domain.EventKindAddedValidator.Signature(), lhs, rhs, t2)

	got, err := DecodeAddedValidator(word(9), topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := got.AddedValidator
	if !bytes.Equal(d.EthPublicKey[:32], lhs.Bytes()) || !bytes.Equal(d.EthPublicKey[32:], rhs.Bytes()) {
		t.Errorf("public key halves not joined in order")
	}
	if d.T2Address != t2 || d.ValidatorAccountID.Uint64() != 9 {
		t.Errorf("unexpected payload %+v", d)
	}

	tests := []struct {
		name   string
		data   []byte
		topics [][]byte
		want   error
	}{
		{"missing data", nil, topics, ErrMissingData},
		{"short data", word(1)[:20], topics, ErrBadDataLength},
		{"three topics", word(1), topics[:3], ErrWrongTopicCount},
		{"short topic", word(1), [][]byte{topics[0], topics[1][:31], topics[2], topics[3]}, ErrBadTopicLength},
	}
	for _, tt := range tests {
		_, err := DecodeAddedValidator(tt.data, tt.topics)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestDecodeLifted(t *testing.T) {
	topics := topicsOf(
		domain.EventKindLifted.Signature(),
		common.BytesToHash(tokenContract.Bytes()),
		common.BytesToHash(senderAddress.Bytes()),
		receiverKey,
	)

	got, err := DecodeLifted(word(1000), topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := got.Lifted
	if d.TokenContract != tokenContract || d.SenderAddress != senderAddress || d.ReceiverAddress != receiverKey {
		t.Errorf("unexpected addresses %+v", d)
	}
	if d.Amount.Uint64() != 1000 {
		t.Errorf("expected 1000, got %s", d.Amount)
	}

	overflow := word(0)
	overflow[15] = 1
	if _, err := DecodeLifted(overflow, topics); !errors.Is(err, ErrDataOverflow) {
		t.Errorf("expected ErrDataOverflow, got %v", err)
	}

	var de *DecodeError
	_, err = DecodeLifted(nil, topics)
	if !errors.As(err, &de) || de.Kind != domain.EventKindLifted {
		t.Errorf("expected DecodeError for lifted, got %v", err)
	}
}

func TestDecodeNftMint(t *testing.T) {
	ref := []byte("b1dc0452-8b2f-78ec-7e80-167002d11678")
	data := make([]byte, 128)
	copy(data[:32], word(32))
	copy(data[32:64], word(uint64(len(ref))))
	copy(data[64:], ref)

	topics := topicsOf(
		domain.EventKindNftMint.Signature(),
		common.HexToHash("0x05"),
		common.HexToHash("0x0102"),
		common.HexToHash("0xabcd"),
	)

	got, err := DecodeNftMint(data, topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := got.NftMint
	if d.BatchID.Uint64() != 5 || d.SaleIndex != 0x0102 || d.T2OwnerPublicKey != common.HexToHash("0xabcd") {
		t.Errorf("unexpected payload %+v", d)
	}
	if !bytes.Equal(d.UniqueExternalRef, ref) {
		t.Errorf("expected ref %q, got %q", ref, d.UniqueExternalRef)
	}

	if _, err := DecodeNftMint(data[:96], topics); !errors.Is(err, ErrBadDataLength) {
		t.Errorf("expected ErrBadDataLength, got %v", err)
	}
}

func TestDecodeTopicOnlyEvents(t *testing.T) {
	nftID := common.HexToHash("0x77")

	transfer, err := DecodeNftTransferTo(nil, topicsOf(
		domain.EventKindNftTransferTo.Signature(), nftID, receiverKey, common.HexToHash("0x03"),
	))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if transfer.NftTransferTo.OpID != 3 || transfer.NftTransferTo.NftID.Uint64() != 0x77 {
		t.Errorf("unexpected transfer %+v", transfer.NftTransferTo)
	}

	cancel, err := DecodeNftCancelListing(nil, topicsOf(
		domain.EventKindNftCancelListing.Signature(), nftID, common.HexToHash("0x04"),
	))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancel.NftCancelListing.OpID != 4 {
		t.Errorf("expected op id 4, got %d", cancel.NftCancelListing.OpID)
	}

	bigOp := common.HexToHash("0x010000000000000000")
	if _, err := DecodeNftCancelListing(nil, topicsOf(domain.EventKindNftCancelListing.Signature(), nftID, bigOp)); !errors.Is(err, ErrDataOverflow) {
		t.Errorf("expected ErrDataOverflow, got %v", err)
	}

	end, err := DecodeNftEndBatchListing(nil, topicsOf(domain.EventKindNftEndBatchListing.Signature(), common.HexToHash("0x09")))
	if err != nil {
		t.Fatalf("end batch: %v", err)
	}
	if end.NftEndBatchListing.BatchID.Uint64() != 9 {
		t.Errorf("expected batch 9, got %s", end.NftEndBatchListing.BatchID)
	}

	growth, err := DecodeAvtGrowthLifted(nil, topicsOf(
		domain.EventKindAvtGrowthLifted.Signature(), common.HexToHash("0x0500"), common.HexToHash("0x0c"),
	))
	if err != nil {
		t.Fatalf("growth: %v", err)
	}
	if growth.AvtGrowthLifted.Amount.Uint64() != 0x0500 || growth.AvtGrowthLifted.Period != 12 {
		t.Errorf("unexpected growth %+v", growth.AvtGrowthLifted)
	}

	if _, err := DecodeNftTransferTo(word(1), nil); !errors.Is(err, ErrShouldOnlyContainTopics) {
		t.Errorf("expected ErrShouldOnlyContainTopics, got %v", err)
	}
	if _, err := DecodeNftEndBatchListing(nil, topicsOf(nftID)); !errors.Is(err, ErrWrongTopicCount) {
		t.Errorf("expected ErrWrongTopicCount, got %v", err)
	}
}

func TestDecodeErc20Transfer(t *testing.T) {
	topics := topicsOf(
		domain.EventKindErc20Transfer.Signature(),
		common.BytesToHash(senderAddress.Bytes()),
		common.BytesToHash(bridgeContract.Bytes()),
	)

	got, err := DecodeErc20Transfer(word(42), topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := got.Lifted
	if got.Kind != domain.EventKindErc20Transfer || d.SenderAddress != senderAddress {
		t.Errorf("unexpected payload %+v", d)
	}
	if d.TokenContract != (common.Address{}) || d.ReceiverAddress != (common.Hash{}) {
		t.Errorf("token and receiver should be left zero, got %+v", d)
	}
	if _, err := DecodeErc20Transfer(word(42), topics[:2]); !errors.Is(err, ErrWrongTopicCount) {
		t.Errorf("expected ErrWrongTopicCount, got %v", err)
	}
}
