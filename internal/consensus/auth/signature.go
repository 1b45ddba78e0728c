package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/ethbridge/internal/core/codec"
	"github.com/vietddude/ethbridge/internal/core/domain"
)

// Domain separation contexts. Each signed action type uses its own.
const (
	SubmitEventsHashContext = "EthBridgeDiscoveredEthEventsHash"
	LatestBlockHashContext  = "EthBridgeLatestEthereumBlockHash"
	CastVoteContext         = "validators_manager_casting_vote"
	EndVotingPeriodContext  = "validators_manager_end_voting_period"
	SummaryRootVoteContext  = "summary_root_vote"
	ApproveActionContext    = "validators_action_approval"
	PaymentAuthContext      = "authorization for proxy payment"
	SignedTransferContext   = "token_manager_signed_transfer"
	SignedLowerContext      = "token_manager_signed_lower"
)

const (
	wrapPrefix = "<Bytes>"
	wrapSuffix = "</Bytes>"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidKey       = errors.New("invalid private key")
)

// Payload encodes the signed message [context, fields...] as a deterministic CBOR array.
func Payload(context string, fields ...any) ([]byte, error) {
	msg := make([]any, 0, len(fields)+1)
	msg = append(msg, context)
	msg = append(msg, fields...)
	b, err := codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", context, err)
	}
	return b, nil
}

// Wrap returns payload framed the way browser wallets sign raw bytes.
func Wrap(payload []byte) []byte {
	out := make([]byte, 0, len(wrapPrefix)+len(payload)+len(wrapSuffix))
	out = append(out, wrapPrefix...)
	out = append(out, payload...)
	return append(out, wrapSuffix...)
}

// Recover returns the account that signed keccak256(payload).
func Recover(payload, sig []byte) (domain.AccountID, error) {
	if len(sig) != crypto.SignatureLength {
		return domain.AccountID{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(payload), normalized)
	if err != nil {
		return domain.AccountID{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether signer signed payload, either raw or wrapped.
func Verify(signer domain.AccountID, payload, sig []byte) bool {
	if got, err := Recover(payload, sig); err == nil && got == signer {
		return true
	}
	got, err := Recover(Wrap(payload), sig)
	return err == nil && got == signer
}

// Signer holds the validator's secp256k1 key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address domain.AccountID
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// SignerFromHex parses a hex encoded private key, with or without 0x.
func SignerFromHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewSigner(key), nil
}

// SignerFromFile reads a hex encoded private key from path.
func SignerFromFile(path string) (*Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return SignerFromHex(string(b))
}

func (s *Signer) Address() domain.AccountID {
	return s.address
}

// Sign signs keccak256(payload).
func (s *Signer) Sign(payload []byte) ([]byte, error) {
	return crypto.Sign(crypto.Keccak256(payload), s.key)
}

// SignFields builds the payload for context and signs it.
func (s *Signer) SignFields(context string, fields ...any) ([]byte, error) {
	payload, err := Payload(context, fields...)
	if err != nil {
		return nil, err
	}
	return s.Sign(payload)
}
