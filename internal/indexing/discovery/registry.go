package discovery

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

var ErrDuplicateDecoder = errors.New("decoder already registered for signature")

// Registry maps event signatures to decoders. A signature has at most one decoder.
type Registry struct {
	mu       sync.RWMutex
	decoders map[common.Hash]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[common.Hash]Decoder)}
}

// DefaultRegistry holds the decoders of every known event kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for kind, dec := range map[domain.EventKind]Decoder{
		domain.EventKindAddedValidator:     DecodeAddedValidator,
		domain.EventKindLifted:             DecodeLifted,
		domain.EventKindNftMint:            DecodeNftMint,
		domain.EventKindNftTransferTo:      DecodeNftTransferTo,
		domain.EventKindNftCancelListing:   DecodeNftCancelListing,
		domain.EventKindNftEndBatchListing: DecodeNftEndBatchListing,
		domain.EventKindAvtGrowthLifted:    DecodeAvtGrowthLifted,
		domain.EventKindErc20Transfer:      DecodeErc20Transfer,
	} {
		if err := r.Register(kind.Signature(), dec); err != nil {
			panic(err) // signatures are distinct constants
		}
	}
	return r
}

// Register adds d for sig. Registering a signature twice returns ErrDuplicateDecoder.
func (r *Registry) Register(sig common.Hash, d Decoder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.decoders[sig]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDecoder, sig.Hex())
	}
	r.decoders[sig] = d
	return nil
}

func (r *Registry) Lookup(sig common.Hash) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[sig]
	return d, ok
}
