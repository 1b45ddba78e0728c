// Package partition slices the events of a block range into the ordered,
// size bounded partitions validators vote on. Every function is pure: the same
// range and events always produce byte identical partitions.
package partition

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/ethbridge/internal/core/codec"
	"github.com/vietddude/ethbridge/internal/core/domain"
)

var ErrPartitionNotFound = errors.New("partition not found")

// Create sorts events by (block, tx hash, signature, payload), drops repeated
// (block, tx hash) pairs and chunks the rest into partitions of at most
// domain.MaxEventsPerPartition events. A range without events still yields a
// single empty last partition.
func Create(rng domain.BlockRange, events []domain.ExternalEvent) ([]domain.EventsPartition, error) {
	sorted, err := canonical(events)
	if err != nil {
		return nil, err
	}

	if len(sorted) == 0 {
		return []domain.EventsPartition{{Range: rng, Partition: 0, IsLast: true, Events: []domain.ExternalEvent{}}}, nil
	}

	count := (len(sorted) + domain.MaxEventsPerPartition - 1) / domain.MaxEventsPerPartition
	parts := make([]domain.EventsPartition, 0, count)
	for i := 0; i < count; i++ {
		lo := i * domain.MaxEventsPerPartition
		hi := min(lo+domain.MaxEventsPerPartition, len(sorted))
		parts = append(parts, domain.EventsPartition{
			Range:     rng,
			Partition: uint16(i),
			IsLast:    i == count-1,
			Events:    sorted[lo:hi:hi],
		})
	}
	return parts, nil
}

// encodedEvent carries the payload encoding used to break ties between
// events of the same slot.
type encodedEvent struct {
	ev      domain.ExternalEvent
	payload []byte
}

func canonical(events []domain.ExternalEvent) ([]domain.ExternalEvent, error) {
	sorted := make([]encodedEvent, len(events))
	for i, ev := range events {
		b, err := codec.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("encode event %s in block %d: %w", ev.ID.TxHash.Hex(), ev.Block, err)
		}
		sorted[i] = encodedEvent{ev: ev, payload: b}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})

	out := make([]domain.ExternalEvent, 0, len(sorted))
	for _, e := range sorted {
		if len(out) > 0 && sameSlot(out[len(out)-1], e.ev) {
			continue
		}
		out = append(out, e.ev)
	}
	return out, nil
}

func less(a, b encodedEvent) bool {
	if a.ev.Block != b.ev.Block {
		return a.ev.Block < b.ev.Block
	}
	if c := bytes.Compare(a.ev.ID.TxHash[:], b.ev.ID.TxHash[:]); c != 0 {
		return c < 0
	}
	if c := bytes.Compare(a.ev.ID.Signature[:], b.ev.ID.Signature[:]); c != 0 {
		return c < 0
	}
	// Same slot: order by payload so the survivor of deduplication does not
	// depend on input order.
	return bytes.Compare(a.payload, b.payload) < 0
}

func sameSlot(a, b domain.ExternalEvent) bool {
	return a.Block == b.Block && a.ID.TxHash == b.ID.TxHash
}

// Encode returns the canonical CBOR encoding of p.
func Encode(p domain.EventsPartition) ([]byte, error) {
	if p.Events == nil {
		p.Events = []domain.ExternalEvent{}
	}
	b, err := codec.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode partition %d of %s: %w", p.Partition, p.Range, err)
	}
	return b, nil
}

// ID is the keccak-256 of the canonical encoding. Two partitions share an id
// iff their encodings are identical.
func ID(p domain.EventsPartition) (common.Hash, error) {
	b, err := Encode(p)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(b), nil
}

// Find returns the partition with index id.
func Find(parts []domain.EventsPartition, id uint16) (domain.EventsPartition, error) {
	for _, p := range parts {
		if p.Partition == id {
			return p, nil
		}
	}
	return domain.EventsPartition{}, fmt.Errorf("%w: index %d", ErrPartitionNotFound, id)
}
