package partition

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/vietddude/ethbridge/internal/core/domain"
)

func liftedEvent(block uint64, tx int64, amount uint64) domain.ExternalEvent {
	return domain.ExternalEvent{
		ID: domain.EventID{
			Signature: domain.EventKindLifted.Signature(),
			TxHash:    common.BigToHash(big.NewInt(tx)),
		},
		Data: domain.EventData{Kind: domain.EventKindLifted, Lifted: &domain.LiftedData{
			TokenContract:   common.HexToAddress("0xc1"),
			SenderAddress:   common.HexToAddress("0xd1"),
			ReceiverAddress: common.HexToHash("0xee"),
			Amount:          uint256.NewInt(amount),
		}},
		Block: block,
	}
}

func eventsFromSeeds(seeds []uint32) []domain.ExternalEvent {
	out := make([]domain.ExternalEvent, len(seeds))
	for i, s := range seeds {
		out[i] = liftedEvent(uint64(s%20), int64(s%97), uint64(s))
	}
	return out
}

func ids(t *testing.T, parts []domain.EventsPartition) []common.Hash {
	t.Helper()
	out := make([]common.Hash, len(parts))
	for i, p := range parts {
		id, err := ID(p)
		if err != nil {
			t.Fatalf("ID failed: %v", err)
		}
		out[i] = id
	}
	return out
}

func mustCreate(t *testing.T, rng domain.BlockRange, events []domain.ExternalEvent) []domain.EventsPartition {
	t.Helper()
	parts, err := Create(rng, events)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return parts
}

func TestCreate_Empty(t *testing.T) {
	rng := domain.NewBlockRange(100, 20)
	parts := mustCreate(t, rng, nil)
	if len(parts) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(parts))
	}
	if parts[0].Partition != 0 || !parts[0].IsLast || len(parts[0].Events) != 0 {
		t.Errorf("unexpected empty partition %+v", parts[0])
	}
	if parts[0].Range != rng {
		t.Errorf("partition should carry the range")
	}
}

func TestCreate_Chunks(t *testing.T) {
	var events []domain.ExternalEvent
	for i := 0; i < 70; i++ {
		events = append(events, liftedEvent(uint64(i), int64(i+1), 1))
	}

	parts := mustCreate(t, domain.NewBlockRange(0, 100), events)
	if len(parts) != 3 {
		t.Fatalf("expected 3 partitions, got %d", len(parts))
	}
	sizes := []int{32, 32, 6}
	for i, p := range parts {
		if int(p.Partition) != i {
			t.Errorf("partition %d has index %d", i, p.Partition)
		}
		if len(p.Events) != sizes[i] {
			t.Errorf("partition %d: expected %d events, got %d", i, sizes[i], len(p.Events))
		}
		if p.IsLast != (i == 2) {
			t.Errorf("partition %d: unexpected IsLast %v", i, p.IsLast)
		}
	}
}

func TestCreate_SortsAndDeduplicates(t *testing.T) {
	a := liftedEvent(11, 2, 1)
	b := liftedEvent(10, 9, 1)
	dup := liftedEvent(11, 2, 500) // same block and tx as a

	parts := mustCreate(t, domain.NewBlockRange(10, 2), []domain.ExternalEvent{a, dup, b})
	events := parts[0].Events
	if len(events) != 2 {
		t.Fatalf("expected 2 events after dedup, got %d", len(events))
	}
	if events[0].Block != 10 || events[1].Block != 11 {
		t.Errorf("events not ordered by block: %d, %d", events[0].Block, events[1].Block)
	}
	if events[1].Data.Lifted.Amount.Uint64() != 1 {
		t.Errorf("the smallest payload of a duplicated slot should win")
	}

	reordered := mustCreate(t, domain.NewBlockRange(10, 2), []domain.ExternalEvent{dup, b, a})
	if got := reordered[0].Events[1].Data.Lifted.Amount.Uint64(); got != 1 {
		t.Errorf("survivor depends on input order: got amount %d", got)
	}
}

func TestCreate_DoesNotMutateInput(t *testing.T) {
	events := []domain.ExternalEvent{liftedEvent(5, 1, 1), liftedEvent(1, 2, 1)}
	mustCreate(t, domain.NewBlockRange(0, 10), events)
	if events[0].Block != 5 {
		t.Error("input slice was reordered")
	}
}

func TestID_ChangesWithContent(t *testing.T) {
	rng := domain.NewBlockRange(0, 10)
	p1 := mustCreate(t, rng, []domain.ExternalEvent{liftedEvent(1, 1, 1)})[0]
	p2 := mustCreate(t, rng, []domain.ExternalEvent{liftedEvent(1, 1, 2)})[0]

	id1, _ := ID(p1)
	id2, _ := ID(p2)
	if id1 == id2 {
		t.Error("different content must give different ids")
	}

	empty := mustCreate(t, rng, nil)[0]
	nilEvents := empty
	nilEvents.Events = nil
	e1, _ := Encode(empty)
	e2, _ := Encode(nilEvents)
	if !bytes.Equal(e1, e2) {
		t.Error("nil and empty event lists must encode identically")
	}
}

func TestFind(t *testing.T) {
	parts := mustCreate(t, domain.NewBlockRange(0, 10), nil)
	if _, err := Find(parts, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Find(parts, 1); !errors.Is(err, ErrPartitionNotFound) {
		t.Errorf("expected ErrPartitionNotFound, got %v", err)
	}
}

func TestCreate_DeterminismProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	rng := domain.NewBlockRange(0, 20)

	properties.Property("partition ids do not depend on input order", prop.ForAll(
		func(seeds []uint32) bool {
			events := eventsFromSeeds(seeds)
			reversed := make([]domain.ExternalEvent, len(events))
			for i, ev := range events {
				reversed[len(events)-1-i] = ev
			}

			a := ids(t, mustCreate(t, rng, events))
			b := ids(t, mustCreate(t, rng, reversed))
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt32()),
	))

	properties.Property("partitions are bounded, indexed in order and only the final one is last", prop.ForAll(
		func(seeds []uint32) bool {
			parts := mustCreate(t, rng, eventsFromSeeds(seeds))
			for i, p := range parts {
				if int(p.Partition) != i || len(p.Events) > domain.MaxEventsPerPartition {
					return false
				}
				if p.IsLast != (i == len(parts)-1) {
					return false
				}
			}
			return len(parts) > 0
		},
		gen.SliceOf(gen.UInt32()),
	))

	properties.Property("no slot appears twice", prop.ForAll(
		func(seeds []uint32) bool {
			seen := map[[2]common.Hash]bool{}
			for _, p := range mustCreate(t, rng, eventsFromSeeds(seeds)) {
				for _, ev := range p.Events {
					key := [2]common.Hash{common.BigToHash(new(big.Int).SetUint64(ev.Block)), ev.ID.TxHash}
					if seen[key] {
						return false
					}
					seen[key] = true
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt32()),
	))

	properties.TestingRun(t)
}
