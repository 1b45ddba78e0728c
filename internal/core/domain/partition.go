package domain

// MaxEventsPerPartition bounds the number of events carried by one partition.
const MaxEventsPerPartition = 32

// EventsPartition is a deterministic slice of the events discovered for a range.
// It is the unit validators vote on.
type EventsPartition struct {
	_         struct{}        `cbor:",toarray"`
	Range     BlockRange      `json:"range"`
	Partition uint16          `json:"partition"`
	IsLast    bool            `json:"is_last"`
	Events    []ExternalEvent `json:"events"`
}

// ActiveRange is the range and partition index currently open for voting.
type ActiveRange struct {
	_         struct{}   `cbor:",toarray"`
	Range     BlockRange `json:"range"`
	Partition uint16     `json:"partition"`
}

// Next returns the active range that follows once p is accepted.
func (a ActiveRange) Next(isLast bool) ActiveRange {
	if isLast {
		return ActiveRange{Range: a.Range.NextRange()}
	}
	return ActiveRange{Range: a.Range, Partition: a.Partition + 1}
}
