package voting

// TwoThirdsQuorum is the number of votes needed for a supermajority of n validators.
// Small sets need every vote.
func TwoThirdsQuorum(n int) uint32 {
	if n < 3 {
		return uint32(n)
	}
	return uint32(2*n/3 + 1)
}

// OneThirdQuorum is the smallest set guaranteed to contain an honest validator.
func OneThirdQuorum(n int) uint32 {
	if n <= 0 {
		return 0
	}
	return uint32(n/3 + 1)
}
