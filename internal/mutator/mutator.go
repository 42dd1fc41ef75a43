package mutator

import "math/rand/v2"

const DefaultRounds = 8

// Mutator overwrites randomly chosen bytes of a seed with random values.
type Mutator struct {
	rounds int
}

func New(rounds int) *Mutator {
	if rounds <= 0 {
		rounds = DefaultRounds
	}
	return &Mutator{rounds}
}

func (m *Mutator) Rounds() int {
	return m.rounds
}

// Mutate returns a fresh copy of seed with m.Rounds() independent byte
// overwrites applied. Positions may repeat. The seed itself is not modified
// and the result always has the seed's length.
func (m *Mutator) Mutate(r *rand.Rand, seed []byte) []byte {
	out := make([]byte, len(seed))
	copy(out, seed)
	if len(out) == 0 {
		return out
	}
	for range m.rounds {
		out[r.IntN(len(out))] = byte(r.UintN(256))
	}
	return out
}
