package corpus

import (
	"errors"
	"math/rand/v2"
	"sort"
)

var ErrEmptyCorpus = errors.New("corpus is empty")

// Seed is one initial input. Data is shared by every worker and must never be
// written after the Store is built.
type Seed struct {
	ID   string // path the seed was loaded from
	Data []byte
}

// Store is the immutable seed set shared by all workers. It is safe for
// concurrent use without locking because nothing writes to it after New.
type Store struct {
	seeds []Seed
}

// New builds a Store from seeds, dropping zero-length ones and ordering the
// rest by ID. It fails with ErrEmptyCorpus when nothing is left.
func New(seeds []Seed) (*Store, error) {
	kept := make([]Seed, 0, len(seeds))
	for _, s := range seeds {
		if len(s.Data) == 0 {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return nil, ErrEmptyCorpus
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })
	return &Store{kept}, nil
}

func (s *Store) Len() int {
	return len(s.seeds)
}

func (s *Store) Get(i int) Seed {
	return s.seeds[i]
}

// Sample picks a seed uniformly at random.
func (s *Store) Sample(r *rand.Rand) Seed {
	return s.seeds[r.IntN(len(s.seeds))]
}

// TotalBytes is the summed size of all seeds.
func (s *Store) TotalBytes() int {
	total := 0
	for _, seed := range s.seeds {
		total += len(seed.Data)
	}
	return total
}
