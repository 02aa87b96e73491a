// Package bloom provides the probabilistic membership filter built at
// runtime from subquery results and pushed down into upstream scans.
// False positives are possible; false negatives are not.
package bloom

import (
	"encoding/binary"
	"math"

	xxhash "github.com/cespare/xxhash/v2"
)

const (
	minBits   = 64
	minHashes = 1
	maxHashes = 16
)

// Filter is a fixed-size bit array with k seeded hash functions. Add
// until Freeze, then the Filter is immutable and safe to query from any
// number of concurrent readers.
type Filter struct {
	bits   []uint64
	nbits  uint64
	seeds  []uint64
	count  uint64
	frozen bool
}

// NewFilter sizes a Filter for an expected item count and a target
// false-positive rate, using a fixed base seed so that independently
// built filters over the same candidate set are identical
func NewFilter(expectedItems int, targetFPP float64, seed uint64) *Filter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	if targetFPP <= 0 || targetFPP >= 1 {
		targetFPP = 0.01
	}
	// standard sizing: m = -n ln p / (ln 2)^2, k = (m/n) ln 2
	nbits := uint64(math.Ceil(-float64(expectedItems) * math.Log(targetFPP) / (math.Ln2 * math.Ln2)))
	if nbits < minBits {
		nbits = minBits
	}
	k := int(math.Round(float64(nbits) / float64(expectedItems) * math.Ln2))
	if k < minHashes {
		k = minHashes
	}
	if k > maxHashes {
		k = maxHashes
	}
	seeds := make([]uint64, k)
	for i := range seeds {
		seeds[i] = seed + uint64(i)*0x9e3779b97f4a7c15
	}
	return &Filter{
		bits:  make([]uint64, (nbits+63)/64),
		nbits: nbits,
		seeds: seeds,
	}
}

// NumBits returns the bit width of this Filter
func (f *Filter) NumBits() uint64 {
	return f.nbits
}

// NumHashes returns the number of hash functions used by this Filter
func (f *Filter) NumHashes() int {
	return len(f.seeds)
}

// Count returns the number of keys added to this Filter
func (f *Filter) Count() uint64 {
	return f.count
}

// Add inserts a key into this Filter. Calling Add after Freeze panics,
// since readers may already be probing the bit array.
func (f *Filter) Add(key []byte) {
	if f.frozen {
		panic("bloom: Add called on a frozen Filter")
	}
	for _, seed := range f.seeds {
		bit := seededHash(seed, key) % f.nbits
		f.bits[bit/64] |= 1 << (bit % 64)
	}
	f.count++
}

// Freeze marks this Filter immutable, making it safe for concurrent readers
func (f *Filter) Freeze() {
	f.frozen = true
}

// MightContain tests a key. A false result means the key was definitely
// never added; a true result means it possibly was. An empty Filter
// rejects every key.
func (f *Filter) MightContain(key []byte) bool {
	if f.count == 0 {
		return false
	}
	for _, seed := range f.seeds {
		bit := seededHash(seed, key) % f.nbits
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// seededHash computes a seed-prefixed xxhash64 of a key
func seededHash(seed uint64, key []byte) uint64 {
	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], seed)
	d := xxhash.New()
	d.Write(prefix[:])
	d.Write(key)
	return d.Sum64()
}
