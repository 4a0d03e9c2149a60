// Package allocator hands out unique probe addresses for new index entries.
// It keeps the used addresses in an ordered set under plain numeric ordering
// and, unlike the index itself, rejects duplicates.
package allocator

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	gbtree "github.com/google/btree"
	"go.uber.org/zap"
)

const (
	DefaultSpace = 1000
	// maxRandomProbes bounds random probing before falling back to a gap scan.
	maxRandomProbes = 32
	setDegree       = 16
)

var ErrAddressSpaceExhausted = errors.New("address space exhausted")

// Config configures an AddressAllocator.
type Config struct {
	// Space is the number of addresses, [0, Space).
	Space uint64
	// Seed fixes the probe sequence; zero seeds from the clock.
	Seed uint64
	// Format renders an address; defaults to plain decimal.
	Format func(uint64) string
}

// AddressAllocator is safe for concurrent use.
type AddressAllocator struct {
	mu     sync.Mutex
	used   *gbtree.BTreeG[uint64]
	space  uint64
	format func(uint64) string
	rng    *rand.Rand
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *AddressAllocator {
	if cfg.Space == 0 {
		cfg.Space = DefaultSpace
	}
	if cfg.Format == nil {
		cfg.Format = func(n uint64) string { return strconv.FormatUint(n, 10) }
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AddressAllocator{
		used:   gbtree.NewG[uint64](setDegree, gbtree.Less[uint64]()),
		space:  cfg.Space,
		format: cfg.Format,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger: logger,
	}
}

// Insert marks addr as used. It returns false if addr was already used.
func (a *AddressAllocator) Insert(addr uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, replaced := a.used.ReplaceOrInsert(addr)
	return !replaced
}

// Search reports whether addr is in use.
func (a *AddressAllocator) Search(addr uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used.Has(addr)
}

// Delete releases addr. It returns false if addr was not in use.
func (a *AddressAllocator) Delete(addr uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.used.Delete(addr)
	return ok
}

func (a *AddressAllocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used.Len()
}

// Format renders addr the way Allocate does.
func (a *AddressAllocator) Format(addr uint64) string { return a.format(addr) }

// Reserve marks a rendered address, such as one read back from a snapshot,
// as used.
func (a *AddressAllocator) Reserve(address string) error {
	n, err := strconv.ParseUint(address, 10, 64)
	if err != nil {
		return fmt.Errorf("address %q is not numeric: %w", address, err)
	}
	a.Insert(n)
	return nil
}

// Allocate picks an unused address, marks it used and returns it with its
// rendered form.
func (a *AddressAllocator) Allocate() (uint64, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for range maxRandomProbes {
		probe := a.rng.Uint64N(a.space)
		if !a.used.Has(probe) {
			a.used.ReplaceOrInsert(probe)
			return probe, a.format(probe), nil
		}
	}

	// Dense set: take the lowest gap.
	next := uint64(0)
	a.used.Ascend(func(item uint64) bool {
		if item != next {
			return false
		}
		next++
		return next < a.space
	})
	if next >= a.space {
		return 0, "", fmt.Errorf("%w: all %d addresses in use", ErrAddressSpaceExhausted, a.space)
	}
	a.logger.Debug("random probing missed, using lowest free address", zap.Uint64("address", next))
	a.used.ReplaceOrInsert(next)
	return next, a.format(next), nil
}
