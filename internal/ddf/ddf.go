// Package ddf implements the decaying duplicate filter: a two-generation
// rotating Bloom filter giving O(1) time-windowed duplicate detection with
// bounded memory (spec §4.2).
//
// Sizing follows the spec default: m = 2^23 bits, k = 11 hash positions per
// generation (~1 MiB per generation). Hash positions are derived from two
// independent 64-bit digests combined by Kirsch-Mitzenmacher double hashing
// (h1 + i*h2 mod m), the standard technique for avoiding k independent hash
// computations per insert.
package ddf

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/opnet-io/admitd/internal/clock"
)

const (
	// DefaultM is the default bit-array width per generation (2^23 bits, ~1MiB).
	DefaultM uint64 = 1 << 23
	// DefaultK is the default number of hash positions per insert/query.
	DefaultK = 11
	// DefaultEntryBytes is the default entry width, sized for AddLong's
	// uint64 convenience API.
	DefaultEntryBytes = 8

	wideWidth = 32
)

// ErrWrongEntryLength is returned by Add when entry's length does not match
// the filter's configured entry width.
var ErrWrongEntryLength = errors.New("ddf: entry length does not match configured entry_bytes")

// ErrEntryTooWide is returned by AddLong/IsKnownLong when the filter was
// constructed with an entry_bytes too wide for the uint64 convenience API.
var ErrEntryTooWide = errors.New("ddf: entry_bytes exceeds 8, AddLong/IsKnownLong unavailable")

type bitset []uint64

func newBitset(m uint64) bitset {
	words := (m + 63) / 64
	return make(bitset, words)
}

func (b bitset) set(pos uint64) {
	b[pos/64] |= 1 << (pos % 64)
}

func (b bitset) test(pos uint64) bool {
	return b[pos/64]&(1<<(pos%64)) != 0
}

func (b bitset) clear() {
	for i := range b {
		b[i] = 0
	}
}

func (b bitset) popcount() uint64 {
	var n uint64
	for _, w := range b {
		n += uint64(popcount64(w))
	}
	return n
}

func popcount64(w uint64) int {
	count := 0
	for w != 0 {
		w &= w - 1
		count++
	}
	return count
}

// Filter is a two-generation decaying Bloom filter. Entries inserted via Add
// or AddLong are guaranteed present for queries in [t, t+duration) and may
// remain present through [t+duration, t+2*duration) before being purged by
// the second rotation. Zero value is not usable; construct via New.
type Filter struct {
	m          uint64
	k          int
	entryBytes int
	duration   time.Duration

	extenders [][]byte

	clk    clock.Service
	handle clock.Handle

	mu       sync.Mutex
	current  bitset
	previous bitset

	currentDuplicates atomic.Int64
	insertedEstimate  atomic.Int64
	keepDecaying      atomic.Bool
}

// Option configures a Filter at construction.
type Option func(*Filter)

// WithM overrides the default bit-array width (bits per generation).
func WithM(m uint64) Option { return func(f *Filter) { f.m = m } }

// WithK overrides the default number of hash positions.
func WithK(k int) Option { return func(f *Filter) { f.k = k } }

// WithEntryBytes overrides the default entry width in bytes.
func WithEntryBytes(n int) Option { return func(f *Filter) { f.entryBytes = n } }

// New constructs a Filter rotating every duration, driven by clk. The
// rotation timer is armed immediately and re-arms itself on every fire until
// StopDecaying is called.
func New(clk clock.Service, duration time.Duration, opts ...Option) *Filter {
	f := &Filter{
		m:          DefaultM,
		k:          DefaultK,
		entryBytes: DefaultEntryBytes,
		duration:   duration,
		clk:        clk,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.current = newBitset(f.m)
	f.previous = newBitset(f.m)
	f.extenders = makeExtenders(f.entryBytes)
	f.keepDecaying.Store(true)
	f.armRotation()
	return f
}

func makeExtenders(entryBytes int) [][]byte {
	if entryBytes >= wideWidth {
		return nil
	}
	numExtenders := (wideWidth+entryBytes-1)/entryBytes - 1
	if numExtenders < 0 {
		numExtenders = 0
	}
	extenders := make([][]byte, numExtenders)
	for i := range extenders {
		e := make([]byte, entryBytes)
		if _, err := rand.Read(e); err != nil {
			panic("ddf: failed to draw extender from system RNG: " + err.Error())
		}
		extenders[i] = e
	}
	return extenders
}

// armRotationLocked schedules the next rotation and records its handle.
// Callers must hold f.mu.
func (f *Filter) armRotationLocked() {
	f.handle = f.clk.Schedule(f.duration, f.rotate)
}

func (f *Filter) armRotation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armRotationLocked()
}

// rotate swaps generations and, unless StopDecaying has run, re-arms itself.
// The keepDecaying check and the re-arm happen under the same lock
// StopDecaying takes, so a StopDecaying racing this rotation either lands
// before the check (no re-arm) or after the new handle is recorded (its
// Cancel targets the live timer) -- never in between.
func (f *Filter) rotate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previous, f.current = f.current, f.previous
	f.current.clear()
	f.currentDuplicates.Store(0)
	f.insertedEstimate.Store(int64(f.previous.popcount() / uint64(f.k)))

	if f.keepDecaying.Load() {
		f.armRotationLocked()
	}
}

// StopDecaying cancels the rotation timer. The filter's contents are frozen
// at whatever state they held; further Add/IsKnown calls still work but the
// two-generation window no longer advances.
func (f *Filter) StopDecaying() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepDecaying.Store(false)
	f.clk.Cancel(f.handle)
}

// Clear empties both generations and resets the duplicate counter.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current.clear()
	f.previous.clear()
	f.currentDuplicates.Store(0)
	f.insertedEstimate.Store(0)
}

// widen extends entry to a 32-byte vector via XOR extenders when
// entry_bytes < 32, otherwise returns entry as-is.
func (f *Filter) widen(entry []byte) []byte {
	if f.entryBytes >= wideWidth {
		return entry
	}
	out := make([]byte, 0, (len(f.extenders)+1)*f.entryBytes)
	out = append(out, entry...)
	for _, ext := range f.extenders {
		seg := make([]byte, f.entryBytes)
		for i := range seg {
			seg[i] = entry[i] ^ ext[i]
		}
		out = append(out, seg...)
	}
	if len(out) > wideWidth {
		out = out[:wideWidth]
	}
	return out
}

func (f *Filter) hashPositions(widened []byte) []uint64 {
	h1 := xxhash.Sum64(widened)
	buf := make([]byte, len(widened)+1)
	copy(buf, widened)
	buf[len(widened)] = 0xa5
	h2 := xxhash.Sum64(buf)
	if h2%f.m == 0 {
		h2 |= 1
	}

	positions := make([]uint64, f.k)
	for i := 0; i < f.k; i++ {
		positions[i] = (h1 + uint64(i)*h2) % f.m
	}
	return positions
}

// Add reports whether entry was already present (likely) and, if it was
// not, inserts it. An already-known entry is not re-inserted, so repeated
// Adds do not extend its lifetime. entry must be exactly entry_bytes long.
func (f *Filter) Add(entry []byte) (bool, error) {
	if len(entry) != f.entryBytes {
		return false, ErrWrongEntryLength
	}
	widened := f.widen(entry)
	positions := f.hashPositions(widened)

	f.mu.Lock()
	defer f.mu.Unlock()

	known := true
	for _, pos := range positions {
		if !f.current.test(pos) && !f.previous.test(pos) {
			known = false
		}
	}

	if known {
		f.currentDuplicates.Add(1)
		return true, nil
	}
	for _, pos := range positions {
		f.current.set(pos)
		f.previous.set(pos)
	}
	f.insertedEstimate.Add(1)
	return false, nil
}

// IsKnown reports membership without inserting.
func (f *Filter) IsKnown(entry []byte) (bool, error) {
	if len(entry) != f.entryBytes {
		return false, ErrWrongEntryLength
	}
	widened := f.widen(entry)
	positions := f.hashPositions(widened)

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, pos := range positions {
		if !f.current.test(pos) && !f.previous.test(pos) {
			return false, nil
		}
	}
	return true, nil
}

// foldLong encodes v as its unsigned little-endian representation truncated
// to entryBytes. This is a pure function of v; since the input is already
// unsigned there is no negative-zero case to normalize.
func foldLong(v uint64, entryBytes int) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:entryBytes]
}

// AddLong is the fixed-width numeric convenience for Add. Available only
// when entry_bytes <= 8.
func (f *Filter) AddLong(v uint64) (bool, error) {
	if f.entryBytes > 8 {
		return false, ErrEntryTooWide
	}
	return f.Add(foldLong(v, f.entryBytes))
}

// IsKnownLong is the fixed-width numeric convenience for IsKnown. Available
// only when entry_bytes <= 8.
func (f *Filter) IsKnownLong(v uint64) (bool, error) {
	if f.entryBytes > 8 {
		return false, ErrEntryTooWide
	}
	return f.IsKnown(foldLong(v, f.entryBytes))
}

// Size estimates the number of entries inserted into the current window.
func (f *Filter) Size() int64 {
	return f.insertedEstimate.Load()
}

// CurrentDuplicateCount returns the number of Add calls in the current
// window that reported an already-known entry.
func (f *Filter) CurrentDuplicateCount() int64 {
	return f.currentDuplicates.Load()
}

// FalsePositiveRate estimates the Bloom filter's current false-positive
// rate given its configured (m, k) and the estimated number of entries n.
func (f *Filter) FalsePositiveRate() float64 {
	n := float64(f.Size())
	m := float64(f.m)
	k := float64(f.k)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
