// Package wire defines the packet contract consumed by the admission queue.
// Framing, signatures, and cryptographic
// primitives are treated as narrow external collaborators (see Codec) — this
// package describes only the attributes the core admission logic observes.
package wire

import "sync/atomic"

// Flags is the packet flag bitset.
type Flags uint8

const (
	// FlagSYN marks a connection-initiation request.
	FlagSYN Flags = 1 << iota
	// FlagRST marks a reset, aborting a would-be or existing flow.
	FlagRST
	// FlagSignatureIncluded marks a packet as carrying an appended signature.
	FlagSignatureIncluded
)

// Has reports whether all bits in want are set.
func (f Flags) Has(want Flags) bool { return f&want == want }

// Identity is an opaque remote-endpoint identity (stand-in for a
// destination hash on the anonymous messaging substrate).
type Identity struct {
	bytes [32]byte
}

// NewIdentity wraps a 32-byte identity value.
func NewIdentity(b [32]byte) Identity { return Identity{bytes: b} }

// Equal reports whether two identities are the same value.
func (id Identity) Equal(other Identity) bool { return id.bytes == other.bytes }

// Bytes returns the raw identity bytes.
func (id Identity) Bytes() [32]byte { return id.bytes }

// MaxLegalDelay is the largest value the wire format allows in the Delay
// field. POISON is defined one past it so no inbound packet can ever be
// mistaken for the admission-queue shutdown sentinel (spec: unforgeable
// from the wire).
const MaxLegalDelay uint16 = 0xFFFE

// Poison is the admission-queue shutdown sentinel value for Packet.Delay.
// It is strictly outside the legal protocol range.
const Poison uint16 = MaxLegalDelay + 1

// Packet is the wire packet as observed by the admission queue. It is a
// tagged record, not a class hierarchy: the poison sentinel is this same
// type with Delay == Poison, not a distinct subtype, so it survives
// transport through the queue without downcasts.
type Packet struct {
	SendStreamID    uint32
	ReceiveStreamID uint32
	SequenceNumber  uint64
	Flags           Flags
	From            *Identity
	Delay           uint16
	Payload         []byte

	// AckThrough is set only when this Packet is an RST constructed by
	// send_reset; it carries the acknowledged inbound sequence number.
	AckThrough uint64

	released atomic.Bool
}

// IsPoison reports whether this packet is the shutdown sentinel.
func (p *Packet) IsPoison() bool { return p != nil && p.Delay == Poison }

// IsSYN reports whether the SYN flag is set.
func (p *Packet) IsSYN() bool { return p.Flags.Has(FlagSYN) }

// NewPoison constructs the distinguished shutdown sentinel. It carries no
// stream IDs, no signature, and an out-of-range Delay so it can never
// collide with an attacker-controlled packet.
func NewPoison() *Packet {
	return &Packet{Delay: Poison}
}

// Release returns the packet's payload buffer to its owner. It is safe to
// call at most meaningfully once per packet; repeated calls are no-ops so
// that a timeout handler racing a consumer never double-frees.
func (p *Packet) Release() {
	if p == nil {
		return
	}
	if p.released.CompareAndSwap(false, true) {
		p.Payload = nil
	}
}
