package wire

import "crypto/ed25519"

// Codec is the narrow external collaborator for packet authentication.
// The admission queue consumes it only to verify a would-be RST target's
// claimed sender before replying — never to reply to a forged sender
// (anti-amplification).
type Codec interface {
	// VerifySignature reports whether pkt carries a valid signature from
	// claimed. Implementations MUST return false rather than panic on
	// malformed input.
	VerifySignature(pkt *Packet, claimed *Identity) bool
}

// Ed25519Codec is a reference Codec backed by stdlib ed25519. It is
// sufficient for local daemon wiring and tests; a production deployment
// substitutes the anonymous network's own signature engine, which this
// package never assumes the shape of beyond the Codec interface.
type Ed25519Codec struct {
	// KeyFor resolves an Identity's public key. Returns false if unknown.
	KeyFor func(id Identity) (ed25519.PublicKey, bool)
}

// NewEd25519Codec constructs a Codec that looks up public keys with keyFor.
func NewEd25519Codec(keyFor func(id Identity) (ed25519.PublicKey, bool)) *Ed25519Codec {
	return &Ed25519Codec{KeyFor: keyFor}
}

// VerifySignature checks pkt.Payload's trailing ed25519 signature against
// claimed's registered public key. The signature is assumed to be the last
// ed25519.SignatureSize bytes of Payload, covering the preceding bytes.
func (c *Ed25519Codec) VerifySignature(pkt *Packet, claimed *Identity) bool {
	if pkt == nil || claimed == nil || c.KeyFor == nil {
		return false
	}
	if !pkt.Flags.Has(FlagSignatureIncluded) {
		return false
	}
	pub, ok := c.KeyFor(*claimed)
	if !ok {
		return false
	}
	if len(pkt.Payload) < ed25519.SignatureSize {
		return false
	}
	split := len(pkt.Payload) - ed25519.SignatureSize
	msg, sig := pkt.Payload[:split], pkt.Payload[split:]
	return ed25519.Verify(pub, msg, sig)
}
