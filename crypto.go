package main

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"
)

// ============================================================================
// Hashing
// ============================================================================

// keccak256 is the legacy (pre-NIST) Keccak used for all key derivation.
// Block and transaction ids use sha3.Sum256 instead; see block.go.
func keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func keccak512(data ...[]byte) [64]byte {
	h := sha3.NewLegacyKeccak512()
	for _, d := range data {
		h.Write(d)
	}
	var out [64]byte
	h.Sum(out[:0])
	return out
}

// hashToScalar maps arbitrary data onto a canonical scalar via a wide
// reduction of Keccak-512 output.
func hashToScalar(data ...[]byte) *edwards25519.Scalar {
	wide := keccak512(data...)
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		// SetUniformBytes only fails on wrong input length.
		panic(err)
	}
	return s
}

func uvarint(v uint64) []byte {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, v)
	return buf[:n]
}

// ============================================================================
// Key derivation (ECDH)
// ============================================================================

var errInvalidPoint = errors.New("invalid curve point")

func scalarFromSecret(sec SecretKey) (*edwards25519.Scalar, error) {
	return edwards25519.NewScalar().SetCanonicalBytes(sec[:])
}

// GenerateKeyDerivation computes the shared secret 8*sec*P between a secret
// scalar and a public key. The cofactor multiplication clears any small
// subgroup component of P.
func GenerateKeyDerivation(pub PublicKey, sec SecretKey) (KeyDerivation, error) {
	var out KeyDerivation

	p, err := new(edwards25519.Point).SetBytes(pub[:])
	if err != nil {
		return out, errInvalidPoint
	}
	s, err := scalarFromSecret(sec)
	if err != nil {
		return out, fmt.Errorf("invalid secret scalar: %w", err)
	}

	p.ScalarMult(s, p)
	p.MultByCofactor(p)
	copy(out[:], p.Bytes())
	return out, nil
}

// DerivationToScalar hashes a shared secret and an output index into the
// per-output scalar used for amount decoding and ephemeral key derivation.
func DerivationToScalar(derivation KeyDerivation, outputIndex int) *edwards25519.Scalar {
	return hashToScalar(derivation[:], uvarint(uint64(outputIndex)))
}

// DerivePublicKey computes the one-time output key
// H_s(derivation || index)*G + spendPub.
func DerivePublicKey(derivation KeyDerivation, outputIndex int, spendPub PublicKey) (PublicKey, error) {
	var out PublicKey

	base, err := new(edwards25519.Point).SetBytes(spendPub[:])
	if err != nil {
		return out, errInvalidPoint
	}

	s := DerivationToScalar(derivation, outputIndex)
	p := new(edwards25519.Point).ScalarBaseMult(s)
	p.Add(p, base)
	copy(out[:], p.Bytes())
	return out, nil
}

// deterministicKeyDomain separates the governance key stream from every
// other use of the hash function.
var deterministicKeyDomain = []byte("governance deterministic keypair")

// DeterministicKeypair derives the governance keypair for a height. Every
// node derives the same pair, so reward outputs and stake outputs can be
// decoded without any wallet state. Height 1 is the stake-decoding key.
func DeterministicKeypair(height uint64) Keypair {
	var hbuf [8]byte
	binary.LittleEndian.PutUint64(hbuf[:], height)

	s := hashToScalar(deterministicKeyDomain, hbuf[:])

	var kp Keypair
	copy(kp.Sec[:], s.Bytes())
	copy(kp.Pub[:], new(edwards25519.Point).ScalarBaseMult(s).Bytes())
	return kp
}

// ============================================================================
// Pedersen commitments & confidential amounts
// ============================================================================

// commitmentH is the second Pedersen generator (nothing-up-my-sleeve point
// with unknown discrete log relative to G).
var commitmentH = mustPoint("8b655970153799af2aeadc9ff1add0ea6c7251d54154cfa92c173a0dd39c1f94")

func mustPoint(hexStr string) *edwards25519.Point {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		panic(err)
	}
	p, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func scalarFromAmount(amount uint64) *edwards25519.Scalar {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[:8], amount)
	s, err := edwards25519.NewScalar().SetCanonicalBytes(buf[:])
	if err != nil {
		panic(err)
	}
	return s
}

// commitTo computes mask*G + amount*H.
func commitTo(amount uint64, mask *edwards25519.Scalar) [32]byte {
	p := new(edwards25519.Point).VarTimeDoubleScalarBaseMult(scalarFromAmount(amount), commitmentH, mask)
	var out [32]byte
	copy(out[:], p.Bytes())
	return out
}

var (
	amountDomain = []byte("amount")
	maskDomain   = []byte("commitment_mask")
)

// amountKeystream is the 8-byte pad the output amount is XORed with.
func amountKeystream(scalar *edwards25519.Scalar) [8]byte {
	h := keccak256(amountDomain, scalar.Bytes())
	var out [8]byte
	copy(out[:], h[:8])
	return out
}

// commitmentMask derives the deterministic blinding factor for an output.
func commitmentMask(scalar *edwards25519.Scalar) *edwards25519.Scalar {
	return hashToScalar(maskDomain, scalar.Bytes())
}

// SealOutputAmount produces the encrypted amount and matching commitment
// for an output, given the per-output shared scalar. The sender side of
// DecodeOutputAmount.
func SealOutputAmount(scalar *edwards25519.Scalar, amount uint64) (encrypted [8]byte, commitment [32]byte) {
	ks := amountKeystream(scalar)
	binary.LittleEndian.PutUint64(encrypted[:], amount^binary.LittleEndian.Uint64(ks[:]))
	commitment = commitTo(amount, commitmentMask(scalar))
	return encrypted, commitment
}

var errCommitmentMismatch = errors.New("decoded amount does not open the commitment")

// DecodeOutputAmount recovers an output amount from its encrypted form and
// verifies it against the output's commitment. A failed verification means
// the shared scalar is wrong (the output is not really payable with it) or
// the output is malformed; either way the amount is not credible.
func DecodeOutputAmount(scalar *edwards25519.Scalar, encrypted [8]byte, commitment [32]byte) (uint64, error) {
	ks := amountKeystream(scalar)
	amount := binary.LittleEndian.Uint64(encrypted[:]) ^ binary.LittleEndian.Uint64(ks[:])

	if commitTo(amount, commitmentMask(scalar)) != commitment {
		return 0, errCommitmentMismatch
	}
	return amount, nil
}
