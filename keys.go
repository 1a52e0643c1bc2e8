package main

import (
	"bytes"
	"encoding/hex"
)

// PublicKey is a compressed ed25519 point.
type PublicKey [32]byte

// SecretKey is a canonical ed25519 scalar.
type SecretKey [32]byte

// Hash is a 32-byte block or transaction hash.
type Hash [32]byte

// KeyDerivation is an ECDH shared secret (a compressed point).
type KeyDerivation [32]byte

// NullPublicKey and NullHash are the all-zero sentinels.
var (
	NullPublicKey PublicKey
	NullHash      Hash
)

// IsNull reports whether the key is the all-zero sentinel.
func (p PublicKey) IsNull() bool {
	return p == NullPublicKey
}

func (p PublicKey) String() string {
	return hex.EncodeToString(p[:])
}

func (h Hash) IsNull() bool {
	return h == NullHash
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Less orders keys by raw byte comparison. This ordering is observable in
// ServiceNodePubkeys and in quorum derivation, so it is consensus-critical.
func (p PublicKey) Less(other PublicKey) bool {
	return bytes.Compare(p[:], other[:]) < 0
}

// AccountAddress is a stake beneficiary: a spend key the reward is paid to
// and a view key the payer derives shared secrets against.
type AccountAddress struct {
	SpendPublicKey PublicKey `json:"spend_public_key"`
	ViewPublicKey  PublicKey `json:"view_public_key"`
}

// NullAddress receives the whole reward while no service node is active.
var NullAddress AccountAddress

// AddressShare pairs a beneficiary with its reward weight.
type AddressShare struct {
	Address AccountAddress `json:"address"`
	Shares  uint32         `json:"shares"`
}

// Keypair is a public key with its secret scalar.
type Keypair struct {
	Pub PublicKey
	Sec SecretKey
}
