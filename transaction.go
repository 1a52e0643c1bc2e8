package main

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// RingCT signature families. The tag selects which decoding path applies
// to the transaction's outputs.
const (
	RctTypeNull              = 0 // plain amounts (miner txs)
	RctTypeFull              = 1
	RctTypeSimple            = 2
	RctTypeFullBulletproof   = 3
	RctTypeSimpleBulletproof = 4
)

// Output target types. Only to-key outputs participate in staking and
// reward payouts.
const (
	TargetToKey = 1
)

// TxOutput is a single transaction output.
type TxOutput struct {
	// Amount is the plain amount for RctTypeNull outputs (miner txs);
	// zero for confidential outputs.
	Amount uint64 `json:"amount"`

	// TargetType selects the output target variant.
	TargetType uint8 `json:"target_type"`

	// TargetKey is the one-time destination key for to-key outputs.
	TargetKey PublicKey `json:"target_key"`

	// Commitment is a Pedersen commitment to the amount (confidential
	// outputs only).
	Commitment [32]byte `json:"commitment"`

	// EncryptedAmount is the amount XORed with the ECDH keystream; the
	// recipient (or the governance key holder) decodes it.
	EncryptedAmount [8]byte `json:"encrypted_amount"`
}

// TxInput references an output being spent. The registry never inspects
// inputs; they ride along for hashing and storage.
type TxInput struct {
	KeyImage    [32]byte   `json:"key_image"`
	RingMembers [][32]byte `json:"ring_members"`
}

// Transaction is the on-chain transaction form the registry classifies.
type Transaction struct {
	Version    uint8      `json:"version"`
	UnlockTime uint64     `json:"unlock_time"`
	Inputs     []TxInput  `json:"inputs"`
	Outputs    []TxOutput `json:"outputs"`

	// RctType tags the confidential signature family for all outputs.
	RctType uint8 `json:"rct_type"`

	// Extra carries tagged metadata: tx pubkey, registration payloads,
	// deregistration payloads, the miner-tx winner key. See extra.go.
	Extra []byte `json:"extra"`
}

// Serialize encodes the transaction into its canonical binary form.
// Hashes are computed over this encoding, so it is consensus-critical.
func (tx *Transaction) Serialize() []byte {
	size := 1 + 8 + 4 + 4 + 1 + 4 + len(tx.Extra)
	for _, in := range tx.Inputs {
		size += 32 + 4 + 32*len(in.RingMembers)
	}
	size += len(tx.Outputs) * (8 + 1 + 32 + 32 + 8)

	buf := make([]byte, size)
	off := 0

	buf[off] = tx.Version
	off++
	binary.LittleEndian.PutUint64(buf[off:], tx.UnlockTime)
	off += 8

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(tx.Inputs)))
	off += 4
	for _, in := range tx.Inputs {
		copy(buf[off:], in.KeyImage[:])
		off += 32
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(in.RingMembers)))
		off += 4
		for _, m := range in.RingMembers {
			copy(buf[off:], m[:])
			off += 32
		}
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(tx.Outputs)))
	off += 4
	for _, out := range tx.Outputs {
		binary.LittleEndian.PutUint64(buf[off:], out.Amount)
		off += 8
		buf[off] = out.TargetType
		off++
		copy(buf[off:], out.TargetKey[:])
		off += 32
		copy(buf[off:], out.Commitment[:])
		off += 32
		copy(buf[off:], out.EncryptedAmount[:])
		off += 8
	}

	buf[off] = tx.RctType
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(tx.Extra)))
	off += 4
	copy(buf[off:], tx.Extra)

	return buf
}

// TxID returns the transaction hash.
func (tx *Transaction) TxID() Hash {
	return sha3.Sum256(tx.Serialize())
}

// ============================================================================
// Miner transaction construction
// ============================================================================

// CreateMinerTx builds the coinbase for a block at the given height. The
// reward is split between the winner's recipients by share weight, each
// output paid to an ephemeral key derived from the height's deterministic
// governance keypair, with a trailing governance output absorbing the
// remainder. The winner pubkey is recorded in the tx extra so validators
// can check it against their own selection.
func CreateMinerTx(height uint64, baseReward uint64, hfVersion int, winner PublicKey, recipients []AddressShare) (*Transaction, error) {
	tx := &Transaction{
		Version:    TxVersionMiner,
		UnlockTime: height + StakeLockBlocks,
		RctType:    RctTypeNull,
	}

	gov := DeterministicKeypair(height)
	tx.Extra = AppendTxPubKeyToExtra(tx.Extra, gov.Pub)
	tx.Extra = AppendWinnerToExtra(tx.Extra, winner)

	totalReward := ServiceNodeReward(height, baseReward, hfVersion)

	paid := uint64(0)
	for i, r := range recipients {
		// Recipients occupy the slots just before the trailing
		// governance output, so recipient i sits at output index i.
		voutIndex := i

		derivation, err := GenerateKeyDerivation(r.Address.ViewPublicKey, gov.Sec)
		if err != nil {
			return nil, fmt.Errorf("miner tx derivation for recipient %d: %w", i, err)
		}
		ephemeral, err := DerivePublicKey(derivation, voutIndex, r.Address.SpendPublicKey)
		if err != nil {
			return nil, fmt.Errorf("miner tx output key for recipient %d: %w", i, err)
		}

		amount := ShareOfReward(r.Shares, totalReward)
		paid += amount
		tx.Outputs = append(tx.Outputs, TxOutput{
			Amount:     amount,
			TargetType: TargetToKey,
			TargetKey:  ephemeral,
		})
	}

	// Trailing governance output: whatever the service nodes did not take.
	governanceAmount := uint64(0)
	if baseReward > paid {
		governanceAmount = baseReward - paid
	}
	tx.Outputs = append(tx.Outputs, TxOutput{
		Amount:     governanceAmount,
		TargetType: TargetToKey,
		TargetKey:  gov.Pub,
	})

	return tx, nil
}
