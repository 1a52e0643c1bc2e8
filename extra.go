package main

import (
	"encoding/binary"
)

// Tx-extra is a sequence of tagged fields. Tags below 0x70 follow the
// classic layout; the 0x7x range carries service node payloads.
const (
	txExtraTagPubkey     = 0x01
	txExtraTagWinner     = 0x70
	txExtraTagRegister   = 0x71
	txExtraTagDeregister = 0x72
)

// RegistrationData is the parsed service node registration payload. It
// carries the full signed-over content so a signature check can later be
// added in front of the registry without changing the payload format.
type RegistrationData struct {
	SpendPublicKeys []PublicKey
	ViewPublicKeys  []PublicKey
	Shares          []uint32
	ServiceNodeKey  PublicKey
}

// Addresses pairs up the spend and view key lists.
func (r *RegistrationData) Addresses() []AccountAddress {
	addrs := make([]AccountAddress, len(r.SpendPublicKeys))
	for i := range r.SpendPublicKeys {
		addrs[i] = AccountAddress{
			SpendPublicKey: r.SpendPublicKeys[i],
			ViewPublicKey:  r.ViewPublicKeys[i],
		}
	}
	return addrs
}

// DeregisterData points at a test-set member of an earlier quorum.
type DeregisterData struct {
	BlockHeight uint64
	NodeIndex   uint32
}

// ============================================================================
// Builders
// ============================================================================

// AppendTxPubKeyToExtra appends the transaction public key field.
func AppendTxPubKeyToExtra(extra []byte, pub PublicKey) []byte {
	extra = append(extra, txExtraTagPubkey)
	return append(extra, pub[:]...)
}

// AppendWinnerToExtra appends the service node winner field (miner txs).
func AppendWinnerToExtra(extra []byte, winner PublicKey) []byte {
	extra = append(extra, txExtraTagWinner)
	return append(extra, winner[:]...)
}

// AppendRegistrationToExtra appends a registration payload.
func AppendRegistrationToExtra(extra []byte, reg RegistrationData) []byte {
	extra = append(extra, txExtraTagRegister)
	extra = binary.AppendUvarint(extra, uint64(len(reg.SpendPublicKeys)))
	for _, k := range reg.SpendPublicKeys {
		extra = append(extra, k[:]...)
	}
	for _, k := range reg.ViewPublicKeys {
		extra = append(extra, k[:]...)
	}
	for _, s := range reg.Shares {
		extra = binary.LittleEndian.AppendUint32(extra, s)
	}
	return append(extra, reg.ServiceNodeKey[:]...)
}

// AppendDeregisterToExtra appends a deregistration payload.
func AppendDeregisterToExtra(extra []byte, dereg DeregisterData) []byte {
	extra = append(extra, txExtraTagDeregister)
	extra = binary.LittleEndian.AppendUint64(extra, dereg.BlockHeight)
	return binary.LittleEndian.AppendUint32(extra, dereg.NodeIndex)
}

// ============================================================================
// Parsers
// ============================================================================

// walkExtra visits each tagged field, calling visit with the tag and the
// remaining bytes. visit returns how many payload bytes it consumed, or -1
// to reject the field. Walking stops at the first malformed field; earlier
// fields stay valid, matching the permissive classic parsing.
func walkExtra(extra []byte, visit func(tag byte, payload []byte) int) {
	for len(extra) > 0 {
		tag := extra[0]
		extra = extra[1:]
		n := visit(tag, extra)
		if n < 0 || n > len(extra) {
			return
		}
		extra = extra[n:]
	}
}

func fixedFieldSize(tag byte, payload []byte) int {
	switch tag {
	case txExtraTagPubkey, txExtraTagWinner:
		if len(payload) < 32 {
			return -1
		}
		return 32
	case txExtraTagDeregister:
		if len(payload) < 12 {
			return -1
		}
		return 12
	case txExtraTagRegister:
		count, n := binary.Uvarint(payload)
		if n <= 0 || count > uint64(len(payload))/(32+32+4) {
			return -1
		}
		size := n + int(count)*(32+32+4) + 32
		if size > len(payload) {
			return -1
		}
		return size
	default:
		// Unknown tag: cannot know its length, stop parsing.
		return -1
	}
}

// TxPubKeyFromExtra returns the transaction public key, or the null key if
// the field is absent.
func TxPubKeyFromExtra(extra []byte) PublicKey {
	var out PublicKey
	walkExtra(extra, func(tag byte, payload []byte) int {
		n := fixedFieldSize(tag, payload)
		if n < 0 {
			return -1
		}
		if tag == txExtraTagPubkey && out.IsNull() {
			copy(out[:], payload[:32])
		}
		return n
	})
	return out
}

// WinnerFromExtra returns the service node winner recorded in a miner tx,
// or the null key if absent.
func WinnerFromExtra(extra []byte) PublicKey {
	var out PublicKey
	walkExtra(extra, func(tag byte, payload []byte) int {
		n := fixedFieldSize(tag, payload)
		if n < 0 {
			return -1
		}
		if tag == txExtraTagWinner && out.IsNull() {
			copy(out[:], payload[:32])
		}
		return n
	})
	return out
}

// RegistrationFromExtra parses the registration payload if present.
func RegistrationFromExtra(extra []byte) (RegistrationData, bool) {
	var reg RegistrationData
	found := false
	walkExtra(extra, func(tag byte, payload []byte) int {
		n := fixedFieldSize(tag, payload)
		if n < 0 {
			return -1
		}
		if tag == txExtraTagRegister && !found {
			count, hdr := binary.Uvarint(payload)
			body := payload[hdr:n]
			reg.SpendPublicKeys = make([]PublicKey, count)
			reg.ViewPublicKeys = make([]PublicKey, count)
			reg.Shares = make([]uint32, count)
			off := 0
			for i := range reg.SpendPublicKeys {
				copy(reg.SpendPublicKeys[i][:], body[off:])
				off += 32
			}
			for i := range reg.ViewPublicKeys {
				copy(reg.ViewPublicKeys[i][:], body[off:])
				off += 32
			}
			for i := range reg.Shares {
				reg.Shares[i] = binary.LittleEndian.Uint32(body[off:])
				off += 4
			}
			copy(reg.ServiceNodeKey[:], body[off:])
			found = true
		}
		return n
	})
	return reg, found
}

// DeregisterFromExtra parses the deregistration payload if present.
func DeregisterFromExtra(extra []byte) (DeregisterData, bool) {
	var dereg DeregisterData
	found := false
	walkExtra(extra, func(tag byte, payload []byte) int {
		n := fixedFieldSize(tag, payload)
		if n < 0 {
			return -1
		}
		if tag == txExtraTagDeregister && !found {
			dereg.BlockHeight = binary.LittleEndian.Uint64(payload[:8])
			dereg.NodeIndex = binary.LittleEndian.Uint32(payload[8:12])
			found = true
		}
		return n
	})
	return dereg, found
}
