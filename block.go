package main

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// BlockHeader contains the immutable header of a block.
type BlockHeader struct {
	Version   uint32 `json:"version"`
	Height    uint64 `json:"height"`
	PrevHash  Hash   `json:"prev_hash"`
	Timestamp int64  `json:"timestamp"`
	Nonce     uint64 `json:"nonce"`
}

func (h *BlockHeader) serialize() []byte {
	buf := make([]byte, 4+8+32+8+8)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], h.Version)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], h.Height)
	off += 8
	copy(buf[off:], h.PrevHash[:])
	off += 32
	binary.LittleEndian.PutUint64(buf[off:], uint64(h.Timestamp))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.Nonce)
	return buf
}

// Block is a header, its coinbase, and the hashes of the remaining
// transactions (stored separately, fetched via GetTransactions).
type Block struct {
	Header   BlockHeader `json:"header"`
	MinerTx  Transaction `json:"miner_tx"`
	TxHashes []Hash      `json:"tx_hashes"`
}

// Serialize encodes the block into its canonical binary form.
func (b *Block) Serialize() []byte {
	header := b.Header.serialize()
	miner := b.MinerTx.Serialize()

	buf := make([]byte, 0, len(header)+4+len(miner)+4+32*len(b.TxHashes))
	buf = append(buf, header...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(miner)))
	buf = append(buf, miner...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.TxHashes)))
	for _, h := range b.TxHashes {
		buf = append(buf, h[:]...)
	}
	return buf
}

// Hash returns the block id.
func (b *Block) Hash() Hash {
	return sha3.Sum256(b.Serialize())
}
