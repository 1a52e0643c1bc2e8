package main

import (
	"encoding/binary"
	"log"
)

// QuorumState is the per-height testing assignment: QuorumNodes vote on
// the liveness of NodesToTest. Both are drawn without replacement from the
// active set as it stood immediately after the block at that height, so
// the two are disjoint by construction.
type QuorumState struct {
	QuorumNodes []PublicKey `json:"quorum_nodes"`
	NodesToTest []PublicKey `json:"nodes_to_test"`
}

// storeQuorumState derives and caches the quorum for a height. The shuffle
// is seeded from the first 8 bytes of the block hash, so every node with
// the same chain derives the same assignment. Callers hold the write lock.
func (r *Registry) storeQuorumState(height uint64) {
	blockHash := r.chain.BlockIDByHeight(height)
	if blockHash.IsNull() {
		log.Printf("Quorum derivation: block height %d returned null hash", height)
		return
	}

	nodes := r.sortedPubkeys()

	indexes := make([]int, len(nodes))
	for i := range indexes {
		indexes[i] = i
	}

	seed := binary.LittleEndian.Uint64(blockHash[:8])
	newMT19937(seed).shuffle(indexes)

	quorumCount := len(nodes)
	if quorumCount > QuorumSize {
		quorumCount = QuorumSize
	}

	remaining := len(nodes) - quorumCount
	testCount := remaining / NthOfNetworkToTest
	if m := min(MinNodesToTest, remaining); m > testCount {
		testCount = m
	}

	state := &QuorumState{
		QuorumNodes: make([]PublicKey, quorumCount),
		NodesToTest: make([]PublicKey, testCount),
	}
	for i := 0; i < quorumCount; i++ {
		state.QuorumNodes[i] = nodes[indexes[i]]
	}
	for i := 0; i < testCount; i++ {
		state.NodesToTest[i] = nodes[indexes[quorumCount+i]]
	}

	r.quorums[height] = state
}
