package main

import "log"

// Rollback events are the inverses of active-set mutations, recorded as a
// tagged variant rather than snapshots: reversing a block replays its
// events backwards, which bounds memory to the mutations inside the
// rollback window instead of a full set copy per block.
type rollbackKind int

const (
	// rollbackNew records that a node was added; reversing removes it.
	rollbackNew rollbackKind = iota
	// rollbackChange records a node's prior info (also used for
	// removals); reversing restores it.
	rollbackChange
	// rollbackBarrier marks the start of replayed history. Reversing
	// past it is impossible and forces a full rescan.
	rollbackBarrier
)

type rollbackEvent struct {
	height uint64
	kind   rollbackKind
	key    PublicKey
	info   NodeInfo // prior info, rollbackChange only
}

// apply reverses the recorded mutation against the active set. A false
// return means incremental rollback has failed and the caller must rebuild
// from the chain.
func (e *rollbackEvent) apply(nodes map[PublicKey]*NodeInfo) bool {
	switch e.kind {
	case rollbackNew:
		if _, ok := nodes[e.key]; !ok {
			log.Printf("Rollback: node %s missing while reversing an insertion", e.key)
			return false
		}
		delete(nodes, e.key)
		return true

	case rollbackChange:
		info := e.info
		nodes[e.key] = &info
		return true

	case rollbackBarrier:
		log.Printf("Rollback: hit replay barrier at height %d, full rescan required", e.height)
		return false
	}
	return false
}
