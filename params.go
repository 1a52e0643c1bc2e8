package main

// ============================================================================
// Consensus constants
// ============================================================================
//
// Everything in this block is consensus-critical: a node that disagrees on
// any of these values computes a different service node set and forks.

const (
	// CoinUnit is the number of atomic units per coin.
	CoinUnit = 1_000_000_000

	// MaxBlockNumber is the upper bound on block heights carried in
	// unlock times. Values at or above this are timestamps, not heights.
	MaxBlockNumber = 500_000_000

	// StakeLockBlocks is the minimum number of blocks a registration's
	// outputs must stay locked past the registration height (30 days at
	// 2-minute blocks). It is also the base of the expiry window.
	StakeLockBlocks = 21600

	// RelockWindow is the extra slack past StakeLockBlocks before a
	// registration expires out of the active set.
	RelockWindow = 720

	// RollbackWindow is how many blocks of rollback events are retained.
	// Older events are dropped, so a detach reaching further back than
	// this reverses only the events still retained. A full rescan happens
	// only when a detach reaches the barrier that Init leaves in the
	// journal (which ages out of the window like any other event).
	RollbackWindow = 30

	// QuorumSize is the maximum number of nodes in a testing quorum.
	QuorumSize = 10

	// MinNodesToTest and NthOfNetworkToTest size the per-block test set:
	// max(remaining/NthOfNetworkToTest, min(MinNodesToTest, remaining)).
	MinNodesToTest     = 50
	NthOfNetworkToTest = 100

	// QuorumLifetime is how many blocks of derived quorum states are kept
	// cached. Deregistrations referencing older heights are rejected.
	QuorumLifetime = 60

	// TotalShares is the share denominator: the shares of a registration's
	// recipients sum to at most this, and reward splitting divides by it.
	TotalShares = 100_000

	// HardforkActivationVersion gates the whole registry. Below this
	// hard-fork version every hook is a no-op and every miner tx is valid.
	HardforkActivationVersion = 9

	// StakingRequirementBase is the stake (in atomic units) a registration
	// must provably transfer to its recipients.
	StakingRequirementBase = 45_000 * CoinUnit

	// BaseBlockReward is the pre-split block subsidy.
	BaseBlockReward = 500 * CoinUnit
)

// Transaction versions. Version 3 is reserved for deregistrations.
const (
	TxVersionStandard   = 1
	TxVersionMiner      = 2
	TxVersionDeregister = 3
)

// initReplayChunk is how many blocks are fetched per call during the
// startup rescan.
const initReplayChunk = 1000
