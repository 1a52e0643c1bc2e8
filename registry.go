package main

import (
	"log"
	"sort"
	"sync"
)

// NodeInfo is the registry's record of one active service node.
type NodeInfo struct {
	// Height and TxIndex form the waiting-order key: the block and
	// intra-block position of the registration. Height is reset to 0 and
	// TxIndex to -1 when the node is paid, which rotates it to the back
	// of the payout queue.
	Height  uint64
	TxIndex int

	// Recipients and Shares describe how the node's reward is split.
	// They are always the same non-zero length and Shares sums to at
	// most TotalShares.
	Recipients []AccountAddress
	Shares     []uint32
}

// Registry is the deterministic service node state machine. It consumes
// chain events and maintains the active set, the rollback journal, and the
// per-height quorum cache. All three are derived purely from the chain, so
// none of them is persisted; Init rebuilds them by replaying the recent
// window of blocks.
//
// The chain store invokes BlockAdded, BlockchainDetached, and Init
// serially, never concurrently with ValidateMinerTx. The internal lock
// additionally lets the read accessors run concurrently with each other.
type Registry struct {
	chain *Chain

	mu       sync.RWMutex
	nodes    map[PublicKey]*NodeInfo
	rollback []rollbackEvent
	quorums  map[uint64]*QuorumState
}

// NewRegistry creates a registry and hooks it into the chain store's
// lifecycle events.
func NewRegistry(chain *Chain) *Registry {
	r := &Registry{
		chain:   chain,
		nodes:   make(map[PublicKey]*NodeInfo),
		quorums: make(map[uint64]*QuorumState),
	}
	chain.HookInit(r)
	chain.HookBlockAdded(r)
	chain.HookBlockchainDetached(r)
	chain.HookValidateMinerTx(r)
	return r
}

// ============================================================================
// Read accessors
// ============================================================================

// IsServiceNode reports whether a key is in the active set.
func (r *Registry) IsServiceNode(key PublicKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[key]
	return ok
}

// ServiceNodePubkeys returns the active node keys in lexicographic order.
func (r *Registry) ServiceNodePubkeys() []PublicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedPubkeys()
}

func (r *Registry) sortedPubkeys() []PublicKey {
	keys := make([]PublicKey, 0, len(r.nodes))
	for key := range r.nodes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// QuorumState returns the cached quorum for a height, or nil if it is not
// cached (too old, or never derived). Callers treat nil for a referenced
// height as a consensus error.
func (r *Registry) QuorumState(height uint64) *QuorumState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.quorums[height]
}

// Winner returns the service node to be paid in the next block: the
// oldest-waiting member of the active set, or the null key if the set is
// empty.
func (r *Registry) Winner(prevHash Hash) PublicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selectWinner(prevHash)
}

// waitsBefore reports whether a is ahead of b in the payout queue. The
// (0, -1) key marks a just-paid node, which waits behind every normal
// registration; among normal registrations the older (height, tx index)
// pair goes first. No real registration can carry tx index -1, so the
// sentinel is unambiguous.
func waitsBefore(a, b *NodeInfo) bool {
	aPaid := a.Height == 0 && a.TxIndex == -1
	bPaid := b.Height == 0 && b.TxIndex == -1
	if aPaid != bPaid {
		return !aPaid
	}
	if a.Height != b.Height {
		return a.Height < b.Height
	}
	return a.TxIndex < b.TxIndex
}

// selectWinner walks the active set in key order (the iteration order is
// observable on ties, so it must be deterministic across nodes) and
// returns the oldest-waiting node, or the null key if the set is empty.
func (r *Registry) selectWinner(prevHash Hash) PublicKey {
	key := NullPublicKey
	var best *NodeInfo
	for _, nodeKey := range r.sortedPubkeys() {
		info := r.nodes[nodeKey]
		if best == nil || waitsBefore(info, best) {
			best = info
			key = nodeKey
		}
	}
	return key
}

// WinnerAddressesAndShares returns the reward split for the next block: the
// winner's recipients, or the null address with the full share count while
// no service node is active.
func (r *Registry) WinnerAddressesAndShares(prevHash Hash) []AddressShare {
	r.mu.RLock()
	defer r.mu.RUnlock()

	winner := r.selectWinner(prevHash)
	if winner.IsNull() {
		return []AddressShare{{Address: NullAddress, Shares: TotalShares}}
	}

	info := r.nodes[winner]
	result := make([]AddressShare, len(info.Recipients))
	for i := range info.Recipients {
		result[i] = AddressShare{Address: info.Recipients[i], Shares: info.Shares[i]}
	}
	return result
}

// ============================================================================
// Transaction classification
// ============================================================================

func regTxHasCorrectUnlockTime(tx *Transaction, blockHeight uint64) bool {
	return tx.UnlockTime < MaxBlockNumber && tx.UnlockTime >= blockHeight+StakeLockBlocks
}

// stakingOutputContribution decodes the staked amount of one registration
// output with the governance shared secret. Anything that does not decode
// cleanly contributes nothing.
func (r *Registry) stakingOutputContribution(tx *Transaction, i int, derivation KeyDerivation) uint64 {
	if tx.Outputs[i].TargetType != TargetToKey {
		return 0
	}

	scalar := DerivationToScalar(derivation, i)

	switch tx.RctType {
	case RctTypeSimple, RctTypeSimpleBulletproof, RctTypeFull, RctTypeFullBulletproof:
		amount, err := DecodeOutputAmount(scalar, tx.Outputs[i].EncryptedAmount, tx.Outputs[i].Commitment)
		if err != nil {
			log.Printf("Failed to decode staking output %d: %v", i, err)
			return 0
		}
		return amount
	default:
		log.Printf("Unsupported rct type for staking output: %d", tx.RctType)
		return 0
	}
}

// registrationKeyAndInfo runs the registration predicate minus the
// active-set membership clause (the expiry rescan re-runs the predicate
// against a block whose registrants are, by then, usually members).
func (r *Registry) registrationKeyAndInfo(tx *Transaction, blockHeight uint64, index int) (PublicKey, *NodeInfo, bool) {
	if !regTxHasCorrectUnlockTime(tx, blockHeight) {
		return NullPublicKey, nil, false
	}

	reg, ok := RegistrationFromExtra(tx.Extra)
	if !ok {
		return NullPublicKey, nil, false
	}
	txPubKey := TxPubKeyFromExtra(tx.Extra)

	if len(reg.SpendPublicKeys) == 0 ||
		len(reg.ViewPublicKeys) != len(reg.SpendPublicKeys) ||
		len(reg.Shares) != len(reg.SpendPublicKeys) ||
		reg.ServiceNodeKey.IsNull() ||
		txPubKey.IsNull() {
		return NullPublicKey, nil, false
	}

	total := uint64(0)
	for _, s := range reg.Shares {
		total += uint64(s)
	}
	if total > TotalShares {
		return NullPublicKey, nil, false
	}

	// The payload is not yet signed by the service node key; when a
	// signature is added it will be checked here, before any state is
	// touched.

	recipients := reg.Addresses()
	if len(tx.Outputs) < len(recipients) {
		return NullPublicKey, nil, false
	}

	govKey := DeterministicKeypair(1)

	transferred := uint64(0)
	for i := range recipients {
		derivation, err := GenerateKeyDerivation(recipients[i].ViewPublicKey, govKey.Sec)
		if err != nil {
			log.Printf("Failed to derive staking secret for output %d: %v", i, err)
			continue
		}
		transferred += r.stakingOutputContribution(tx, i, derivation)
	}

	if transferred < r.chain.StakingRequirement(blockHeight) {
		return NullPublicKey, nil, false
	}

	info := &NodeInfo{
		Height:     blockHeight,
		TxIndex:    index,
		Recipients: recipients,
		Shares:     reg.Shares,
	}
	return reg.ServiceNodeKey, info, true
}

// isDeregistrationTx resolves a deregistration to its target node key via
// the cached quorum it references. Callers hold the lock.
func (r *Registry) isDeregistrationTx(tx *Transaction) (PublicKey, bool) {
	if tx.Version != TxVersionDeregister {
		return NullPublicKey, false
	}

	dereg, ok := DeregisterFromExtra(tx.Extra)
	if !ok {
		log.Printf("Deregistration tx is missing its payload, possibly corrupt tx in blockchain")
		return NullPublicKey, false
	}

	state := r.quorums[dereg.BlockHeight]
	if state == nil {
		log.Printf("Quorum state for height %d was not stored by the daemon", dereg.BlockHeight)
		return NullPublicKey, false
	}

	if int(dereg.NodeIndex) >= len(state.NodesToTest) {
		log.Printf("Service node index %d to vote off is out of range for height %d", dereg.NodeIndex, dereg.BlockHeight)
		return NullPublicKey, false
	}

	return state.NodesToTest[dereg.NodeIndex], true
}

// ============================================================================
// Block ingest
// ============================================================================

// BlockAdded consumes the next block of the chain.
func (r *Registry) BlockAdded(block *Block, txs []*Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockAdded(block, txs)
}

func (r *Registry) blockAdded(block *Block, txs []*Transaction) {
	blockHeight := block.Header.Height
	if r.chain.HardForkVersion(blockHeight) < HardforkActivationVersion {
		return
	}

	// Age out rollback events that fell behind the reorg window.
	if blockHeight >= RollbackWindow {
		cutoff := blockHeight - RollbackWindow
		for len(r.rollback) > 0 && r.rollback[0].height < cutoff {
			r.rollback = r.rollback[1:]
		}
	}

	// The node paid by this block re-enters the queue as though it had
	// just registered, before any real registration in the block.
	winner := WinnerFromExtra(block.MinerTx.Extra)
	if info, ok := r.nodes[winner]; ok {
		r.rollback = append(r.rollback, rollbackEvent{
			height: blockHeight,
			kind:   rollbackChange,
			key:    winner,
			info:   *info,
		})
		info.Height = 0
		info.TxIndex = -1
	}

	for _, key := range r.expiredNodes(blockHeight) {
		if info, ok := r.nodes[key]; ok {
			r.rollback = append(r.rollback, rollbackEvent{
				height: blockHeight,
				kind:   rollbackChange,
				key:    key,
				info:   *info,
			})
			delete(r.nodes, key)
		}
		// Nodes that double staked expire early, so an expiring key may
		// already be gone.
	}

	for index, tx := range txs {
		if key, info, ok := r.registrationKeyAndInfo(tx, blockHeight, index); ok {
			if _, registered := r.nodes[key]; !registered {
				r.rollback = append(r.rollback, rollbackEvent{
					height: blockHeight,
					kind:   rollbackNew,
					key:    key,
				})
				r.nodes[key] = info
			} else {
				log.Printf("Detected stake using an existing service node key, funds were locked for no reward")
			}
		} else if key, ok := r.isDeregistrationTx(tx); ok {
			if info, present := r.nodes[key]; present {
				r.rollback = append(r.rollback, rollbackEvent{
					height: blockHeight,
					kind:   rollbackChange,
					key:    key,
					info:   *info,
				})
				delete(r.nodes, key)
			} else {
				log.Printf("Tried to kick off a service node that is no longer registered")
			}
		}
	}

	currentHeight := r.chain.CurrentHeight()
	cacheFromHeight := uint64(0)
	if currentHeight >= QuorumLifetime {
		cacheFromHeight = currentHeight - QuorumLifetime
	}

	if blockHeight >= cacheFromHeight {
		r.storeQuorumState(blockHeight)

		for h := range r.quorums {
			if h < cacheFromHeight {
				delete(r.quorums, h)
			}
		}
	}
}

// expiredNodes returns the keys whose stakes run out at blockHeight, by
// rescanning the block whose registrations are now ending and re-running
// the registration predicate against it.
func (r *Registry) expiredNodes(blockHeight uint64) []PublicKey {
	if blockHeight < StakeLockBlocks+RelockWindow {
		return nil
	}
	expiredHeight := blockHeight - StakeLockBlocks - RelockWindow

	entries := r.chain.GetBlocks(expiredHeight, 1)
	if len(entries) == 0 {
		log.Printf("Unable to get historical block %d for stake expiry", expiredHeight)
		return nil
	}

	block := entries[0].Block
	txs, missed := r.chain.GetTransactions(block.TxHashes)
	if len(missed) != 0 {
		log.Printf("Unable to get transactions for block %s", block.Hash())
		return nil
	}

	var expired []PublicKey
	for index, tx := range txs {
		if key, _, ok := r.registrationKeyAndInfo(tx, expiredHeight, index); ok {
			expired = append(expired, key)
		}
	}
	return expired
}

// ============================================================================
// Rollback
// ============================================================================

// BlockchainDetached reverses the registry to the state just before height
// by replaying the rollback journal backwards. Hitting the replay barrier
// abandons incremental rollback and rebuilds from the chain.
func (r *Registry) BlockchainDetached(height uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.rollback) > 0 && r.rollback[len(r.rollback)-1].height >= height {
		event := &r.rollback[len(r.rollback)-1]
		if !event.apply(r.nodes) {
			r.init()
			break
		}
		r.rollback = r.rollback[:len(r.rollback)-1]
	}

	for h := range r.quorums {
		if h >= height {
			delete(r.quorums, h)
		}
	}
}

// ============================================================================
// Initialization / replay
// ============================================================================

// Init rebuilds the registry by replaying the window of recent blocks that
// can still hold live registrations.
func (r *Registry) Init() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
}

func (r *Registry) init() {
	log.Printf("Recalculating service node list, scanning the last %d blocks", StakeLockBlocks+RelockWindow)

	r.nodes = make(map[PublicKey]*NodeInfo)
	r.rollback = nil

	currentHeight := r.chain.CurrentHeight()
	startHeight := uint64(0)
	if currentHeight >= StakeLockBlocks+RelockWindow {
		startHeight = currentHeight - StakeLockBlocks - RelockWindow
	}

	for height := startHeight; height <= currentHeight; height += initReplayChunk {
		entries := r.chain.GetBlocks(height, initReplayChunk)
		if len(entries) == 0 {
			log.Printf("Unable to initialize service node list: no blocks at height %d", height)
			return
		}

		for _, entry := range entries {
			txs, missed := r.chain.GetTransactions(entry.Block.TxHashes)
			if len(missed) != 0 {
				log.Printf("Unable to get transactions for block %s", entry.Block.Hash())
				return
			}
			r.blockAdded(entry.Block, txs)
		}
	}

	r.rollback = append(r.rollback, rollbackEvent{
		height: currentHeight,
		kind:   rollbackBarrier,
	})
}

// ============================================================================
// Miner transaction validation
// ============================================================================

// ValidateMinerTx checks a proposed coinbase against the registry's own
// idea of the winner and the reward split. Below the activation hard fork
// everything passes; after it, any mismatch rejects the block.
func (r *Registry) ValidateMinerTx(prevHash Hash, minerTx *Transaction, height uint64, hfVersion int, baseReward uint64) bool {
	if hfVersion < HardforkActivationVersion {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	totalReward := r.chain.ServiceNodeReward(height, baseReward, hfVersion)

	winner := r.selectWinner(prevHash)
	if WinnerFromExtra(minerTx.Extra) != winner {
		log.Printf("Miner tx winner does not match the expected service node")
		return false
	}

	addresses := []AccountAddress{NullAddress}
	shares := []uint32{TotalShares}
	if !winner.IsNull() {
		info := r.nodes[winner]
		addresses = info.Recipients
		shares = info.Shares
	}

	// One trailing governance output is reserved past the recipients.
	if len(minerTx.Outputs) < len(addresses)+1 {
		return false
	}

	govKey := DeterministicKeypair(height)

	for i := range addresses {
		voutIndex := len(minerTx.Outputs) - 1 - len(addresses) + i

		reward := r.chain.ShareOfReward(shares[i], totalReward)
		if minerTx.Outputs[voutIndex].Amount != reward {
			log.Printf("Service node reward amount incorrect: should be %d, is %d", reward, minerTx.Outputs[voutIndex].Amount)
			return false
		}

		if minerTx.Outputs[voutIndex].TargetType != TargetToKey {
			log.Printf("Service node reward output target type should be to-key")
			return false
		}

		derivation, err := GenerateKeyDerivation(addresses[i].ViewPublicKey, govKey.Sec)
		if err != nil {
			log.Printf("Failed to generate key derivation for reward output %d: %v", voutIndex, err)
			return false
		}
		expected, err := DerivePublicKey(derivation, voutIndex, addresses[i].SpendPublicKey)
		if err != nil {
			log.Printf("Failed to derive public key for reward output %d: %v", voutIndex, err)
			return false
		}

		if minerTx.Outputs[voutIndex].TargetKey != expected {
			log.Printf("Invalid service node reward output")
			return false
		}
	}

	return true
}
