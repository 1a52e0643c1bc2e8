package main

import (
	"fmt"
	"log"
	"math/bits"
	"sync"
)

// HardFork is one step of the upgrade schedule: from Height on, the chain
// runs at Version.
type HardFork struct {
	Version int
	Height  uint64
}

// DefaultHardForks is the mainnet schedule. Version 9 activates the
// service node registry.
var DefaultHardForks = []HardFork{
	{Version: 1, Height: 0},
	{Version: 9, Height: 101250},
}

// Hooks the chain store publishes. The registry implements all four.
type (
	InitHook interface {
		Init()
	}
	BlockAddedHook interface {
		BlockAdded(block *Block, txs []*Transaction)
	}
	BlockchainDetachedHook interface {
		BlockchainDetached(height uint64)
	}
	ValidateMinerTxHook interface {
		ValidateMinerTx(prevHash Hash, minerTx *Transaction, height uint64, hfVersion int, baseReward uint64) bool
	}
)

// BlockEntry pairs a block with its raw serialized form, mirroring the
// shape GetBlocks consumers expect.
type BlockEntry struct {
	Raw   []byte
	Block *Block
}

// Chain is the chain store: it owns blocks and transactions and publishes
// block events to hooked consumers. It is internally thread-safe for the
// read APIs; mutations (AddBlock, DetachTo) must be externally serialized.
type Chain struct {
	mu sync.RWMutex

	storage  *Storage // nil for memory-only chains
	blocks   map[Hash]*Block
	byHeight []Hash
	txs      map[Hash]*Transaction

	hardForks []HardFork

	initHooks       []InitHook
	blockAddedHooks []BlockAddedHook
	detachedHooks   []BlockchainDetachedHook
	minerTxHooks    []ValidateMinerTxHook
}

// NewMemoryChain creates a chain with no persistence, for embedding and
// tests.
func NewMemoryChain(hardForks []HardFork) *Chain {
	return &Chain{
		blocks:    make(map[Hash]*Block),
		txs:       make(map[Hash]*Transaction),
		hardForks: hardForks,
	}
}

// NewChain opens a persistent chain and hydrates it from storage.
func NewChain(dataDir string, hardForks []HardFork) (*Chain, error) {
	storage, err := NewStorage(dataDir)
	if err != nil {
		return nil, err
	}

	c := NewMemoryChain(hardForks)
	c.storage = storage
	if err := c.loadFromStorage(); err != nil {
		if closeErr := storage.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to load chain: %w (additionally failed to close storage: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to load chain: %w", err)
	}
	return c, nil
}

func (c *Chain) loadFromStorage() error {
	tip, found, err := c.storage.TipHeight()
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	for h := uint64(0); h <= tip; h++ {
		block, err := c.storage.GetBlockByHeight(h)
		if err != nil {
			return err
		}
		if block == nil {
			return fmt.Errorf("missing block at height %d", h)
		}
		hash := block.Hash()
		c.blocks[hash] = block
		c.byHeight = append(c.byHeight, hash)

		for _, txHash := range block.TxHashes {
			tx, err := c.storage.GetTransaction(txHash)
			if err != nil {
				return err
			}
			if tx == nil {
				return fmt.Errorf("missing transaction %s for block %d", txHash, h)
			}
			c.txs[txHash] = tx
		}
	}
	return nil
}

// Close closes the backing storage, if any.
func (c *Chain) Close() error {
	if c.storage == nil {
		return nil
	}
	return c.storage.Close()
}

// ============================================================================
// Hook registration
// ============================================================================

func (c *Chain) HookInit(h InitHook)                         { c.initHooks = append(c.initHooks, h) }
func (c *Chain) HookBlockAdded(h BlockAddedHook)             { c.blockAddedHooks = append(c.blockAddedHooks, h) }
func (c *Chain) HookBlockchainDetached(h BlockchainDetachedHook) {
	c.detachedHooks = append(c.detachedHooks, h)
}
func (c *Chain) HookValidateMinerTx(h ValidateMinerTxHook) {
	c.minerTxHooks = append(c.minerTxHooks, h)
}

// RunInitHooks invokes every init hook; the daemon calls this once after
// wiring so consumers replay the recent chain.
func (c *Chain) RunInitHooks() {
	for _, h := range c.initHooks {
		h.Init()
	}
}

// ============================================================================
// Read API
// ============================================================================

// CurrentHeight returns the height of the top block (0 when empty).
func (c *Chain) CurrentHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.byHeight) == 0 {
		return 0
	}
	return uint64(len(c.byHeight) - 1)
}

// HardForkVersion returns the protocol version in force at a height.
func (c *Chain) HardForkVersion(height uint64) int {
	version := 0
	for _, hf := range c.hardForks {
		if height >= hf.Height {
			version = hf.Version
		}
	}
	return version
}

// StakingRequirement returns the minimum stake for a registration at the
// given height.
func (c *Chain) StakingRequirement(height uint64) uint64 {
	return StakingRequirementBase
}

// BaseReward returns the block subsidy before the service node split.
func (c *Chain) BaseReward(height uint64) uint64 {
	return BaseBlockReward
}

// BlockIDByHeight returns the main-chain block hash at a height, or the
// null hash if the height is not on the chain.
func (c *Chain) BlockIDByHeight(height uint64) Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if height >= uint64(len(c.byHeight)) {
		return NullHash
	}
	return c.byHeight[height]
}

// GetBlocks returns up to count blocks starting at height start, in
// ascending order, each paired with its raw serialization.
func (c *Chain) GetBlocks(start, count uint64) []BlockEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var entries []BlockEntry
	for h := start; h < start+count && h < uint64(len(c.byHeight)); h++ {
		block := c.blocks[c.byHeight[h]]
		entries = append(entries, BlockEntry{Raw: block.Serialize(), Block: block})
	}
	return entries
}

// GetTransactions resolves transaction hashes to bodies; hashes the chain
// does not know come back in missed.
func (c *Chain) GetTransactions(hashes []Hash) (txs []*Transaction, missed []Hash) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, h := range hashes {
		if tx, ok := c.txs[h]; ok {
			txs = append(txs, tx)
		} else {
			missed = append(missed, h)
		}
	}
	return txs, missed
}

// ServiceNodeReward is the portion of the base reward routed to the
// winning service node's recipients.
func (c *Chain) ServiceNodeReward(height uint64, baseReward uint64, hfVersion int) uint64 {
	return ServiceNodeReward(height, baseReward, hfVersion)
}

// ShareOfReward splits a total reward by share weight.
func (c *Chain) ShareOfReward(share uint32, total uint64) uint64 {
	return ShareOfReward(share, total)
}

// ============================================================================
// Mutations
// ============================================================================

// AddBlock validates the block's coinbase against every hooked validator,
// commits the block and its transactions, and notifies block-added hooks.
// Callers must invoke AddBlock serially in ascending height order.
func (c *Chain) AddBlock(block *Block, txs []*Transaction) error {
	height := block.Header.Height

	c.mu.RLock()
	chainLen := uint64(len(c.byHeight))
	var prevHash Hash
	if chainLen > 0 {
		prevHash = c.byHeight[chainLen-1]
	}
	c.mu.RUnlock()

	if height != chainLen {
		return fmt.Errorf("block height %d does not extend chain of length %d", height, chainLen)
	}
	if chainLen > 0 && block.Header.PrevHash != prevHash {
		return fmt.Errorf("block at height %d does not link to current tip", height)
	}

	hfVersion := c.HardForkVersion(height)
	baseReward := c.BaseReward(height)
	for _, hook := range c.minerTxHooks {
		if !hook.ValidateMinerTx(block.Header.PrevHash, &block.MinerTx, height, hfVersion, baseReward) {
			return fmt.Errorf("miner tx rejected at height %d", height)
		}
	}

	if len(txs) != len(block.TxHashes) {
		return fmt.Errorf("block at height %d lists %d txs, got %d", height, len(block.TxHashes), len(txs))
	}

	c.mu.Lock()
	hash := block.Hash()
	c.blocks[hash] = block
	c.byHeight = append(c.byHeight, hash)
	for _, tx := range txs {
		c.txs[tx.TxID()] = tx
	}
	c.mu.Unlock()

	if c.storage != nil {
		if err := c.storage.CommitBlock(block, txs); err != nil {
			return fmt.Errorf("failed to persist block %d: %w", height, err)
		}
	}

	for _, hook := range c.blockAddedHooks {
		hook.BlockAdded(block, txs)
	}
	return nil
}

// DetachTo truncates the chain so that height becomes the first removed
// block, then notifies detached hooks. Transactions of removed blocks are
// forgotten.
func (c *Chain) DetachTo(height uint64) {
	c.mu.Lock()
	for uint64(len(c.byHeight)) > height {
		hash := c.byHeight[len(c.byHeight)-1]
		if block, ok := c.blocks[hash]; ok {
			for _, txHash := range block.TxHashes {
				delete(c.txs, txHash)
			}
		}
		delete(c.blocks, hash)
		c.byHeight = c.byHeight[:len(c.byHeight)-1]
	}
	c.mu.Unlock()

	if c.storage != nil {
		if err := c.storage.DetachAbove(height); err != nil {
			log.Printf("Failed to detach storage above height %d: %v", height, err)
		}
	}

	for _, hook := range c.detachedHooks {
		hook.BlockchainDetached(height)
	}
}

// ============================================================================
// Reward arithmetic
// ============================================================================

// ServiceNodeReward is half the base reward once the registry is active.
func ServiceNodeReward(height uint64, baseReward uint64, hfVersion int) uint64 {
	if hfVersion < HardforkActivationVersion {
		return 0
	}
	return baseReward / 2
}

// ShareOfReward returns total * share / TotalShares without intermediate
// overflow.
func ShareOfReward(share uint32, total uint64) uint64 {
	hi, lo := bits.Mul64(total, uint64(share))
	if hi >= TotalShares {
		return 0
	}
	q, _ := bits.Div64(hi, lo, TotalShares)
	return q
}
