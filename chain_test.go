package main

import (
	"fmt"
	"testing"
)

func TestHardForkVersion_Schedule(t *testing.T) {
	chain := NewMemoryChain([]HardFork{{Version: 1, Height: 0}, {Version: 7, Height: 50}, {Version: 9, Height: 120}})

	cases := []struct {
		height uint64
		want   int
	}{
		{0, 1}, {49, 1}, {50, 7}, {119, 7}, {120, 9}, {1 << 40, 9},
	}
	for _, c := range cases {
		if got := chain.HardForkVersion(c.height); got != c.want {
			t.Fatalf("version at %d = %d, want %d", c.height, got, c.want)
		}
	}
}

func TestShareOfReward_Arithmetic(t *testing.T) {
	if got := ShareOfReward(TotalShares, 1_000_000); got != 1_000_000 {
		t.Fatalf("full share of 1000000 = %d", got)
	}
	if got := ShareOfReward(TotalShares/2, 1_000_000); got != 500_000 {
		t.Fatalf("half share of 1000000 = %d", got)
	}
	if got := ShareOfReward(0, 1_000_000); got != 0 {
		t.Fatalf("zero share = %d", got)
	}

	// A split never pays out more than the total.
	total := uint64(999_999_937)
	paid := ShareOfReward(6000, total) + ShareOfReward(12000, total) + ShareOfReward(TotalShares-18000, total)
	if paid > total {
		t.Fatalf("split pays %d of %d", paid, total)
	}

	// No overflow on large rewards.
	if got := ShareOfReward(TotalShares, 1<<62); got != 1<<62 {
		t.Fatalf("full share of 1<<62 = %d", got)
	}
}

func TestServiceNodeReward_GatedByHardFork(t *testing.T) {
	if got := ServiceNodeReward(100, 1_000_000, 8); got != 0 {
		t.Fatalf("pre-activation reward = %d", got)
	}
	if got := ServiceNodeReward(100, 1_000_000, 9); got != 500_000 {
		t.Fatalf("post-activation reward = %d", got)
	}
}

func TestChain_GetBlocksAndTransactions(t *testing.T) {
	net := newTestNet(t, testHardForksActive)
	net.advanceTo(100)

	regTx := makeRegistrationTx(t, 100, testPublicKey("K"),
		[]AccountAddress{testAddress("K/recipient")}, []uint32{TotalShares}, splitStake(1))
	net.addBlock(regTx)

	entries := net.chain.GetBlocks(98, 5)
	if len(entries) != 3 {
		t.Fatalf("GetBlocks(98, 5) returned %d blocks, want 3", len(entries))
	}
	for i, e := range entries {
		if want := uint64(98 + i); e.Block.Header.Height != want {
			t.Fatalf("entry %d has height %d, want %d", i, e.Block.Header.Height, want)
		}
		if len(e.Raw) == 0 {
			t.Fatalf("entry %d has no raw serialization", i)
		}
	}

	txs, missed := net.chain.GetTransactions([]Hash{regTx.TxID(), {0xFF}})
	if len(txs) != 1 || len(missed) != 1 {
		t.Fatalf("GetTransactions returned %d txs, %d missed", len(txs), len(missed))
	}
	if txs[0].TxID() != regTx.TxID() {
		t.Fatalf("wrong transaction returned")
	}
}

func TestChain_BlockIDByHeight(t *testing.T) {
	net := newTestNet(t, testHardForksActive)
	net.advanceTo(10)

	if net.chain.BlockIDByHeight(5).IsNull() {
		t.Fatalf("existing height returned the null hash")
	}
	if !net.chain.BlockIDByHeight(500).IsNull() {
		t.Fatalf("missing height returned a hash")
	}
}

func TestChain_RejectsNonLinkingBlock(t *testing.T) {
	net := newTestNet(t, testHardForksActive)
	net.advanceTo(10)

	bad := &Block{
		Header:  BlockHeader{Height: 10, PrevHash: Hash{0xAB}},
		MinerTx: Transaction{Version: TxVersionMiner},
	}
	if err := net.chain.AddBlock(bad, nil); err == nil {
		t.Fatalf("block with a foreign prev hash was accepted")
	}

	skip := &Block{
		Header:  BlockHeader{Height: 14, PrevHash: net.prev},
		MinerTx: Transaction{Version: TxVersionMiner},
	}
	if err := net.chain.AddBlock(skip, nil); err == nil {
		t.Fatalf("block skipping heights was accepted")
	}
}

func TestChainPersistence_RegistryReplaysAfterRestart(t *testing.T) {
	// Build a persistent chain holding a registration, close it, reopen
	// from disk, and let a fresh registry replay: the node must come
	// back without any registry state having been persisted.
	dataDir := t.TempDir()

	chain, err := NewChain(dataDir, testHardForksActive)
	if err != nil {
		t.Fatalf("failed to create chain: %v", err)
	}

	net := &testNet{t: t, chain: chain, reg: NewRegistry(chain)}
	net.advanceTo(40)

	nodeKey := testPublicKey("persisted")
	net.addBlock(makeRegistrationTx(t, 40, nodeKey,
		[]AccountAddress{testAddress("persisted/recipient")}, []uint32{TotalShares}, splitStake(1)))
	net.advanceTo(45)

	tipHash := net.prev
	if err := chain.Close(); err != nil {
		t.Fatalf("failed to close chain: %v", err)
	}

	reopened, err := NewChain(dataDir, testHardForksActive)
	if err != nil {
		t.Fatalf("failed to reopen chain: %v", err)
	}
	defer func() {
		if err := reopened.Close(); err != nil {
			t.Fatalf("failed to close reopened chain: %v", err)
		}
	}()

	if got := reopened.CurrentHeight(); got != 44 {
		t.Fatalf("reopened chain height = %d, want 44", got)
	}
	if got := reopened.BlockIDByHeight(44); got != tipHash {
		t.Fatalf("reopened tip hash mismatch")
	}

	reg := NewRegistry(reopened)
	reopened.RunInitHooks()

	if !reg.IsServiceNode(nodeKey) {
		t.Fatalf("registry replay lost the registered node")
	}
}

func TestChainPersistence_DetachSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()

	chain, err := NewChain(dataDir, testHardForksActive)
	if err != nil {
		t.Fatalf("failed to create chain: %v", err)
	}

	net := &testNet{t: t, chain: chain, reg: NewRegistry(chain)}
	net.advanceTo(30)

	chain.DetachTo(20)
	if got := chain.CurrentHeight(); got != 19 {
		t.Fatalf("height after detach = %d, want 19", got)
	}
	if err := chain.Close(); err != nil {
		t.Fatalf("failed to close chain: %v", err)
	}

	reopened, err := NewChain(dataDir, testHardForksActive)
	if err != nil {
		t.Fatalf("failed to reopen chain: %v", err)
	}
	defer func() {
		if err := reopened.Close(); err != nil {
			t.Fatalf("failed to close reopened chain: %v", err)
		}
	}()

	if got := reopened.CurrentHeight(); got != 19 {
		t.Fatalf("reopened height = %d, want 19", got)
	}
	if !reopened.BlockIDByHeight(20).IsNull() {
		t.Fatalf("detached height still resolves after restart")
	}
}

func TestBlockSerialization_HashStable(t *testing.T) {
	tx := makeRegistrationTx(t, 7, testPublicKey("K"),
		[]AccountAddress{testAddress("K/recipient")}, []uint32{TotalShares}, splitStake(1))

	block := &Block{
		Header:   BlockHeader{Version: 1, Height: 7, PrevHash: Hash{1, 2, 3}, Timestamp: 12345},
		MinerTx:  Transaction{Version: TxVersionMiner},
		TxHashes: []Hash{tx.TxID()},
	}

	h1 := block.Hash()
	h2 := block.Hash()
	if h1 != h2 {
		t.Fatalf("block hash is not stable")
	}

	other := *block
	other.Header.Nonce = 99
	if other.Hash() == h1 {
		t.Fatalf("nonce change did not change the hash: %s", fmt.Sprint(h1))
	}
}
