package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// DefaultChainDBFilename is the bbolt file under the data directory.
const DefaultChainDBFilename = "chain.db"

// Bucket names
var (
	bucketBlocks  = []byte("blocks")  // hash -> block JSON
	bucketHeights = []byte("heights") // height (big-endian) -> hash
	bucketTxs     = []byte("txs")     // hash -> transaction JSON
	bucketMeta    = []byte("meta")    // metadata: tip height

	metaKeyHeight = []byte("height")
)

// Storage wraps bbolt for chain persistence. The registry itself is never
// persisted; it replays from these blocks on startup.
type Storage struct {
	db *bolt.DB
}

func heightKey(height uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, height)
	return key
}

// NewStorage opens or creates the chain database.
func NewStorage(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultChainDBFilename)
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlocks, bucketHeights, bucketTxs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to create buckets: %w (additionally failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// CommitBlock stores a block, its hash-by-height index entry, its
// transactions, and advances the tip height in one transaction.
func (s *Storage) CommitBlock(block *Block, txs []*Transaction) error {
	blockData, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}
	hash := block.Hash()

	return s.db.Update(func(btx *bolt.Tx) error {
		if err := btx.Bucket(bucketBlocks).Put(hash[:], blockData); err != nil {
			return err
		}
		if err := btx.Bucket(bucketHeights).Put(heightKey(block.Header.Height), hash[:]); err != nil {
			return err
		}
		for _, t := range txs {
			txData, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("failed to marshal tx: %w", err)
			}
			id := t.TxID()
			if err := btx.Bucket(bucketTxs).Put(id[:], txData); err != nil {
				return err
			}
		}
		return btx.Bucket(bucketMeta).Put(metaKeyHeight, heightKey(block.Header.Height))
	})
}

// DetachAbove removes height index entries at and above the given height
// and rewinds the tip. Block and tx bodies stay behind (side-chain data is
// harmless and may be reattached).
func (s *Storage) DetachAbove(height uint64) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		c := btx.Bucket(bucketHeights).Cursor()
		for k, _ := c.Seek(heightKey(height)); k != nil; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		if height == 0 {
			return btx.Bucket(bucketMeta).Delete(metaKeyHeight)
		}
		return btx.Bucket(bucketMeta).Put(metaKeyHeight, heightKey(height-1))
	})
}

// TipHeight returns the stored tip height, or found=false on a fresh db.
func (s *Storage) TipHeight() (height uint64, found bool, err error) {
	err = s.db.View(func(btx *bolt.Tx) error {
		data := btx.Bucket(bucketMeta).Get(metaKeyHeight)
		if data == nil {
			return nil
		}
		if len(data) != 8 {
			return fmt.Errorf("invalid tip height length: got %d", len(data))
		}
		height = binary.BigEndian.Uint64(data)
		found = true
		return nil
	})
	return height, found, err
}

// GetBlockByHeight loads the main-chain block at a height.
func (s *Storage) GetBlockByHeight(height uint64) (*Block, error) {
	var block *Block
	err := s.db.View(func(btx *bolt.Tx) error {
		hash := btx.Bucket(bucketHeights).Get(heightKey(height))
		if hash == nil {
			return nil
		}
		data := btx.Bucket(bucketBlocks).Get(hash)
		if data == nil {
			return fmt.Errorf("height index points at missing block %x", hash)
		}
		block = &Block{}
		return json.Unmarshal(data, block)
	})
	return block, err
}

// GetTransaction loads a transaction body by hash.
func (s *Storage) GetTransaction(hash Hash) (*Transaction, error) {
	var tx *Transaction
	err := s.db.View(func(btx *bolt.Tx) error {
		data := btx.Bucket(bucketTxs).Get(hash[:])
		if data == nil {
			return nil
		}
		tx = &Transaction{}
		return json.Unmarshal(data, tx)
	})
	return tx, err
}
