// Package messenger is the auxiliary HTTP message relay run by service
// node operators: clients post short messages addressed to a public key
// and the recipient polls them back before they expire. It shares nothing
// with the consensus registry beyond the process it runs in.
package messenger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultMessageDBFilename is the bbolt file under the data directory.
	DefaultMessageDBFilename = "messenger.db"

	// DefaultTTL applies when a sender does not specify one.
	DefaultTTL = 24 * time.Hour

	// MaxTTL caps how long a message may be asked to live.
	MaxTTL = 14 * 24 * time.Hour

	// cleanupInterval is how often expired messages are swept.
	cleanupInterval = 10 * time.Second

	// MaxMessageSize bounds a single stored message.
	MaxMessageSize = 64 * 1024
)

var bucketMessages = []byte("messages")

// storedMessage is the persisted form of one relayed message.
type storedMessage struct {
	Message   string `json:"message"`
	ExpiresAt int64  `json:"expires_at"` // unix milliseconds
}

// Store keeps messages per recipient public key with a TTL, sweeping
// expired entries in the background.
type Store struct {
	db *bolt.DB

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// OpenStore opens or creates the message database and starts the cleanup
// sweeper.
func OpenStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, DefaultMessageDBFilename), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open message database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMessages)
		return err
	})
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to create bucket: %w (additionally failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	s := &Store{
		db:   db,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s, nil
}

// Close stops the sweeper and closes the database.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return s.db.Close()
}

// Save stores a message for a recipient. ttl of zero means DefaultTTL.
func (s *Store) Save(pubKey, message string, ttl time.Duration) error {
	if pubKey == "" {
		return fmt.Errorf("empty recipient key")
	}
	if len(message) > MaxMessageSize {
		return fmt.Errorf("message exceeds %d bytes", MaxMessageSize)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	data, err := json.Marshal(storedMessage{
		Message:   message,
		ExpiresAt: time.Now().Add(ttl).UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		inbox, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(pubKey))
		if err != nil {
			return err
		}
		seq, err := inbox.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return inbox.Put(key, data)
	})
}

// Retrieve returns the live messages for a recipient, oldest first.
// Expired entries are skipped here and reclaimed by the sweeper.
func (s *Store) Retrieve(pubKey string) ([]string, error) {
	now := time.Now().UnixMilli()

	var messages []string
	err := s.db.View(func(tx *bolt.Tx) error {
		inbox := tx.Bucket(bucketMessages).Bucket([]byte(pubKey))
		if inbox == nil {
			return nil
		}
		return inbox.ForEach(func(_, v []byte) error {
			var m storedMessage
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.ExpiresAt > now {
				messages = append(messages, m.Message)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Store) cleanupLoop() {
	defer close(s.done)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.cleanup(); err != nil {
				log.Printf("Messenger cleanup failed: %v", err)
			}
		}
	}
}

// cleanup deletes expired messages and empty inboxes.
func (s *Store) cleanup() error {
	now := time.Now().UnixMilli()

	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketMessages)

		// Collect inbox names first: a nil value under the root bucket
		// marks a nested bucket.
		var inboxes [][]byte
		c := root.Cursor()
		for name, v := c.First(); name != nil; name, v = c.Next() {
			if v == nil {
				inboxes = append(inboxes, append([]byte(nil), name...))
			}
		}

		for _, name := range inboxes {
			inbox := root.Bucket(name)

			var expired [][]byte
			remaining := 0
			err := inbox.ForEach(func(k, v []byte) error {
				var m storedMessage
				if err := json.Unmarshal(v, &m); err != nil || m.ExpiresAt <= now {
					expired = append(expired, append([]byte(nil), k...))
					return nil
				}
				remaining++
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range expired {
				if err := inbox.Delete(k); err != nil {
					return err
				}
			}
			if remaining == 0 && len(expired) > 0 {
				if err := root.DeleteBucket(name); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
