package main

import (
	"context"
	"log"
	"time"

	"snode/messenger"
)

// Daemon wires the chain store, the service node registry, and the
// optional messenger together and owns their lifecycle.
type Daemon struct {
	chain    *Chain
	registry *Registry

	msgStore  *messenger.Store
	msgServer *messenger.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// DaemonConfig configures the daemon.
type DaemonConfig struct {
	// DataDir holds the chain and messenger databases.
	DataDir string

	// MessengerAddr is the HTTP listen address for the message relay
	// (empty = disabled).
	MessengerAddr string
}

// NewDaemon opens the chain, attaches a registry to its hooks, and
// prepares the messenger if configured.
func NewDaemon(config DaemonConfig) (*Daemon, error) {
	chain, err := NewChain(config.DataDir, DefaultHardForks)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		chain:    chain,
		registry: NewRegistry(chain),
		ctx:      ctx,
		cancel:   cancel,
	}

	if config.MessengerAddr != "" {
		store, err := messenger.OpenStore(config.DataDir)
		if err != nil {
			cancel()
			if closeErr := chain.Close(); closeErr != nil {
				log.Printf("Failed to close chain: %v", closeErr)
			}
			return nil, err
		}
		d.msgStore = store
		d.msgServer = messenger.NewServer(store)

		if err := d.msgServer.Start(config.MessengerAddr); err != nil {
			cancel()
			if closeErr := store.Close(); closeErr != nil {
				log.Printf("Failed to close message store: %v", closeErr)
			}
			if closeErr := chain.Close(); closeErr != nil {
				log.Printf("Failed to close chain: %v", closeErr)
			}
			return nil, err
		}
	}

	return d, nil
}

// Start replays the recent chain into the registry and reports readiness.
func (d *Daemon) Start() {
	d.chain.RunInitHooks()

	log.Printf("Daemon started")
	log.Printf("  Chain height: %d", d.chain.CurrentHeight())
	log.Printf("  Active service nodes: %d", len(d.registry.ServiceNodePubkeys()))
}

// Stop shuts everything down in reverse order.
func (d *Daemon) Stop() {
	log.Println("Shutting down daemon...")
	d.cancel()

	if d.msgServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.msgServer.Stop(ctx); err != nil {
			log.Printf("Failed to stop messenger server: %v", err)
		}
		cancel()
	}
	if d.msgStore != nil {
		if err := d.msgStore.Close(); err != nil {
			log.Printf("Failed to close message store: %v", err)
		}
	}
	if err := d.chain.Close(); err != nil {
		log.Printf("Failed to close chain: %v", err)
	}

	log.Println("Daemon stopped")
}

// Chain exposes the chain store for embedding callers that feed blocks in.
func (d *Daemon) Chain() *Chain {
	return d.chain
}

// Registry exposes the service node registry.
func (d *Daemon) Registry() *Registry {
	return d.registry
}
