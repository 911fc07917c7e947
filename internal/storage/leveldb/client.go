// Package leveldb persists terminal investigation states so snapshot and
// cancel queries keep working after the in-memory coordinator is gone.
// Entries carry a TTL; finished investigations are not kept forever.
package leveldb

import (
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/m-karlsen/inquest/internal/config"
	"github.com/m-karlsen/inquest/internal/models"
)

const statePrefix = "investigation:"

type storeEntry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Client struct {
	db              *leveldb.DB
	ttl             time.Duration
	cleanupInterval time.Duration
	mutex           sync.RWMutex
	stopCleanup     chan struct{}
}

func NewClient(cfg config.LevelDBConfig, ttl time.Duration) (*Client, error) {
	opts := &opt.Options{
		CompactionTableSize: 2 * 1024 * 1024, // 2MB
		WriteBuffer:         1 * 1024 * 1024, // 1MB
	}

	db, err := leveldb.OpenFile(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb: %w", err)
	}

	client := &Client{
		db:              db,
		ttl:             ttl,
		cleanupInterval: time.Hour,
		stopCleanup:     make(chan struct{}),
	}

	go client.startCleanupRoutine()

	return client, nil
}

func (c *Client) Close() error {
	close(c.stopCleanup)
	return c.db.Close()
}

// PutState stores the terminal state of an investigation
func (c *Client) PutState(state models.InvestigationState) error {
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal investigation state: %w", err)
	}
	return c.put(statePrefix+state.InvestigationID, value)
}

// GetState retrieves a stored investigation state. Returns an error when the
// investigation is unknown or its entry has expired.
func (c *Client) GetState(investigationID string) (*models.InvestigationState, error) {
	value, err := c.get(statePrefix + investigationID)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, fmt.Errorf("investigation %s not found", investigationID)
	}

	var state models.InvestigationState
	if err := json.Unmarshal(value, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal investigation state: %w", err)
	}
	return &state, nil
}

// DeleteState removes a stored investigation state
func (c *Client) DeleteState(investigationID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.db.Delete([]byte(statePrefix+investigationID), nil)
}

// ListStates returns every stored, unexpired investigation state
func (c *Client) ListStates() ([]models.InvestigationState, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	iter := c.db.NewIterator(util.BytesPrefix([]byte(statePrefix)), nil)
	defer iter.Release()

	var states []models.InvestigationState
	now := time.Now()
	for iter.Next() {
		var entry storeEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		if now.After(entry.ExpiresAt) {
			continue
		}

		var state models.InvestigationState
		if err := json.Unmarshal(entry.Value, &state); err != nil {
			continue
		}
		states = append(states, state)
	}

	return states, iter.Error()
}

func (c *Client) put(key string, value []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry := storeEntry{
		Value:     value,
		ExpiresAt: time.Now().Add(c.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal store entry: %w", err)
	}

	return c.db.Put([]byte(key), data, nil)
}

func (c *Client) get(key string) ([]byte, error) {
	c.mutex.RLock()
	data, err := c.db.Get([]byte(key), nil)
	c.mutex.RUnlock()
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	var entry storeEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store entry: %w", err)
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mutex.Lock()
		c.db.Delete([]byte(key), nil)
		c.mutex.Unlock()
		return nil, nil
	}

	return entry.Value, nil
}

func (c *Client) startCleanupRoutine() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *Client) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	iter := c.db.NewIterator(util.BytesPrefix([]byte{}), nil)
	defer iter.Release()

	var keysToDelete [][]byte

	for iter.Next() {
		var entry storeEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}

		if time.Now().After(entry.ExpiresAt) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			keysToDelete = append(keysToDelete, key)
		}
	}

	for _, key := range keysToDelete {
		c.db.Delete(key, nil)
	}
}
