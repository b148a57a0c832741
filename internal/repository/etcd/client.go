// Package etcd provides distributed run locking, so at most one run is
// prepared per scheduling target at a time across all planner instances.
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/virtbench/virtbench/internal/config"
)

// ErrKeyNotFound indicates the key was not found in etcd.
var ErrKeyNotFound = errors.New("key not found")

// Client wraps an etcd client with distributed locking.
type Client struct {
	client  *clientv3.Client
	session *concurrency.Session
	logger  *zap.Logger
}

// NewClient creates a new etcd client with a lock session of ttl seconds.
func NewClient(cfg config.EtcdConfig, ttlSec int, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttlSec))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		client:  client,
		session: session,
		logger:  logger,
	}, nil
}

// Close closes the etcd client and session.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// Lock represents a held per-target lock.
type Lock struct {
	mutex *concurrency.Mutex
}

// AcquireLock blocks until the lock for key is held.
func (c *Client) AcquireLock(ctx context.Context, key string) (*Lock, error) {
	mutex := concurrency.NewMutex(c.session, fmt.Sprintf("/virtbench/locks/%s", key))

	if err := mutex.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	c.logger.Debug("Acquired lock", zap.String("key", key))

	return &Lock{mutex: mutex}, nil
}

// TryAcquireLock tries to acquire a lock within a timeout.
func (c *Client) TryAcquireLock(ctx context.Context, key string, timeout time.Duration) (*Lock, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.AcquireLock(ctx, key)
}

// Unlock releases the lock.
func (l *Lock) Unlock(ctx context.Context) error {
	if l.mutex == nil {
		return nil
	}
	return l.mutex.Unlock(ctx)
}

// RunMarker records the most recent run prepared for a target.
type RunMarker struct {
	RunID      string    `json:"run_id"`
	Host       string    `json:"host"`
	Guests     int       `json:"guests"`
	PreparedAt time.Time `json:"prepared_at"`
}

// PutRunMarker stores the marker for a target.
func (c *Client) PutRunMarker(ctx context.Context, target string, marker RunMarker) error {
	marker.PreparedAt = time.Now()
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal run marker: %w", err)
	}
	key := fmt.Sprintf("/virtbench/runs/%s", target)
	if _, err := c.client.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to put run marker: %w", err)
	}
	return nil
}

// GetRunMarker retrieves the marker for a target.
func (c *Client) GetRunMarker(ctx context.Context, target string) (*RunMarker, error) {
	key := fmt.Sprintf("/virtbench/runs/%s", target)
	resp, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get run marker: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrKeyNotFound
	}

	var marker RunMarker
	if err := json.Unmarshal(resp.Kvs[0].Value, &marker); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run marker: %w", err)
	}
	return &marker, nil
}

// ListRunMarkers returns the markers of all targets.
func (c *Client) ListRunMarkers(ctx context.Context) (map[string]RunMarker, error) {
	resp, err := c.client.Get(ctx, "/virtbench/runs/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list run markers: %w", err)
	}

	markers := make(map[string]RunMarker, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var marker RunMarker
		if err := json.Unmarshal(kv.Value, &marker); err != nil {
			c.logger.Warn("Failed to unmarshal run marker", zap.Error(err))
			continue
		}
		markers[string(kv.Key)[len("/virtbench/runs/"):]] = marker
	}
	return markers, nil
}
