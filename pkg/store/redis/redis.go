// Package redis provides a store backend on Redis using rueidis.
//
// Each collection is one key holding a JSON array of records. Update uses
// optimistic locking: WATCH the keys on a dedicated connection, read, run the
// update function, then write inside MULTI/EXEC. An aborted EXEC is retried up
// to MaxRetries times before failing with store.ErrConflict.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger-engine/pkg/store"

	"github.com/redis/rueidis"
)

// Store is a store.Store on Redis.
type Store struct {
	client rueidis.Client
	name   string
	keys   *store.KeyPattern
	config Config
}

// Config holds configuration for the Redis store.
type Config struct {
	Name string
	// Addr is the Redis server address for single node mode.
	// For cluster mode, use ClusterAddrs instead.
	Addr string
	// ClusterAddrs is a list of Redis cluster node addresses.
	// If set, cluster mode is enabled automatically.
	ClusterAddrs []string
	Username     string
	Password     string
	// DB is the Redis database number.
	// Note: In cluster mode, only DB 0 is supported.
	DB int
	// KeyPrefix is prepended to every collection name. The default "{ledger}"
	// is a hash tag, so all collections share one cluster slot and can be
	// watched together.
	KeyPrefix string
	// MaxRetries bounds how often an aborted EXEC is retried.
	MaxRetries   int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// SentinelAddrs is a list of Redis Sentinel addresses.
	// If set, sentinel mode is enabled.
	SentinelAddrs     []string
	SentinelMasterSet string
	SentinelUsername  string
	SentinelPassword  string
}

// DefaultConfig returns a single-node configuration on localhost.
func DefaultConfig() Config {
	return Config{
		Name:         "redis",
		Addr:         "localhost:6379",
		KeyPrefix:    "{ledger}",
		MaxRetries:   5,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// New connects to Redis and verifies the connection with PING.
func New(config Config) (*Store, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}

	var initAddress []string
	switch {
	case len(config.ClusterAddrs) > 0:
		initAddress = config.ClusterAddrs
	case len(config.SentinelAddrs) > 0:
		initAddress = config.SentinelAddrs
	case config.Addr != "":
		initAddress = []string{config.Addr}
	default:
		return nil, fmt.Errorf("redis: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}

	clientOpts := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		// Client-side caching is off; the chain store owns read caching.
		DisableCache: true,
	}
	if len(config.SentinelAddrs) > 0 {
		clientOpts.Sentinel = rueidis.SentinelOption{
			MasterSet: config.SentinelMasterSet,
			Username:  config.SentinelUsername,
			Password:  config.SentinelPassword,
		}
	}

	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, store.Unavailable(config.Name, "connect", err)
	}

	s := &Store{
		client: client,
		name:   config.Name,
		keys:   store.NewKeyPattern(config.KeyPrefix),
		config: config,
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return s, nil
}

// Read returns the records of a collection.
func (s *Store) Read(ctx context.Context, collection string) ([]store.Record, error) {
	if err := store.ValidateCollection(collection); err != nil {
		return nil, err
	}

	resp := s.client.Do(ctx, s.client.B().Get().Key(s.keys.Key(collection)).Build())
	return s.decode(collection, resp)
}

// Write replaces the collection.
func (s *Store) Write(ctx context.Context, collection string, records []store.Record) error {
	if err := store.ValidateCollection(collection); err != nil {
		return err
	}

	data, err := encode(records)
	if err != nil {
		return fmt.Errorf("redis write %s: %w", collection, err)
	}

	cmd := s.client.B().Set().Key(s.keys.Key(collection)).Value(data).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return store.Unavailable(s.name, "write", err)
	}
	return nil
}

// Update runs fn with WATCH/MULTI/EXEC on a dedicated connection.
func (s *Store) Update(ctx context.Context, collections []string, fn store.UpdateFunc) error {
	for _, name := range collections {
		if err := store.ValidateCollection(name); err != nil {
			return err
		}
	}

	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		var committed bool
		err := s.client.Dedicated(func(c rueidis.DedicatedClient) error {
			var err error
			committed, err = s.updateOnce(ctx, c, collections, fn)
			return err
		})
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return store.WrapError(store.ErrConflict, s.name, "update")
}

// updateOnce performs one optimistic attempt. It reports committed=false when
// EXEC was aborted because a watched key changed.
func (s *Store) updateOnce(ctx context.Context, c rueidis.DedicatedClient, collections []string, fn store.UpdateFunc) (bool, error) {
	keys := make([]string, len(collections))
	for i, name := range collections {
		keys[i] = s.keys.Key(name)
	}

	if err := c.Do(ctx, c.B().Watch().Key(keys...).Build()).Error(); err != nil {
		return false, store.Unavailable(s.name, "watch", err)
	}

	gets := make(rueidis.Commands, len(keys))
	for i, key := range keys {
		gets[i] = c.B().Get().Key(key).Build()
	}
	results := c.DoMulti(ctx, gets...)

	data := make(map[string][]store.Record, len(collections))
	for i, name := range collections {
		records, err := s.decode(name, results[i])
		if err != nil && !store.IsNotFound(err) {
			s.unwatch(c)
			return false, err
		}
		if records == nil {
			records = []store.Record{}
		}
		data[name] = records
	}

	changed, err := fn(data)
	if err == nil {
		err = store.CheckUpdate(collections, changed)
	}
	if err != nil {
		s.unwatch(c)
		return false, err
	}
	if len(changed) == 0 {
		s.unwatch(c)
		return true, nil
	}

	cmds := make(rueidis.Commands, 0, len(changed)+2)
	cmds = append(cmds, c.B().Multi().Build())
	for name, records := range changed {
		value, err := encode(records)
		if err != nil {
			s.unwatch(c)
			return false, fmt.Errorf("redis update %s: %w", name, err)
		}
		cmds = append(cmds, c.B().Set().Key(s.keys.Key(name)).Value(value).Build())
	}
	cmds = append(cmds, c.B().Exec().Build())

	replies := c.DoMulti(ctx, cmds...)
	for _, reply := range replies[:len(replies)-1] {
		if err := reply.Error(); err != nil {
			return false, store.Unavailable(s.name, "update", err)
		}
	}

	exec := replies[len(replies)-1]
	if err := exec.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return false, nil
		}
		return false, store.Unavailable(s.name, "exec", err)
	}
	return true, nil
}

func (s *Store) unwatch(c rueidis.DedicatedClient) {
	c.Do(context.Background(), c.B().Unwatch().Build())
}

// Delete removes a collection.
func (s *Store) Delete(ctx context.Context, collection string) error {
	if err := store.ValidateCollection(collection); err != nil {
		return err
	}

	cmd := s.client.B().Del().Key(s.keys.Key(collection)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return store.Unavailable(s.name, "delete", err)
	}
	return nil
}

// Name returns the backend name.
func (s *Store) Name() string {
	return s.name
}

// Close closes the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.client.B().Ping().Build()).Error(); err != nil {
		return store.Unavailable(s.name, "ping", err)
	}
	return nil
}

func (s *Store) decode(collection string, resp rueidis.RedisResult) ([]store.Record, error) {
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, store.ErrCollectionNotFound
		}
		return nil, store.Unavailable(s.name, "read", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, store.Unavailable(s.name, "read", err)
	}

	var records []store.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, store.Unavailable(s.name, "read", fmt.Errorf("collection %s: %w", collection, err))
	}
	if records == nil {
		records = []store.Record{}
	}
	return records, nil
}

func encode(records []store.Record) (string, error) {
	if records == nil {
		records = []store.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
