package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

const (
	redisEntryPrefix = "cachegate:p:"
	redisIndexPrefix = "cachegate:idx:"
)

type redisStore struct {
	client valkey.Client
}

// NewRedis constructs a redis-protocol partition store. Each partition keeps a
// set index of its keys so partitions can be enumerated and deleted as a unit.
func NewRedis(cfg RedisConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("store: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("store: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("store: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("store: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}

	return &redisStore{client: client}, nil
}

func entryKey(partition, key string) string {
	return redisEntryPrefix + partition + ":" + key
}

func indexKey(partition string) string {
	return redisIndexPrefix + partition
}

func (s *redisStore) Get(ctx context.Context, partition, key string) (Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(entryKey(partition, key)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("store: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("store: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("store: redis unmarshal: %w", err)
	}
	return entry, true, nil
}

func (s *redisStore) Put(ctx context.Context, partition, key string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: redis marshal: %w", err)
	}
	cmd := s.client.B().Set().Key(entryKey(partition, key)).Value(string(payload)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	add := s.client.B().Sadd().Key(indexKey(partition)).Member(key).Build()
	if err := s.client.Do(ctx, add).Error(); err != nil {
		return fmt.Errorf("store: redis index: %w", err)
	}
	return nil
}

func (s *redisStore) Keys(ctx context.Context, partition string) ([]string, error) {
	resp := s.client.Do(ctx, s.client.B().Smembers().Key(indexKey(partition)).Build())
	keys, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("store: redis smembers: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *redisStore) Partitions(ctx context.Context) ([]string, error) {
	var names []string
	cursor := uint64(0)
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(redisIndexPrefix + "*").Count(100).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("store: redis scan: %w", err)
		}
		for _, key := range entry.Elements {
			names = append(names, strings.TrimPrefix(key, redisIndexPrefix))
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *redisStore) DeletePartition(ctx context.Context, partition string) (bool, error) {
	keys, err := s.Keys(ctx, partition)
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		// The index may still exist with zero members.
		del := s.client.B().Del().Key(indexKey(partition)).Build()
		removed, err := s.client.Do(ctx, del).ToInt64()
		if err != nil {
			return false, fmt.Errorf("store: redis del index: %w", err)
		}
		return removed > 0, nil
	}
	targets := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		targets = append(targets, entryKey(partition, key))
	}
	targets = append(targets, indexKey(partition))
	del := s.client.B().Del().Key(targets...).Build()
	if err := s.client.Do(ctx, del).Error(); err != nil {
		return false, fmt.Errorf("store: redis del: %w", err)
	}
	return true, nil
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
