package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"certfsm/internal/certificate/models"
	"certfsm/pkg/platform/sentinel"
)

const (
	domainKeyPrefix = "certfsm:domain:"
	domainIndexKey  = "certfsm:domains"
)

// RedisStore is a Redis-backed domain store for distributed deployments.
// Optimistic concurrency rides on WATCH/MULTI: a concurrent write to the
// domain key between read and commit aborts the transaction, which surfaces
// as the same version conflict the other backends report.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed domain store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func domainKey(name string) string { return domainKeyPrefix + name }

func (s *RedisStore) Create(ctx context.Context, d *models.Domain) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal domain: %w", err)
	}

	ok, err := s.client.SetNX(ctx, domainKey(d.Name), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("create domain: %w", err)
	}
	if !ok {
		return sentinel.ErrAlreadyExists
	}
	if err := s.client.SAdd(ctx, domainIndexKey, d.Name).Err(); err != nil {
		return fmt.Errorf("index domain: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByName(ctx context.Context, name string) (*models.Domain, error) {
	data, err := s.client.Get(ctx, domainKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find domain: %w", err)
	}
	return unmarshalDomain(data)
}

func (s *RedisStore) List(ctx context.Context) ([]*models.Domain, error) {
	names, err := s.client.SMembers(ctx, domainIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	sort.Strings(names)

	out := make([]*models.Domain, 0, len(names))
	for _, name := range names {
		d, err := s.FindByName(ctx, name)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *RedisStore) CommitTransition(ctx context.Context, name string, expectedVersion int64, commit models.TransitionCommit) (*models.Domain, error) {
	key := domainKey(name)
	var committed *models.Domain

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read domain: %w", err)
		}

		current, err := unmarshalDomain(data)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return sentinel.ErrVersionConflict
		}

		next := current.Clone()
		if err := next.ApplyTransition(commit); err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal domain: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			return err
		}
		committed = next
		return nil
	}

	if err := s.client.Watch(ctx, txn, key); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, sentinel.ErrVersionConflict
		}
		return nil, err
	}
	return committed, nil
}

func unmarshalDomain(data []byte) (*models.Domain, error) {
	var d models.Domain
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal domain: %w", err)
	}
	return &d, nil
}
