/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "hub:dedup:"
	valueProcessing = "processing"
	valueDone       = "done"
)

// releaseScript deletes the key only while it still holds a claim, so a
// late Release never erases a completion.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares dedup state across instances through Redis.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Claim uses SET NX so exactly one caller wins the key.
func (s *RedisStore) Claim(ctx context.Context, key string, claimTTL time.Duration) (Status, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	k := keyPrefix + key
	ok, err := s.client.SetNX(ctx, k, valueProcessing, claimTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("claim dedup key: %w", err)
	}
	if ok {
		return Claimed, nil
	}

	val, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = s.client.SetNX(ctx, k, valueProcessing, claimTTL).Result()
		if err != nil {
			return 0, fmt.Errorf("claim dedup key: %w", err)
		}
		if ok {
			return Claimed, nil
		}
		return InProgress, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dedup key: %w", err)
	}
	if val == valueDone {
		return Completed, nil
	}
	return InProgress, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, doneTTL time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := s.client.Set(ctx, keyPrefix+key, valueDone, doneTTL).Err(); err != nil {
		return fmt.Errorf("complete dedup key: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := releaseScript.Run(ctx, s.client, []string{keyPrefix + key}, valueProcessing).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release dedup key: %w", err)
	}
	return nil
}
