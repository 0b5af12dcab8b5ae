package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"clinic-phone/internal/store"

	goredis "github.com/redis/go-redis/v9"
)

// Key patterns:
// - phone:state:{profile} - durable history, settings and permissions (no TTL)
const stateKeyPrefix = "phone:state:"

// StateStore persists the durable phone state of one profile as a JSON blob.
type StateStore struct {
	client  *goredis.Client
	profile string
}

func NewStateStore(client *goredis.Client, profile string) *StateStore {
	if profile == "" {
		profile = "default"
	}
	return &StateStore{client: client, profile: profile}
}

func (s *StateStore) key() string {
	return stateKeyPrefix + s.profile
}

func (s *StateStore) Load(ctx context.Context) (store.Durable, bool, error) {
	data, err := s.client.Get(ctx, s.key()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return store.Durable{}, false, nil
	}
	if err != nil {
		return store.Durable{}, false, fmt.Errorf("load phone state: %w", err)
	}

	var d store.Durable
	if err := json.Unmarshal(data, &d); err != nil {
		return store.Durable{}, false, fmt.Errorf("decode phone state: %w", err)
	}
	return d, true, nil
}

func (s *StateStore) Save(ctx context.Context, d store.Durable) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(), data, 0).Err(); err != nil {
		return fmt.Errorf("save phone state: %w", err)
	}
	return nil
}

// Clear removes the stored state of the profile.
func (s *StateStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key()).Err()
}
