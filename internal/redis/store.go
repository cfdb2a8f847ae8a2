package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	goredis "github.com/redis/go-redis/v9"
)

const (
	DEFAULT_KEY_PREFIX = "vedirect:"
	CHANGES_CHANNEL    = "changes"
)

// ChangeNotification is published on the changes channel after the hash of an
// input has been updated.
type ChangeNotification struct {
	Input    string   `json:"input"`
	Fields   []string `json:"fields"`
	Snapshot bool     `json:"snapshot,omitempty"`
}

// Store mirrors the current data table of every input into one Redis hash per
// input, field => {"value","units"}.
type Store struct {
	client    *goredis.Client
	keyPrefix string
}

func NewStore(cfg config.RedisConfig) *Store {
	return NewStoreWithClient(goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.KeyPrefix)
}

func NewStoreWithClient(client *goredis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DEFAULT_KEY_PREFIX
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) InputKey(input string) string {
	return fmt.Sprintf("%s%s", s.keyPrefix, input)
}

func (s *Store) ChangesChannel() string {
	return s.keyPrefix + CHANGES_CHANNEL
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) WriteChangeSet(ctx context.Context, ev domain.ChangeSetEvent) error {
	if ev.IsEmpty() {
		return nil
	}
	values := make([]any, 0, 2*len(ev.Fields))
	notification := ChangeNotification{
		Input:    ev.Input,
		Snapshot: ev.Snapshot,
	}
	for _, fv := range ev.Fields {
		payload, err := json.Marshal(vedirect.FieldUpdate{Value: fv.Value, Units: fv.Units})
		if err != nil {
			return err
		}
		values = append(values, fv.Field, string(payload))
		notification.Fields = append(notification.Fields, fv.Field)
	}
	if err := s.client.HSet(ctx, s.InputKey(ev.Input), values...).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", s.InputKey(ev.Input), err)
	}
	msg, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.ChangesChannel(), string(msg)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", s.ChangesChannel(), err)
	}
	return nil
}

// ReadInput returns the mirrored table of an input.
func (s *Store) ReadInput(ctx context.Context, input string) (map[string]vedirect.FieldUpdate, error) {
	raw, err := s.client.HGetAll(ctx, s.InputKey(input)).Result()
	if err != nil {
		return nil, err
	}
	fields := make(map[string]vedirect.FieldUpdate, len(raw))
	for field, payload := range raw {
		var u vedirect.FieldUpdate
		if err := json.Unmarshal([]byte(payload), &u); err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		fields[field] = u
	}
	return fields, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
