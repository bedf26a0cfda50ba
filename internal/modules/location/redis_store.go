// README: Presence store backed by Redis keys with native expiry and a recency sorted set.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridedispatch/internal/observability"
	"ridedispatch/internal/types"
)

const (
	presenceKeyPrefix = "presence:driver:"
	recentKey         = "presence:recent"
)

type RedisStore struct {
	redis *redis.Client
	log   logrus.FieldLogger
}

func NewRedisStore(redis *redis.Client) *RedisStore {
	return &RedisStore{redis: redis, log: logrus.StandardLogger()}
}

func (s *RedisStore) WithLogger(log logrus.FieldLogger) *RedisStore {
	s.log = log
	return s
}

type redisPresence struct {
	DriverID    string       `json:"uid"`
	Name        string       `json:"name,omitempty"`
	Online      bool         `json:"online"`
	Coords      *types.Point `json:"coords"`
	VehicleType string       `json:"vehicleType"`
	DeviceToken string       `json:"deviceToken,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	ExpiresAt   *time.Time   `json:"expiresAt,omitempty"`
}

// Upsert writes the record with a key TTL matching ExpiresAt so a driver
// whose client died disappears without an explicit offline call.
func (s *RedisStore) Upsert(ctx context.Context, p Presence) error {
	b, err := json.Marshal(toRedisPresence(p))
	if err != nil {
		return fmt.Errorf("encode presence %s: %w", p.DriverID, err)
	}
	var ttl time.Duration
	if p.ExpiresAt != nil {
		ttl = time.Until(*p.ExpiresAt)
		if ttl <= 0 {
			_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, presenceKey(p.DriverID))
				pipe.ZRem(ctx, recentKey, string(p.DriverID))
				return nil
			})
			return err
		}
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, presenceKey(p.DriverID), b, ttl)
		pipe.ZAdd(ctx, recentKey, redis.Z{
			Score:  float64(p.UpdatedAt.UnixMilli()),
			Member: string(p.DriverID),
		})
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, id types.ID) (*Presence, error) {
	b, err := s.redis.Get(ctx, presenceKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rp redisPresence
	if err := json.Unmarshal(b, &rp); err != nil {
		return nil, fmt.Errorf("decode presence %s: %w", id, err)
	}
	p := rp.toPresence()
	return &p, nil
}

func (s *RedisStore) Recent(ctx context.Context, limit int) ([]Presence, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.redis.ZRevRange(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = presenceKey(types.ID(id))
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Presence, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Key expired; drop the dangling recency entry.
			expired = append(expired, ids[i])
			continue
		}
		var rp redisPresence
		if err := json.Unmarshal([]byte(raw), &rp); err != nil {
			observability.StoreDecodeFailuresTotal.WithLabelValues("redis_presence").Inc()
			s.log.WithError(err).WithField("driver_id", ids[i]).Warn("skip undecodable presence")
			continue
		}
		out = append(out, rp.toPresence())
	}
	if len(expired) > 0 {
		_ = s.redis.ZRem(ctx, recentKey, expired...).Err()
	}
	return out, nil
}

func presenceKey(id types.ID) string {
	return presenceKeyPrefix + string(id)
}

func toRedisPresence(p Presence) redisPresence {
	return redisPresence{
		DriverID:    string(p.DriverID),
		Name:        p.Name,
		Online:      p.Online,
		Coords:      p.Coords,
		VehicleType: string(p.VehicleType),
		DeviceToken: p.DeviceToken,
		UpdatedAt:   p.UpdatedAt,
		ExpiresAt:   p.ExpiresAt,
	}
}

func (rp redisPresence) toPresence() Presence {
	return Presence{
		DriverID:    types.ID(rp.DriverID),
		Name:        rp.Name,
		Online:      rp.Online,
		Coords:      rp.Coords,
		VehicleType: vehicleOrDefault(rp.VehicleType),
		DeviceToken: rp.DeviceToken,
		UpdatedAt:   rp.UpdatedAt,
		ExpiresAt:   rp.ExpiresAt,
	}
}

// vehicleOrDefault treats a missing vehicle class as a bike, the platform's
// most common driver.
func vehicleOrDefault(v string) types.VehicleType {
	if vt := types.VehicleType(v); vt.Concrete() {
		return vt
	}
	return types.VehicleBike
}
