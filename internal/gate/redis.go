package gate

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeviceStore shares gate state across nodes: a set per account
// for registered devices and a sorted set of sighting times keyed by
// fingerprint.
type RedisDeviceStore struct {
	client *redis.Client
}

// NewRedisDeviceStore wraps an existing client.
func NewRedisDeviceStore(client *redis.Client) *RedisDeviceStore {
	return &RedisDeviceStore{client: client}
}

func devicesKey(accountID string) string   { return "gate:devices:" + accountID }
func sightingsKey(accountID string) string { return "gate:seen:" + accountID }

func (s *RedisDeviceStore) IsRegistered(ctx context.Context, accountID, fingerprint string) (bool, error) {
	return s.client.SIsMember(ctx, devicesKey(accountID), fingerprint).Result()
}

func (s *RedisDeviceStore) CountRegistered(ctx context.Context, accountID string) (int, error) {
	n, err := s.client.SCard(ctx, devicesKey(accountID)).Result()
	return int(n), err
}

func (s *RedisDeviceStore) RegisterDevice(ctx context.Context, accountID, fingerprint string) error {
	return s.client.SAdd(ctx, devicesKey(accountID), fingerprint).Err()
}

// RecordSighting upserts the fingerprint's last-seen time as a sorted
// set score, so each fingerprint counts once however often it appears.
func (s *RedisDeviceStore) RecordSighting(ctx context.Context, accountID, fingerprint string, at time.Time) error {
	return s.client.ZAdd(ctx, sightingsKey(accountID), redis.Z{
		Score:  float64(at.UnixNano()),
		Member: fingerprint,
	}).Err()
}

func (s *RedisDeviceStore) DistinctSightings(ctx context.Context, accountID string, window time.Duration) (int, error) {
	key := sightingsKey(accountID)
	cutoff := time.Now().Add(-window).UnixNano()
	if err := s.client.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return 0, err
	}
	n, err := s.client.ZCard(ctx, key).Result()
	return int(n), err
}
