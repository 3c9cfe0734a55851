package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/stolenwatch/internal/infrastructure/config"
)

// Keys and channels.
const (
	GeoKey       = "stolenwatch:geo"
	AlertChannel = "stolenwatch:alerts"

	deviceKeyPrefix = "stolenwatch:device:"

	// deviceStateTTL expires the latest-fix hash of devices that stop reporting.
	deviceStateTTL = 7 * 24 * time.Hour

	connectTimeout = 5 * time.Second
)

// ErrDisabled indicates Redis integration is disabled in config.
var ErrDisabled = errors.New("redisstore: disabled in configuration")

// DeviceKey returns the hash key holding the latest fix of deviceID.
func DeviceKey(deviceID string) string {
	return deviceKeyPrefix + deviceID
}

// Fix is a resolved device position.
type Fix struct {
	DeviceID   string
	Latitude   float64
	Longitude  float64
	DistanceKm float64
	Inside     bool
	At         time.Time
}

// Store writes fixes and alerts to Redis.
type Store struct {
	client *redis.Client
}

// Connect creates the client and pings the server.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &Store{client: client}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// HealthCheck pings the server.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// RecordFix stores the device position in the geo set and its latest-fix hash.
func (s *Store) RecordFix(ctx context.Context, fix Fix) error {
	at := fix.At
	if at.IsZero() {
		at = time.Now()
	}
	key := DeviceKey(fix.DeviceID)

	pipe := s.client.Pipeline()
	pipe.GeoAdd(ctx, GeoKey, &redis.GeoLocation{
		Name:      fix.DeviceID,
		Longitude: fix.Longitude,
		Latitude:  fix.Latitude,
	})
	pipe.HSet(ctx, key, map[string]interface{}{
		"device_id":   fix.DeviceID,
		"lat":         fix.Latitude,
		"lng":         fix.Longitude,
		"distance_km": fix.DistanceKm,
		"inside":      fix.Inside,
		"timestamp":   at.Unix(),
	})
	pipe.Expire(ctx, key, deviceStateTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis fix pipeline for %s: %w", fix.DeviceID, err)
	}
	return nil
}

// PublishAlert publishes v as JSON on AlertChannel.
func (s *Store) PublishAlert(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}
	if err := s.client.Publish(ctx, AlertChannel, payload).Err(); err != nil {
		return fmt.Errorf("publishing alert: %w", err)
	}
	return nil
}
