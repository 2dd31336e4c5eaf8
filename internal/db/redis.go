package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/session-replay-server/internal/domain"
	"github.com/airenas/session-replay-server/internal/secure"
	"github.com/redis/go-redis/v9"
)

// RedisResumeManager keeps last playback positions in Redis.
type RedisResumeManager struct {
	client  *redis.Client
	ttl     time.Duration
	crypter *secure.Crypter
}

// NewRedisResumeManager creates a manager with connection pooling. Payloads
// are encrypted at rest when encryptionKey is non-empty.
func NewRedisResumeManager(connStr string, encryptionKey string) (*RedisResumeManager, error) {
	opt, err := redis.ParseURL(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	goapp.Log.Info().Str("redis", opt.Addr).Int("db", opt.DB).Send()
	rdb := redis.NewClient(opt)

	var crypter *secure.Crypter
	if encryptionKey != "" {
		crypter, err = secure.NewCrypter(encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("create crypter: %w", err)
		}
	}

	return &RedisResumeManager{
		client:  rdb,
		ttl:     time.Hour * 24 * 30,
		crypter: crypter,
	}, nil
}

func (r *RedisResumeManager) keyResume(sessionID int64) string {
	return fmt.Sprintf("resume:%d", sessionID)
}

// SaveResume stores the position as JSON, encrypted when a key is configured.
func (r *RedisResumeManager) SaveResume(ctx context.Context, in *domain.Resume) error {
	goapp.Log.Trace().Int64("session", in.SessionID).Msg("Save resume")

	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	if r.crypter != nil {
		data, err = r.crypter.Encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
	}
	return r.client.Set(ctx, r.keyResume(in.SessionID), data, r.ttl).Err()
}

// GetResume retrieves the stored position, nil when none exists.
func (r *RedisResumeManager) GetResume(ctx context.Context, sessionID int64) (*domain.Resume, error) {
	goapp.Log.Trace().Int64("session", sessionID).Msg("Get resume")
	bs, err := r.client.Get(ctx, r.keyResume(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get resume: %w", err)
	}
	if r.crypter != nil {
		bs, err = r.crypter.Decrypt(bs)
		if err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
	}
	var res domain.Resume
	if err := json.Unmarshal(bs, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteResume drops the stored position.
func (r *RedisResumeManager) DeleteResume(ctx context.Context, sessionID int64) error {
	return r.client.Del(ctx, r.keyResume(sessionID)).Err()
}

func (r *RedisResumeManager) Close() error {
	return r.client.Close()
}
