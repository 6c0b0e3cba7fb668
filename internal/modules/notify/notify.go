package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

var logger = logrus.WithField("module", "notify")

var ErrDisabled = fmt.Errorf("notifications are not configured")

// Notifier publishes recording lifecycle messages.
type Notifier interface {
	Publish(ctx context.Context, channel string, payload any) error
	Enabled() bool
}

func ProcessedChannel(sessionID string) string {
	return fmt.Sprintf("recording:%s:processed", sessionID)
}

func TranscriptionChannel(sessionID string) string {
	return fmt.Sprintf("recording:%s:transcription", sessionID)
}

type RedisNotifier struct {
	rdb *redis.Client
}

func provider(lc fx.Lifecycle, cfg *config.Config) (Notifier, error) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, notifications disabled")
		return disabled{}, nil
	}
	n, err := New(cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StartStopHook(
		func(ctx context.Context) error {
			if err := n.rdb.Ping(ctx).Err(); err != nil {
				logger.Warnf("redis at %s not reachable yet: %v", cfg.RedisAddr, err)
			}
			return nil
		},
		n.rdb.Close,
	))
	return n, nil
}

// New accepts either a plain host:port or a redis:// URL.
func New(addr string) (*RedisNotifier, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		return &RedisNotifier{rdb: redis.NewClient(opt)}, nil
	}
	return &RedisNotifier{rdb: redis.NewClient(&redis.Options{Addr: addr})}, nil
}

func (r *RedisNotifier) Enabled() bool { return true }

func (r *RedisNotifier) Publish(ctx context.Context, channel string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, channel, b).Err()
}

// Subscribe is used by tests and tooling to follow a channel.
func (r *RedisNotifier) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return r.rdb.Subscribe(ctx, channels...)
}

func (r *RedisNotifier) Close() error {
	return r.rdb.Close()
}

type disabled struct{}

func (disabled) Enabled() bool { return false }

func (disabled) Publish(ctx context.Context, channel string, payload any) error {
	return ErrDisabled
}

var Module = fx.Module("notify", fx.Provide(provider))
