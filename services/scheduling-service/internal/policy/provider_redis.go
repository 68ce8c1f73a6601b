package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisConfigKey is the hash operators edit to change the interview window
// without a deploy.
const RedisConfigKey = "scheduling:config"

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

type redisProvider struct {
	rdb      hashReader
	key      string
	fallback SchedulingConfig
	logger   *slog.Logger
}

// NewRedisProvider reads fields of the scheduling:config hash over the
// fallback. A missing hash, a Redis error or an invalid merged config all
// result in the fallback being served.
func NewRedisProvider(rdb hashReader, fallback SchedulingConfig, logger *slog.Logger) Provider {
	return &redisProvider{rdb: rdb, key: RedisConfigKey, fallback: fallback, logger: logger}
}

func (p *redisProvider) Config(ctx context.Context) (SchedulingConfig, error) {
	fields, err := p.rdb.HGetAll(ctx, p.key).Result()
	if err != nil {
		p.logger.Warn("scheduling config read failed; using fallback", "err", err, "key", p.key)
		return p.fallback, nil
	}
	if len(fields) == 0 {
		return p.fallback, nil
	}

	cfg, err := mergeFields(p.fallback, fields)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		p.logger.Warn("scheduling config invalid; using fallback", "err", err, "key", p.key)
		return p.fallback, nil
	}
	return cfg, nil
}

func mergeFields(base SchedulingConfig, fields map[string]string) (SchedulingConfig, error) {
	cfg := base
	ints := map[string]*int{
		"start_minute_utc": &cfg.StartMinuteUTC,
		"end_minute_utc":   &cfg.EndMinuteUTC,
		"min_days_ahead":   &cfg.MinDaysAhead,
		"max_days_ahead":   &cfg.MaxDaysAhead,
	}
	for name, dst := range ints {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return SchedulingConfig{}, fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}
	if raw, ok := fields["duration_options"]; ok {
		var opts []int
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return SchedulingConfig{}, fmt.Errorf("duration_options: %w", err)
			}
			opts = append(opts, n)
		}
		cfg.DurationOptions = opts
	}
	return cfg, nil
}
