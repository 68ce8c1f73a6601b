package policy

import (
	"context"
	"fmt"
	"slices"

	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/availability"
)

// SchedulingConfig is the interview window configuration. The day range and
// duration options are only surfaced to clients; the window is enforced.
type SchedulingConfig struct {
	StartMinuteUTC  int   `json:"start_minute_utc"`
	EndMinuteUTC    int   `json:"end_minute_utc"`
	MinDaysAhead    int   `json:"min_days_ahead"`
	MaxDaysAhead    int   `json:"max_days_ahead"`
	DurationOptions []int `json:"duration_options"`
}

func (c SchedulingConfig) WorkingHours() availability.WorkingHours {
	return availability.WorkingHours{StartMinuteUTC: c.StartMinuteUTC, EndMinuteUTC: c.EndMinuteUTC}
}

func (c SchedulingConfig) Validate() error {
	if c.StartMinuteUTC < 0 || c.EndMinuteUTC > 24*60 || c.StartMinuteUTC >= c.EndMinuteUTC {
		return fmt.Errorf("invalid working window %d-%d", c.StartMinuteUTC, c.EndMinuteUTC)
	}
	if c.MinDaysAhead < 0 || c.MaxDaysAhead < c.MinDaysAhead {
		return fmt.Errorf("invalid day range %d-%d", c.MinDaysAhead, c.MaxDaysAhead)
	}
	for _, d := range c.DurationOptions {
		if d < 15 || d%15 != 0 {
			return fmt.Errorf("invalid duration option %d", d)
		}
	}
	return nil
}

// DefaultConfig is 08:00-17:00 UTC, bookable 1 to 30 days ahead.
func DefaultConfig() SchedulingConfig {
	return SchedulingConfig{
		StartMinuteUTC:  480,
		EndMinuteUTC:    1020,
		MinDaysAhead:    1,
		MaxDaysAhead:    30,
		DurationOptions: []int{15, 30, 45, 60},
	}
}

type Provider interface {
	Config(ctx context.Context) (SchedulingConfig, error)
}

type staticProvider struct {
	cfg SchedulingConfig
}

func NewStaticProvider(cfg SchedulingConfig) Provider {
	cfg.DurationOptions = slices.Clone(cfg.DurationOptions)
	return &staticProvider{cfg: cfg}
}

func (p *staticProvider) Config(_ context.Context) (SchedulingConfig, error) {
	out := p.cfg
	out.DurationOptions = slices.Clone(p.cfg.DurationOptions)
	return out, nil
}
