package clique

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "zero config", config: Config{}},
		{name: "valid delays", config: Config{RetryBaseDelay: time.Second, RetryMaxDelay: time.Minute}},
		{name: "only base delay", config: Config{RetryBaseDelay: 2 * time.Minute}},
		{name: "negative base delay", config: Config{RetryBaseDelay: -time.Second}, wantErr: true},
		{name: "negative max delay", config: Config{RetryMaxDelay: -time.Second}, wantErr: true},
		{name: "max below base", config: Config{RetryBaseDelay: time.Minute, RetryMaxDelay: time.Second}, wantErr: true},
		{name: "negative status interval", config: Config{StatusInterval: -1}, wantErr: true},
		{name: "negative dial timeout", config: Config{DialTimeout: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.RetryBaseDelay != DefaultRetryBaseDelay {
		t.Errorf("RetryBaseDelay = %v, want %v", cfg.RetryBaseDelay, DefaultRetryBaseDelay)
	}
	if cfg.RetryMaxDelay != DefaultRetryMaxDelay {
		t.Errorf("RetryMaxDelay = %v, want %v", cfg.RetryMaxDelay, DefaultRetryMaxDelay)
	}
	if cfg.StatusInterval != 20*time.Second {
		t.Errorf("StatusInterval = %v, want 20s", cfg.StatusInterval)
	}
	if cfg.DialTimeout != 60*time.Second {
		t.Errorf("DialTimeout = %v, want 60s", cfg.DialTimeout)
	}
	if _, ok := cfg.Logger.(NopLogger); !ok {
		t.Errorf("Logger = %T, want NopLogger", cfg.Logger)
	}
	if _, ok := cfg.Metrics.(NopMetrics); !ok {
		t.Errorf("Metrics = %T, want NopMetrics", cfg.Metrics)
	}
	if cfg.Tracer == nil {
		t.Error("Tracer should default to a no-op tracer")
	}
	if cfg.Clock == nil {
		t.Error("Clock should default to the wall clock")
	}
}

func TestConfig_Options(t *testing.T) {
	mock := clock.NewMock()
	logger := &TestLogger{}
	cfg := NewConfig(
		WithRetryBaseDelay(10*time.Millisecond),
		WithRetryMaxDelay(time.Second),
		WithStatusInterval(time.Minute),
		WithDialTimeout(5*time.Second),
		WithLogger(logger),
		WithClock(mock),
	)

	if cfg.RetryBaseDelay != 10*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v", cfg.RetryBaseDelay)
	}
	if cfg.RetryMaxDelay != time.Second {
		t.Errorf("RetryMaxDelay = %v", cfg.RetryMaxDelay)
	}
	if cfg.StatusInterval != time.Minute {
		t.Errorf("StatusInterval = %v", cfg.StatusInterval)
	}
	if cfg.DialTimeout != 5*time.Second {
		t.Errorf("DialTimeout = %v", cfg.DialTimeout)
	}
	if cfg.Logger != logger {
		t.Error("WithLogger was not applied")
	}
	if cfg.Clock != mock {
		t.Error("WithClock was not applied")
	}
}

func TestConfig_MaxDelayRaisedToBase(t *testing.T) {
	cfg := NewConfig(WithRetryBaseDelay(2 * time.Minute))
	if cfg.RetryMaxDelay != 2*time.Minute {
		t.Errorf("RetryMaxDelay = %v, want it raised to the base delay", cfg.RetryMaxDelay)
	}
}
