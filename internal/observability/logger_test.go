package observability

import (
	"testing"

	"go.uber.org/zap"
)

func TestGetLogLevel(t *testing.T) {
	cases := []struct {
		env, level string
		want       string
	}{
		{"development", "", "debug"},
		{"production", "", "info"},
		{"", "warn", "warn"},
		{"dev", "ERROR", "error"},
		{"", "nonsense", "info"},
	}
	for _, c := range cases {
		t.Setenv("ENV", c.env)
		t.Setenv("LOG_LEVEL", c.level)
		if got := getLogLevel().String(); got != c.want {
			t.Errorf("ENV=%q LOG_LEVEL=%q: want %s got %s", c.env, c.level, c.want, got)
		}
	}
}

func TestShouldSampleBounds(t *testing.T) {
	if !ShouldSample(1.0) {
		t.Error("rate 1.0 must always sample")
	}
	if ShouldSample(0) {
		t.Error("rate 0 must never sample")
	}
	before, _ := SamplingStats()
	ShouldSample(0.5)
	after, _ := SamplingStats()
	if after != before+1 {
		t.Errorf("expected sampling total to advance by 1, got %d -> %d", before, after)
	}
}

func TestInitLoggerWithLevel(t *testing.T) {
	logger, err := InitLoggerWithLevel(zap.WarnLevel, "adview-test")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if zap.L() != logger {
		t.Error("logger should be installed globally")
	}
}
