package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/resilience"
	trmock "github.com/MrWong99/hearken/pkg/provider/transcribe/mock"
)

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// providerErrors sums hearken.provider.errors for provider.
func providerErrors(t *testing.T, reader *sdkmetric.ManualReader, provider string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "hearken.provider.errors" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("hearken.provider.errors has type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("provider"); ok && v.AsString() == provider {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTranscriber_UsesPrimary(t *testing.T) {
	t.Parallel()
	m, _ := newMetrics(t)
	primary := &trmock.Transcriber{Default: "turn on the lights"}
	backup := &trmock.Transcriber{Default: "backup"}

	tr := resilience.NewTranscriber("primary", primary, resilience.BreakerConfig{}, resilience.WithMetrics(m))
	tr.AddFallback("backup", backup)

	text, err := tr.Transcribe(context.Background(), make([]int16, 160))
	if err != nil || text != "turn on the lights" {
		t.Fatalf("Transcribe() = %q, %v", text, err)
	}
	if backup.CallCount() != 0 {
		t.Errorf("backup called %d times, want 0", backup.CallCount())
	}
}

func TestTranscriber_FailsOverAndCountsErrors(t *testing.T) {
	t.Parallel()
	m, reader := newMetrics(t)
	primary := &trmock.Transcriber{Err: errors.New("model crashed")}
	backup := &trmock.Transcriber{Default: "stop"}

	tr := resilience.NewTranscriber("primary", primary,
		resilience.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
		resilience.WithMetrics(m))
	tr.AddFallback("backup", backup)

	for range 3 {
		text, err := tr.Transcribe(context.Background(), make([]int16, 160))
		if err != nil || text != "stop" {
			t.Fatalf("Transcribe() = %q, %v; want backup text", text, err)
		}
	}
	// The breaker opens after two failures, so the third call skips the
	// primary.
	if primary.CallCount() != 2 {
		t.Errorf("primary called %d times, want 2", primary.CallCount())
	}
	if got := providerErrors(t, reader, "primary"); got != 2 {
		t.Errorf("provider errors = %d, want 2", got)
	}
	if st := tr.States(); st["primary"] != resilience.StateOpen {
		t.Errorf("primary state = %v, want open", st["primary"])
	}
}

func TestTranscriber_AllFailed(t *testing.T) {
	t.Parallel()
	m, _ := newMetrics(t)
	tr := resilience.NewTranscriber("only", &trmock.Transcriber{Err: errors.New("boom")},
		resilience.BreakerConfig{}, resilience.WithMetrics(m))

	if _, err := tr.Transcribe(context.Background(), nil); !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("Transcribe() = %v, want ErrAllFailed", err)
	}
}

func TestTranscriber_CanceledContextDoesNotTrip(t *testing.T) {
	t.Parallel()
	m, reader := newMetrics(t)
	primary := &trmock.Transcriber{Default: "never"}
	tr := resilience.NewTranscriber("primary", primary,
		resilience.BreakerConfig{MaxFailures: 1}, resilience.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Transcribe(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Transcribe() = %v, want context.Canceled", err)
	}
	if primary.CallCount() != 0 {
		t.Errorf("primary called %d times after cancel", primary.CallCount())
	}
	if st := tr.States(); st["primary"] != resilience.StateClosed {
		t.Errorf("primary state = %v, want closed", st["primary"])
	}
	if got := providerErrors(t, reader, "primary"); got != 0 {
		t.Errorf("provider errors = %d, want 0", got)
	}
}

func TestTranscriber_CloseClosesAll(t *testing.T) {
	t.Parallel()
	m, _ := newMetrics(t)
	primary := &trmock.Transcriber{}
	backup := &trmock.Transcriber{}
	tr := resilience.NewTranscriber("primary", primary, resilience.BreakerConfig{}, resilience.WithMetrics(m))
	tr.AddFallback("backup", backup)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if primary.CloseCallCount != 1 || backup.CloseCallCount != 1 {
		t.Errorf("close counts = %d/%d, want 1/1", primary.CloseCallCount, backup.CloseCallCount)
	}
}
