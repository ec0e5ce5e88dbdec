package failurenotifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/target/aggregation-worker/internal/domain/model"
	"github.com/target/aggregation-worker/internal/observability/notify"
)

func TestServiceNotifyJobFailure(t *testing.T) {
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []notify.JobFailurePayload
	)
	capture := notify.SinkFunc(func(_ context.Context, payload notify.JobFailurePayload) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, payload)
		return nil
	})
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "capture", Sink: capture},
			{Name: "nil"},
		},
	})

	svc.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobKey:     "job-1",
		ReturnCode: string(model.ReturnCodeRetriesExhausted),
	})

	if len(received) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(received))
	}
	if received[0].Severity != notify.SeverityCritical {
		t.Fatalf("expected severity to default to critical, got %s", received[0].Severity)
	}
}

func TestServiceInvalidJobIsWarning(t *testing.T) {
	var got notify.JobFailurePayload
	svc := NewService(Options{
		Sinks: []SinkRegistration{{
			Name: "capture",
			Sink: notify.SinkFunc(func(_ context.Context, payload notify.JobFailurePayload) error {
				got = payload
				return nil
			}),
		}},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{
		JobKey:     "job-1",
		ReturnCode: string(model.ReturnCodeInvalidJob),
	})

	if got.Severity != notify.SeverityWarning {
		t.Fatalf("expected warning severity, got %s", got.Severity)
	}
}

func TestServiceDisabled(t *testing.T) {
	svc := NewService(Options{})
	if svc.Enabled() {
		t.Fatal("expected Enabled() to be false when no sinks registered")
	}
}

func TestServiceLogsErrors(t *testing.T) {
	// Ensure we don't panic when sink returns an error.
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "fail",
				Sink: notify.SinkFunc(func(context.Context, notify.JobFailurePayload) error {
					return errors.New("boom")
				}),
			},
		},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobKey: "job-1"})
}
