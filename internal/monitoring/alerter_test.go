package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolima-epi/vereda-cli/internal/config"
)

func newTestAlerter(cfg config.MonitoringConfig) *Alerter {
	a := NewAlerter(cfg, clockwork.NewFakeClockAt(checkNow))
	a.retry.Backoff = time.Millisecond
	return a
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := newTestAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25, ReviewRateThreshold: 0.3})

	alerts := a.Evaluate(&Snapshot{Complete: 10, Records: 100, ManualReview: 10, ReviewRate: 0.1})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := newTestAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25})

	alerts := a.Evaluate(&Snapshot{Complete: 3, Failed: 3, FailRate: 0.5, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "50.0%")
	assert.Equal(t, checkNow, alerts[0].Timestamp)
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := newTestAlerter(config.MonitoringConfig{FailureRateThreshold: 0.1})

	alerts := a.Evaluate(&Snapshot{Complete: 1, Failed: 2, FailRate: 0.66})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ReviewRate(t *testing.T) {
	a := newTestAlerter(config.MonitoringConfig{FailureRateThreshold: 1, ReviewRateThreshold: 0.3})

	alerts := a.Evaluate(&Snapshot{Records: 100, ManualReview: 45, ReviewRate: 0.45, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertReviewRate, alerts[0].Type)
	assert.Equal(t, 45, alerts[0].Details["manual_review"])
}

func TestAlerter_Evaluate_ReviewRateDisabled(t *testing.T) {
	a := newTestAlerter(config.MonitoringConfig{FailureRateThreshold: 1})

	alerts := a.Evaluate(&Snapshot{Records: 100, ManualReview: 90, ReviewRate: 0.9})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := newTestAlerter(config.MonitoringConfig{FailureRateThreshold: 0.1, ReviewRateThreshold: 0.1})

	alerts := a.Evaluate(&Snapshot{
		Complete: 5, Failed: 5, FailRate: 0.5,
		Records: 10, ManualReview: 5, ReviewRate: 0.5,
	})
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, AlertReviewRate, alerts[1].Type)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := newTestAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertReviewRate, Severity: "medium", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := newTestAlerter(config.MonitoringConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := newTestAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})

	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := newTestAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(3), calls.Load(), "server errors are retried")
}

func TestAlerter_SendAlerts_RecoversAfterUnavailable(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a := newTestAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertReviewRate, Message: "test"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_SendAlerts_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	a := newTestAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertReviewRate, Message: "test"}}))
	assert.Equal(t, int32(1), calls.Load())
}
