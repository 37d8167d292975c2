package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appintegration "github.com/erp/syncengine/internal/application/integration"
	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/erp/syncengine/internal/infrastructure/resilience"
)

func TestSyncMetrics_Observer(t *testing.T) {
	m := NewSyncMetrics()
	customer := integration.EntityTypeCustomer

	m.QueueStarted("woo", customer, 120)
	m.ItemProcessed("woo", customer, appintegration.OutcomeCreated, 30*time.Millisecond)
	m.ItemProcessed("woo", customer, appintegration.OutcomeCreated, 40*time.Millisecond)
	m.ItemProcessed("woo", customer, appintegration.OutcomeFailed, time.Second)
	m.ItemRetried("woo", customer, true)
	m.ItemRetried("woo", customer, false)
	m.BatchProcessed("woo", customer, 50, time.Second)
	m.QueueFinished("woo", customer, integration.QueueStatusCompleted)
	m.PreviewComputed("woo", integration.EntityTypeProduct, 42, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.queuesStarted.WithLabelValues("woo", "customer")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.itemsProcessed.WithLabelValues("woo", "customer", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.itemsProcessed.WithLabelValues("woo", "customer", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.itemRetries.WithLabelValues("woo", "customer", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queuesFinished.WithLabelValues("woo", "customer", "completed")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.previewRecords.WithLabelValues("woo", "product")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.itemDuration))
}

func TestSyncMetrics_BreakerState(t *testing.T) {
	m := NewSyncMetrics()

	m.BreakerStateChanged("woo", resilience.StateClosed, resilience.StateOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("woo")))

	m.BreakerStateChanged("woo", resilience.StateOpen, resilience.StateHalfOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("woo")))

	m.BreakerStateChanged("woo", resilience.StateHalfOpen, resilience.StateClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.breakerState.WithLabelValues("woo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerTransition.WithLabelValues("woo", "open")))
}

func TestSyncMetrics_RegistryObserverWiring(t *testing.T) {
	m := NewSyncMetrics()
	clock := resilience.NewManualClock(time.Now())
	reg := resilience.NewRegistry(resilience.LimiterBackendMemory, resilience.Policy{
		MaxTokens:  10,
		RefillRate: 10,
		Breaker:    resilience.BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute},
	}, resilience.WithClock(clock), resilience.WithStateObserver(m.BreakerStateChanged))

	err := reg.Breaker("woo").Execute(context.Background(), func(context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("woo")))
}

func TestSyncMetrics_Handler(t *testing.T) {
	m := NewSyncMetrics()
	m.QueueStarted("woo", integration.EntityTypeCustomer, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, MetricQueuesStarted))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
