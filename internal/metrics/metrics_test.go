package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveBeforeInitIsNoop(t *testing.T) {
	if operationsTotal != nil {
		t.Skip("metrics already initialised")
	}
	ObserveOperation("create", ResultSuccess, time.Millisecond)
	ObserveRead("remote")
	ObserveAssetBytes(10)
	IncInvalidation(true)
}

func TestObserveOperation(t *testing.T) {
	Init()
	Init()

	before := counterValue(t, operationsTotal.WithLabelValues("update", ResultNotFound))
	ObserveOperation("update", ResultNotFound, 5*time.Millisecond)
	after := counterValue(t, operationsTotal.WithLabelValues("update", ResultNotFound))
	if after-before != 1 {
		t.Fatalf("expected counter to increase by 1, got %v", after-before)
	}

	before = counterValue(t, blobReadsTotal.WithLabelValues("snapshot"))
	ObserveRead("snapshot")
	ObserveRead("snapshot")
	after = counterValue(t, blobReadsTotal.WithLabelValues("snapshot"))
	if after-before != 2 {
		t.Fatalf("expected 2 reads, got %v", after-before)
	}

	before = counterValue(t, invalidations.WithLabelValues(ResultError))
	IncInvalidation(false)
	if got := counterValue(t, invalidations.WithLabelValues(ResultError)); got-before != 1 {
		t.Fatalf("expected invalidation error count, got %v", got-before)
	}
}
