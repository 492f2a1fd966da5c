package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		t.Fatalf("writing metric: %v", err)
	}
	if pb.Counter != nil {
		return pb.GetCounter().GetValue()
	}
	return pb.GetGauge().GetValue()
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStep("upload", "put_blob", nil)
	m.ObserveSaga("upload", "ok", time.Second)
	m.ObserveCompensation("upload", "delete_blob", errors.New("x"))
	m.ObservePublish("document.uploaded", nil)
	m.ObserveSearch("hit", "miss", time.Millisecond)
	m.ObserveOCR("pdf", "processed", time.Second)
	m.SetWorkerState("idle", []string{"idle"})
	m.SetCircuitState("bus", 1)
	m.SetIndexedDocuments(3)
	m.ObserveFlush(nil)
}

func TestObserveStepAndWorkerState(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveStep("upload", "put_blob", nil)
	m.ObserveStep("upload", "put_blob", errors.New("boom"))
	m.ObserveStep("upload", "put_blob", errors.New("boom"))

	if got := value(t, m.SagaStepsTotal.WithLabelValues("upload", "put_blob", "error")); got != 2 {
		t.Fatalf("error steps = %v, want 2", got)
	}

	states := []string{"idle", "subscribed", "processing"}
	m.SetWorkerState("subscribed", states)
	if got := value(t, m.WorkerState.WithLabelValues("subscribed")); got != 1 {
		t.Fatalf("subscribed gauge = %v", got)
	}
	if got := value(t, m.WorkerState.WithLabelValues("idle")); got != 0 {
		t.Fatalf("idle gauge = %v", got)
	}
}
