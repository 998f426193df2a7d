package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricAPI forwards everything to an inner API and additionally records
// ReportCount values on an otel gauge, keyed by the id attribute.
type MetricAPI struct {
	API
	gauge metric.Int64Gauge

	mutex sync.Mutex
	last  map[string]int64
}

func NewMetricAPI(inner API) *MetricAPI {
	gauge, err := otel.Meter("enrollassist/telemetry").Int64Gauge("report_count")
	if err != nil {
		inner.ReportBroken("metric_api.new", err)
	}
	return &MetricAPI{
		API:   inner,
		gauge: gauge,
		last:  make(map[string]int64),
	}
}

func (m *MetricAPI) ReportCount(id string, count int64) {
	m.API.ReportCount(id, count)

	m.mutex.Lock()
	m.last[id] = count
	m.mutex.Unlock()

	if m.gauge != nil {
		m.gauge.Record(context.Background(), count, metric.WithAttributes(
			attribute.String("id", id),
		))
	}
}

// Last returns the last count reported for id.
func (m *MetricAPI) Last(id string) (int64, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	n, ok := m.last[id]
	return n, ok
}
