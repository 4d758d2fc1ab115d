package ariston

import (
	"time"
)

// MetricWriter receives numeric telemetry. Writes must not block.
// *influxdb.Client satisfies it.
type MetricWriter interface {
	WriteParameterMetric(bridgeID, parameter, units string, value float64, at time.Time)
	WriteSetMetric(bridgeID, parameter, status string, attempts int)
}

// AttachTelemetry forwards numeric and on/off parameter changes and set
// outcomes to w. The returned function stops forwarding changes; set
// outcomes keep flowing until the engine is discarded.
func AttachTelemetry(bridgeID string, e *Engine, w MetricWriter) func() {
	e.AddSetObserver(func(rec SetRecord) {
		w.WriteSetMetric(bridgeID, rec.Parameter, string(rec.Status), rec.Attempts)
	})

	return e.Subscribe(func(changes []Change) {
		for _, c := range changes {
			v, ok := metricValue(c.Entry.Value)
			if !ok {
				continue
			}
			w.WriteParameterMetric(bridgeID, c.Key, c.Entry.Units, v, c.Entry.UpdatedAt)
		}
	})
}

// metricValue converts a cache value to a field value. Text and unknown
// values are not recorded.
func metricValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
