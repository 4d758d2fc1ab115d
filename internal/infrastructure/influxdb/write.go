package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementParameter = "ariston_parameter"
	measurementSet       = "ariston_set"
)

// WriteParameterMetric records one parameter value.
//
// The write is non-blocking; data is batched and sent asynchronously.
// A zero timestamp is recorded as now.
//
// Example:
//
//	client.WriteParameterMetric("boiler", "dhw_set_temperature", "°C", 48, time.Now())
func (c *Client) WriteParameterMetric(bridgeID, parameter, units string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	tags := map[string]string{
		"bridge":    bridgeID,
		"parameter": parameter,
	}
	if units != "" {
		tags["units"] = units
	}

	point := write.NewPoint(
		measurementParameter,
		tags,
		map[string]interface{}{
			"value": value,
		},
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WriteSetMetric records the outcome of one parameter write.
//
// Parameters:
//   - bridgeID: Bridge identifier
//   - parameter: Cache key written (e.g., "ch_mode_zone1")
//   - status: Terminal status ("succeeded", "failed", ...)
//   - attempts: Number of remote write attempts made
func (c *Client) WriteSetMetric(bridgeID, parameter, status string, attempts int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementSet,
		map[string]string{
			"bridge":    bridgeID,
			"parameter": parameter,
			"status":    status,
		},
		map[string]interface{}{
			"attempts": attempts,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
