// Package influxdb writes Ariston bridge telemetry to InfluxDB v2.
//
// Two measurements are written:
//
//	ariston_parameter  tags: bridge, parameter, units  field: value (float)
//	ariston_set        tags: bridge, parameter, status field: attempts (int)
//
// Numeric and boolean parameter values are recorded on every cache change;
// set outcomes are recorded as each set request completes. Writes are
// batched and non-blocking, so a slow or absent server never stalls the
// poll loop or the set pipeline.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
package influxdb
