// Package influxdb records authentication telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each security
// event (login success or failure, token rejection, elevation) becomes a
// point in the auth_events measurement tagged with its type and outcome,
// so brute-force waves and elevation activity show up on dashboards.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent(influxdb.AuthEvent{
//	    Type:    "login_failed",
//	    Outcome: influxdb.OutcomeFailure,
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval; batch errors are reported via SetOnError.
package influxdb
