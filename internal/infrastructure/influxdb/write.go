package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementAuthEvents = "auth_events"
)

// Outcome tag values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuthEvent is one authentication or elevation outcome as a point.
//
// Type and Outcome are tags (low cardinality). UserID and TokenPairID are
// fields so that per-user series do not explode the index.
type AuthEvent struct {
	Type        string
	Outcome     string
	Instance    string
	UserID      int64
	TokenPairID int64
	Time        time.Time
}

// WriteAuthEvent queues a point in the auth_events measurement.
// The write is non-blocking; batch errors surface through SetOnError.
func (c *Client) WriteAuthEvent(ev AuthEvent) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(authEventPoint(ev))
}

// authEventPoint builds the point written by WriteAuthEvent.
func authEventPoint(ev AuthEvent) *write.Point {
	tags := map[string]string{
		"type":    ev.Type,
		"outcome": ev.Outcome,
	}
	if ev.Instance != "" {
		tags["instance"] = ev.Instance
	}

	fields := map[string]interface{}{
		"count": int64(1),
	}
	if ev.UserID != 0 {
		fields["user_id"] = ev.UserID
	}
	if ev.TokenPairID != 0 {
		fields["token_pair_id"] = ev.TokenPairID
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(measurementAuthEvents, tags, fields, ts)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("token_sweep",
//	    map[string]string{"instance": "tasklane-1"},
//	    map[string]interface{}{"expired_pairs": 12})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
