// Package audit fans security events out to operational sinks.
//
// The Authenticator reports every credential outcome through an
// auth.EventSink. A Dispatcher implements that interface: it writes the
// event to the security log straight away, then queues it for the slower
// sinks (the MQTT event bus, InfluxDB telemetry, Prometheus counters) which
// are drained by a single background goroutine. A full queue drops events
// rather than stall a login.
//
//	d := audit.NewDispatcher(logger.Security().Logger, audit.DefaultQueueSize,
//	    audit.NewMQTTSink(mqttClient),
//	    audit.NewInfluxSink(influxClient, cfg.Service.InstanceID),
//	)
//	go d.Run(ctx)
//	defer d.Close()
package audit
