package audit

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tasklane-core/internal/auth"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/influxdb"
)

// EventPublisher is the part of *mqtt.Client used by MQTTSink.
type EventPublisher interface {
	PublishEvent(eventType string, payload []byte) error
}

// MQTTSink publishes each event as JSON on the event bus.
type MQTTSink struct {
	pub EventPublisher
}

// NewMQTTSink returns nil when pub is nil so callers can pass an optional client.
func NewMQTTSink(pub EventPublisher) Sink {
	if pub == nil {
		return nil
	}
	return &MQTTSink{pub: pub}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Write(ev auth.SecurityEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding security event: %w", err)
	}
	return s.pub.PublishEvent(string(ev.Type), payload)
}

// AuthEventWriter is the part of *influxdb.Client used by InfluxSink.
type AuthEventWriter interface {
	WriteAuthEvent(ev influxdb.AuthEvent)
}

// InfluxSink records each event as an auth_events point.
type InfluxSink struct {
	w        AuthEventWriter
	instance string
}

// NewInfluxSink returns nil when w is nil.
func NewInfluxSink(w AuthEventWriter, instance string) Sink {
	if w == nil {
		return nil
	}
	return &InfluxSink{w: w, instance: instance}
}

func (s *InfluxSink) Name() string { return "influxdb" }

func (s *InfluxSink) Write(ev auth.SecurityEvent) error {
	outcome := influxdb.OutcomeSuccess
	if IsFailure(ev.Type) {
		outcome = influxdb.OutcomeFailure
	}
	s.w.WriteAuthEvent(influxdb.AuthEvent{
		Type:        string(ev.Type),
		Outcome:     outcome,
		Instance:    s.instance,
		UserID:      ev.UserID,
		TokenPairID: ev.TokenPairID,
		Time:        ev.Time,
	})
	return nil
}

// MetricsSink counts events by type in Prometheus.
type MetricsSink struct {
	events *prometheus.CounterVec
}

// NewMetricsSink registers tasklane_security_events_total with reg.
// Registering twice against the same registry reuses the existing collector.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tasklane",
		Name:      "security_events_total",
		Help:      "Security events by type.",
	}, []string{"type"})

	if err := reg.Register(events); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, fmt.Errorf("registering security event counter: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("registering security event counter: %w", err)
		}
		events = existing
	}

	return &MetricsSink{events: events}, nil
}

func (s *MetricsSink) Name() string { return "prometheus" }

func (s *MetricsSink) Write(ev auth.SecurityEvent) error {
	s.events.WithLabelValues(string(ev.Type)).Inc()
	return nil
}
