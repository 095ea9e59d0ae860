// Package mqtt connects the service to an MQTT broker used as the
// security event bus.
//
// Every authentication and elevation outcome is published as JSON on
// {prefix}/security/event/{type}; operators and SIEM forwarders subscribe
// to {prefix}/security/event/+. The client also maintains a retained
// {prefix}/system/status message with a Last Will so consumers notice
// when an instance disappears.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishEvent("login_failed", payload)
//
// Publishing is best effort: callers on the request path hand events to
// the audit dispatcher, which publishes from its own goroutine.
package mqtt
