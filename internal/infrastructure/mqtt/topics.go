package mqtt

import "strings"

// DefaultTopicPrefix is the root of every topic when none is configured.
const DefaultTopicPrefix = "tasklane"

// Topic path segments under the prefix.
const (
	segmentSecurity = "security"
	segmentEvent    = "event"
	segmentSystem   = "system"
	segmentStatus   = "status"
)

// Topics builds topic names under a common prefix.
//
// The zero value uses DefaultTopicPrefix, so Topics{}.SystemStatus() is
// "tasklane/system/status".
//
// Layout:
//
//	{prefix}/system/status               retained online/offline status (LWT)
//	{prefix}/security/event/{type}       one message per security event
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, trimming surrounding slashes.
func NewTopics(prefix string) Topics {
	return Topics{Prefix: strings.Trim(prefix, "/")}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// SystemStatus returns the retained status topic used for the LWT.
func (t Topics) SystemStatus() string {
	return t.root() + "/" + segmentSystem + "/" + segmentStatus
}

// SecurityEvent returns the topic for one security event type,
// e.g. "tasklane/security/event/login_failed".
func (t Topics) SecurityEvent(eventType string) string {
	return t.root() + "/" + segmentSecurity + "/" + segmentEvent + "/" + eventType
}

// AllSecurityEvents returns a wildcard matching every security event type.
func (t Topics) AllSecurityEvents() string {
	return t.SecurityEvent("+")
}

// EventType extracts the event type from a security event topic.
// It returns "" when topic is not a security event topic under this prefix.
func (t Topics) EventType(topic string) string {
	base := t.SecurityEvent("")
	if !strings.HasPrefix(topic, base) {
		return ""
	}
	rest := topic[len(base):]
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}
