package utils

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

func NewUUID() uuid.UUID {
	return uuid.New()
}

// UnixMillis converts t to epoch milliseconds
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// NowMillis returns the current epoch time in milliseconds
func NowMillis() int64 {
	return UnixMillis(time.Now())
}

// FormatTopic substitutes {gateway} and {sensor} placeholders in an MQTT topic pattern
func FormatTopic(pattern, gateway, sensor string) string {
	return strings.NewReplacer("{gateway}", gateway, "{sensor}", sensor).Replace(pattern)
}

// TopicSegment returns the n-th "/" separated segment of topic, or "" if absent
func TopicSegment(topic string, n int) string {
	parts := strings.Split(topic, "/")
	if n < 0 || n >= len(parts) {
		return ""
	}
	return parts[n]
}
