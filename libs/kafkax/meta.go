package kafkax

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderRequestID = "request_id"
)

// EventMeta is the metadata every service stamps on the messages it produces.
type EventMeta struct {
	EventID   string
	EventType string
	RequestID string
}

// NewMessage builds a keyed message with the standard headers. An empty
// meta.EventID gets a fresh uuid so consumers can always dedupe.
func NewMessage(topic, key string, meta EventMeta, value []byte) kafka.Message {
	if meta.EventID == "" {
		meta.EventID = uuid.NewString()
	}
	if meta.EventType == "" {
		meta.EventType = topic
	}
	headers := []kafka.Header{
		{Key: HeaderEventID, Value: []byte(meta.EventID)},
		{Key: HeaderEventType, Value: []byte(meta.EventType)},
	}
	if meta.RequestID != "" {
		headers = append(headers, kafka.Header{Key: HeaderRequestID, Value: []byte(meta.RequestID)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
		Time:    time.Now().UTC(),
	}
}

func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:   HeaderValue(msg.Headers, HeaderEventID),
		EventType: HeaderValue(msg.Headers, HeaderEventType),
		RequestID: HeaderValue(msg.Headers, HeaderRequestID),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
