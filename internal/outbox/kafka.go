package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"keyregistry/internal/keyregistry/events"
)

// Record headers carried next to the JSON payload.
const (
	HeaderEventType = "event_type"
	HeaderSeq       = "seq"
)

// governanceKey keys events that carry no identity.
const governanceKey = "registry"

// KafkaPublisher produces events to a topic as JSON, keyed by identity.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(client *kgo.Client, topic string) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic}
}

// Publish produces the batch synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, evs []events.Event) error {
	records := make([]*kgo.Record, 0, len(evs))
	for _, e := range evs {
		rec, err := EncodeRecord(p.topic, e)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	return p.client.ProduceSync(ctx, records...).FirstErr()
}

// EncodeRecord builds the Kafka record for an event.
func EncodeRecord(topic string, e events.Event) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %d: %w", e.Seq, err)
	}
	key := governanceKey
	if !e.Identity.IsNil() {
		key = e.Identity.String()
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: HeaderEventType, Value: []byte(e.Type)},
			{Key: HeaderSeq, Value: []byte(strconv.FormatUint(e.Seq, 10))},
		},
	}, nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(rec *kgo.Record) (events.Event, error) {
	var e events.Event
	if err := json.Unmarshal(rec.Value, &e); err != nil {
		return events.Event{}, fmt.Errorf("decode record at offset %d: %w", rec.Offset, err)
	}
	return e, nil
}
