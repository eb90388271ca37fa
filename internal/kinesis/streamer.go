package kinesis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"estimate-service/internal/storage"

	"github.com/aws/aws-sdk-go-v2/service/kinesis"
)

// Event types
const (
	EventUploaded   = "uploaded"
	EventExported   = "exported"
	EventSubscribed = "subscribed"
)

// PutRecordAPI interface for mocking
type PutRecordAPI interface {
	PutRecord(ctx context.Context, params *kinesis.PutRecordInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordOutput, error)
}

type Streamer struct {
	client     PutRecordAPI
	streamName string
}

type EstimateEvent struct {
	EventType      string    `json:"event_type"` // uploaded, exported, subscribed
	DeviceID       string    `json:"device_id"`
	Timestamp      time.Time `json:"timestamp"`
	JobID          string    `json:"job_id,omitempty"`
	Lane           string    `json:"lane,omitempty"`
	Price          float64   `json:"price,omitempty"`
	AILow          int       `json:"ai_low,omitempty"`
	AIHigh         int       `json:"ai_high,omitempty"`
	SuggestedPrice *int      `json:"suggested_price,omitempty"`
	RedPen         *bool     `json:"red_pen,omitempty"`
	HasMedia       bool      `json:"has_media,omitempty"`
	ExportURL      string    `json:"export_url,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
}

func NewStreamer(client PutRecordAPI, streamName string) *Streamer {
	return &Streamer{
		client:     client,
		streamName: streamName,
	}
}

// JobEvent builds an event describing a job
func JobEvent(eventType string, job *storage.Job) EstimateEvent {
	event := EstimateEvent{
		EventType: eventType,
		DeviceID:  job.DeviceID,
		Timestamp: time.Now().UTC(),
		JobID:     job.ID,
		Lane:      job.Lane,
		Price:     job.Price,
		AILow:     job.AILow,
		AIHigh:    job.AIHigh,
		HasMedia:  job.Media != nil,
	}
	if job.Quote != nil {
		event.SuggestedPrice = &job.Quote.SuggestedPrice
		event.RedPen = &job.Quote.RedPen
	}
	return event
}

// Stream publishes an event, partitioned by device. Failures are logged, not returned.
func (s *Streamer) Stream(ctx context.Context, event EstimateEvent) {
	if s == nil || s.client == nil {
		return // Kinesis not enabled
	}

	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal estimate event", "device_id", event.DeviceID, "error", err)
		return
	}

	_, err = s.client.PutRecord(ctx, &kinesis.PutRecordInput{
		StreamName:   &s.streamName,
		Data:         data,
		PartitionKey: &event.DeviceID,
	})

	if err != nil {
		slog.Error("Failed to stream estimate event", "device_id", event.DeviceID, "event_type", event.EventType, "error", err)
	} else {
		slog.Debug("Streamed estimate event", "device_id", event.DeviceID, "event_type", event.EventType)
	}
}
