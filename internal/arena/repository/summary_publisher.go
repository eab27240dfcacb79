package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"pdarena/internal/arena/model"
	"pdarena/internal/common/mq"
	appErr "pdarena/pkg/errors"
)

// SummaryPublisher publishes run summaries for downstream consumers.
type SummaryPublisher interface {
	PublishSummary(ctx context.Context, summary model.RunSummary) error
}

// MQSummaryPublisher publishes run summaries to a message queue.
type MQSummaryPublisher struct {
	queue mq.MessageQueue
	topic string
}

// NewMQSummaryPublisher creates a new MQ summary publisher.
func NewMQSummaryPublisher(queue mq.MessageQueue, topic string) *MQSummaryPublisher {
	return &MQSummaryPublisher{queue: queue, topic: topic}
}

// PublishSummary publishes a run summary keyed by tournament id.
func (p *MQSummaryPublisher) PublishSummary(ctx context.Context, summary model.RunSummary) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("summary publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("summary topic is required")
	}
	if summary.TournamentID <= 0 {
		return appErr.ValidationError("tournament_id", "required")
	}
	event := model.SummaryEvent{
		Summary:   summary,
		CreatedAt: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal summary event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = strconv.FormatInt(summary.TournamentID, 10)
	message.SetHeader("x-run-id", summary.RunID)
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish summary event failed")
	}
	return nil
}
