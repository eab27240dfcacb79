package service

import (
	"context"
	"encoding/json"
	"errors"

	"pdarena/internal/arena/model"
	"pdarena/internal/common/mq"
	appErr "pdarena/pkg/errors"
	"pdarena/pkg/utils/contextkey"
	"pdarena/pkg/utils/logger"

	"go.uber.org/zap"
)

// TournamentResolver is the slice of the engine the consumer drives.
type TournamentResolver interface {
	ResolveTournament(ctx context.Context, tournamentID int64) (model.RunSummary, error)
}

// ResolveConsumer turns resolve requests from the queue into engine runs.
type ResolveConsumer struct {
	mqClient mq.MessageQueue
	resolver TournamentResolver
}

// NewResolveConsumer creates a resolve consumer.
func NewResolveConsumer(mqClient mq.MessageQueue, resolver TournamentResolver) *ResolveConsumer {
	return &ResolveConsumer{mqClient: mqClient, resolver: resolver}
}

// Subscribe registers the handler and starts consuming.
func (c *ResolveConsumer) Subscribe(ctx context.Context, topic, consumerGroup string, opts *mq.SubscribeOptions) error {
	if c == nil || c.mqClient == nil {
		return errors.New("message queue is nil")
	}
	if topic == "" {
		return errors.New("resolve topic is required")
	}
	options := opts
	if options == nil {
		options = &mq.SubscribeOptions{}
	}
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = consumerGroup
	}
	if err := c.mqClient.SubscribeWithOptions(ctx, topic, c.HandleMessage, options); err != nil {
		return err
	}
	return c.mqClient.Start()
}

// HandleMessage resolves the requested tournament. Only errors worth a redelivery are returned.
func (c *ResolveConsumer) HandleMessage(ctx context.Context, message *mq.Message) error {
	if message == nil {
		return nil
	}
	if message.ID != "" {
		ctx = context.WithValue(ctx, contextkey.RequestID, message.ID)
	}
	var req model.ResolveMessage
	if err := json.Unmarshal(message.Body, &req); err != nil {
		logger.Warn(ctx, "parse resolve message failed", zap.Error(err))
		return nil
	}
	if req.TournamentID <= 0 {
		logger.Warn(ctx, "resolve message missing tournament_id")
		return nil
	}

	summary, err := c.resolver.ResolveTournament(ctx, req.TournamentID)
	if err != nil {
		switch appErr.GetCode(err) {
		case appErr.ResolutionInProgress, appErr.TournamentNotFound, appErr.ValidationFailed:
			logger.Warn(ctx, "resolve request dropped", zap.Int64("tournament_id", req.TournamentID), zap.Error(err))
			return nil
		default:
			logger.Error(ctx, "resolve tournament failed", zap.Int64("tournament_id", req.TournamentID), zap.Error(err))
			return err
		}
	}
	logger.Info(ctx, "resolve request handled",
		zap.Int64("tournament_id", req.TournamentID),
		zap.String("run_id", summary.RunID),
		zap.Int("pairings", summary.Pairings),
	)
	return nil
}
