package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/xaenox/line-relay/internal/line"
	"github.com/xaenox/line-relay/internal/metrics"
	"github.com/xaenox/line-relay/internal/models"
	"github.com/xaenox/line-relay/internal/storage"
	"github.com/xaenox/line-relay/internal/webhook"
	"go.uber.org/zap"
)

// DefaultAckText is sent through the reply token of every stored message.
const DefaultAckText = "Message received. Please wait for a reply from our staff."

var (
	ErrAuthentication = errors.New("webhook authentication failed")
	ErrDraftsDisabled = errors.New("reply drafting is disabled")
)

// Drafter proposes a reply for the operator to edit.
type Drafter interface {
	SuggestReply(ctx context.Context, userID string, history []models.StoredMessage) (string, error)
}

type Config struct {
	AckText      string
	ReplyTimeout time.Duration
}

// Service wires verification, parsing, storage and both outbound channels.
type Service struct {
	verifier   *webhook.Verifier
	store      storage.Storage
	replier    line.Replier
	dispatcher *Dispatcher
	drafter    Drafter
	cfg        Config
	logger     *zap.Logger
}

func NewService(
	verifier *webhook.Verifier,
	store storage.Storage,
	replier line.Replier,
	dispatcher *Dispatcher,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.AckText == "" {
		cfg.AckText = DefaultAckText
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 5 * time.Second
	}
	return &Service{
		verifier:   verifier,
		store:      store,
		replier:    replier,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
	}
}

// WithDrafter enables DraftReply.
func (s *Service) WithDrafter(d Drafter) *Service {
	s.drafter = d
	return s
}

// HandleWebhook authenticates and stores one delivery. It returns nil once
// every event has been processed, even if some could not be stored, so the
// platform does not redeliver the batch.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.verifier.Verify(body, signature) {
		metrics.WebhookTotal.WithLabelValues("unauthenticated").Inc()
		s.logger.Warn("Rejected webhook with invalid signature", zap.Int("body_bytes", len(body)))
		return ErrAuthentication
	}

	events, err := webhook.DecodeEvents(body)
	if err != nil {
		metrics.WebhookTotal.WithLabelValues("malformed").Inc()
		s.logger.Error("Failed to parse webhook body", zap.Error(err))
		return err
	}

	for _, ev := range events {
		switch ev := ev.(type) {
		case webhook.TextMessageEvent:
			s.storeEvent(ctx, ev.InboundEvent)
		case webhook.OtherEvent:
			metrics.EventsSkipped.Inc()
			s.logger.Debug("Ignoring webhook event",
				zap.String("type", ev.Type),
				zap.String("message_type", ev.MessageType))
		}
	}

	metrics.WebhookTotal.WithLabelValues("ok").Inc()
	return nil
}

func (s *Service) storeEvent(ctx context.Context, ev models.InboundEvent) {
	msg, err := s.store.Append(ctx, ev.SourceUserID, ev.Text)
	if err != nil {
		// An unsaved message is never acknowledged.
		metrics.StoreFailures.Inc()
		s.logger.Error("Failed to save message",
			zap.Error(err),
			zap.String("user_id", ev.SourceUserID),
			zap.String("webhook_event_id", ev.WebhookEventID))
		return
	}

	metrics.EventsStored.Inc()
	s.logger.Info("Message stored",
		zap.Int64("message_id", msg.ID),
		zap.String("user_id", msg.UserID),
		zap.String("webhook_event_id", ev.WebhookEventID),
		zap.Bool("redelivery", ev.Redelivery))

	if ev.ReplyToken == "" {
		return
	}

	ackCtx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
	defer cancel()
	if err := s.replier.Reply(ackCtx, ev.ReplyToken, s.cfg.AckText); err != nil {
		metrics.AckTotal.WithLabelValues("failed").Inc()
		s.logger.Error("Failed to send acknowledgement",
			zap.Error(err),
			zap.Int64("message_id", msg.ID),
			zap.String("user_id", msg.UserID))
		return
	}
	metrics.AckTotal.WithLabelValues("sent").Inc()
}

// HandleAdminReply validates and dispatches an operator reply. Only a
// validation failure is returned as an error; a failed push is logged by the
// dispatcher and reported as delivered == false.
func (s *Service) HandleAdminReply(ctx context.Context, req models.ReplyRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}

	if err := s.dispatcher.Send(ctx, req); err != nil {
		if errors.Is(err, ErrDispatch) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListAll returns every stored message, newest first, for the admin view.
func (s *Service) ListAll(ctx context.Context) ([]models.StoredMessage, error) {
	messages, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return models.NewestFirst(messages), nil
}

// ListForFeed returns every stored message in insertion order.
func (s *Service) ListForFeed(ctx context.Context) ([]models.StoredMessage, error) {
	return s.store.List(ctx)
}

// DraftReply suggests an answer to userID's conversation so far.
func (s *Service) DraftReply(ctx context.Context, userID string) (string, error) {
	if s.drafter == nil {
		return "", ErrDraftsDisabled
	}
	messages, err := s.store.List(ctx)
	if err != nil {
		return "", err
	}

	history := make([]models.StoredMessage, 0)
	for _, m := range messages {
		if m.UserID == userID {
			history = append(history, m)
		}
	}
	return s.drafter.SuggestReply(ctx, userID, history)
}

// StatusCode maps a relay error to the HTTP status returned to the caller.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthentication), errors.Is(err, models.ErrInvalidReply):
		return http.StatusBadRequest
	case errors.Is(err, ErrDraftsDisabled):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
