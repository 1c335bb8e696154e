package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/contracts"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/metrics"
	"github.com/codevn-dev/codevn-app-sub001/pkg/logging"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SeenService tracks read receipts.
type SeenService struct {
	log      *slog.Logger
	messages domain.MessageRepository
	fanout   contracts.Fanout
	now      func() time.Time
}

func NewSeenService(log *slog.Logger, messages domain.MessageRepository, fanout contracts.Fanout) *SeenService {
	return &SeenService{
		log:      log,
		messages: messages,
		fanout:   fanout,
		now:      time.Now,
	}
}

// MarkSeen flips every unseen message of convID addressed to viewer. When
// anything changed, the peer and the viewer's other tabs get messages_seen.
func (s *SeenService) MarkSeen(ctx context.Context, viewer, convID string) (int, error) {
	ctx, span := tracer.Start(ctx, "SeenService.MarkSeen", trace.WithAttributes(
		attribute.String("user_id", viewer),
		attribute.String("conv_id", convID),
	))
	defer span.End()
	peer, err := domain.Peer(convID, viewer)
	if err != nil {
		span.RecordError(err)
		s.log.WarnContext(ctx, "seen - mark seen - rejected", logging.User(viewer), logging.Conversation(convID), logging.Err(err))
		return 0, err
	}
	n, err := s.messages.MarkSeen(ctx, convID, viewer, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark seen failed")
		s.log.ErrorContext(ctx, "seen - mark seen - store update failed", logging.User(viewer), logging.Conversation(convID), logging.Err(err))
		return 0, err
	}
	span.SetAttributes(attribute.Int("marked", n))
	if n == 0 {
		return 0, nil
	}
	metrics.SeenMarked.Add(float64(n))
	frame := domain.MessagesSeenFrame(convID, viewer)
	if err := s.fanout.ToUser(ctx, peer, frame, ""); err != nil {
		s.log.ErrorContext(ctx, "seen - mark seen - notify peer failed", logging.User(viewer), logging.Conversation(convID), logging.Err(err))
	}
	if err := s.fanout.ToUser(ctx, viewer, frame, ""); err != nil {
		s.log.ErrorContext(ctx, "seen - mark seen - notify viewer failed", logging.User(viewer), logging.Conversation(convID), logging.Err(err))
	}
	s.log.DebugContext(ctx, "seen - mark seen - success", logging.User(viewer), logging.Conversation(convID), "marked", n)
	return n, nil
}
