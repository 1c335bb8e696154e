package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/contracts"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/metrics"
	"github.com/codevn-dev/codevn-app-sub001/pkg/logging"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// introducer refreshes presence for users who just became partners.
type introducer interface {
	Introduce(ctx context.Context, a, b string)
}

// RouterService dispatches inbound frames of one connection. Callers must
// invoke HandleIncoming sequentially per connection.
type RouterService struct {
	log      *slog.Logger
	messages domain.MessageRepository
	fanout   contracts.Fanout
	seen     *SeenService
	presence introducer
	maxLen   int
	now      func() time.Time
	newID    func() string
}

func NewRouterService(
	log *slog.Logger,
	messages domain.MessageRepository,
	fanout contracts.Fanout,
	seen *SeenService,
	presence introducer,
	maxLen int,
) *RouterService {
	if maxLen <= 0 {
		maxLen = domain.MaxMessageLength
	}
	return &RouterService{
		log:      log,
		messages: messages,
		fanout:   fanout,
		seen:     seen,
		presence: presence,
		maxLen:   maxLen,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// HandleIncoming processes one raw frame from c. Rejections are reported to
// c alone with an error frame; the returned error is for logging only and
// never means the connection should be dropped.
func (r *RouterService) HandleIncoming(ctx context.Context, c contracts.Client, raw []byte) error {
	ctx, span := tracer.Start(ctx, "RouterService.HandleIncoming", trace.WithAttributes(
		attribute.String("user_id", c.UserID()),
		attribute.String("conn_id", c.ID()),
		attribute.Int("payload_size", len(raw)),
	))
	defer span.End()
	frame, err := domain.DecodeInbound(raw)
	metrics.RecordFrame(frameLabel(frame.Type, err))
	if err != nil {
		span.RecordError(err)
		r.log.WarnContext(ctx, "router - handle incoming - invalid frame", logging.User(c.UserID()), logging.Conn(c.ID()), logging.Err(err))
		r.reject(ctx, c, err, frame.TempID)
		return err
	}
	span.SetAttributes(attribute.String("frame_type", frame.Type))
	switch frame.Type {
	case domain.TypeMessage:
		err = r.handleMessage(ctx, c, frame)
	case domain.TypeTyping:
		err = r.handleTyping(ctx, c, frame)
	case domain.TypeSeen:
		if _, err = r.seen.MarkSeen(ctx, c.UserID(), frame.ChatID); err != nil {
			r.reject(ctx, c, err, "")
		}
	case domain.TypePing:
		err = send(ctx, c, domain.PongFrame())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "frame failed")
	}
	return err
}

func (r *RouterService) handleMessage(ctx context.Context, c contracts.Client, in domain.InboundFrame) error {
	from := c.UserID()
	if err := domain.ValidateUserID(in.ToUserID); err != nil {
		metrics.RecordMessage("rejected")
		r.reject(ctx, c, err, in.TempID)
		return err
	}
	if in.ToUserID == from {
		metrics.RecordMessage("rejected")
		r.reject(ctx, c, domain.ErrSelfMessage, in.TempID)
		return domain.ErrSelfMessage
	}
	text, err := domain.ValidateText(in.Text, r.maxLen)
	if err != nil {
		metrics.RecordMessage("rejected")
		r.log.InfoContext(ctx, "router - handle message - validation failed", logging.User(from), logging.Peer(in.ToUserID), logging.Err(err))
		r.reject(ctx, c, err, in.TempID)
		return err
	}
	msg := &domain.Message{
		ID:             r.newID(),
		ConversationID: domain.ConversationID(from, in.ToUserID),
		FromUserID:     from,
		ToUserID:       in.ToUserID,
		Text:           text,
		// wire timestamps are epoch ms; keep the stored value on the same grid
		CreatedAt: r.now().UTC().Truncate(time.Millisecond),
	}
	start := time.Now()
	pctx, pspan := tracer.Start(ctx, "DB.SaveMessage", trace.WithAttributes(
		attribute.String("conv_id", msg.ConversationID),
		attribute.String("message_id", msg.ID),
	))
	created, err := r.messages.Save(pctx, msg)
	if err != nil {
		pspan.RecordError(err)
		pspan.SetStatus(codes.Error, "persist failed")
	}
	pspan.End()
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordMessage("persist_failed")
		r.log.ErrorContext(ctx, "router - handle message - persist failed", logging.User(from), logging.Conversation(msg.ConversationID), logging.Err(err))
		_ = send(ctx, c, domain.ErrorFrame(domain.CodePersistFailed, "message could not be saved", in.TempID))
		return fmt.Errorf("persist message: %w", err)
	}
	metrics.RecordMessage("delivered")
	wire := domain.ToWire(*msg)
	if err := r.fanout.ToUser(ctx, msg.ToUserID, domain.NewMessageFrame(wire), ""); err != nil {
		r.log.ErrorContext(ctx, "router - handle message - fan out to recipient failed", logging.User(from), logging.Conversation(msg.ConversationID), logging.Err(err))
	}
	echo := wire
	echo.TempID = in.TempID
	if err := r.fanout.ToUser(ctx, from, domain.MessageSentFrame(echo), ""); err != nil {
		r.log.ErrorContext(ctx, "router - handle message - echo to sender failed", logging.User(from), logging.Conversation(msg.ConversationID), logging.Err(err))
	}
	if created && r.presence != nil {
		r.presence.Introduce(ctx, from, msg.ToUserID)
	}
	r.log.InfoContext(ctx, "router - handle message - success", logging.User(from), logging.Conversation(msg.ConversationID), logging.Message(msg.ID))
	return nil
}

func (r *RouterService) handleTyping(ctx context.Context, c contracts.Client, in domain.InboundFrame) error {
	if in.ToUserID == c.UserID() {
		return nil
	}
	return r.fanout.ToUser(ctx, in.ToUserID, domain.TypingFrame(c.UserID(), in.Data.IsTyping), "")
}

func (r *RouterService) reject(ctx context.Context, c contracts.Client, err error, tempID string) {
	if serr := send(ctx, c, domain.ErrorFrame(domain.ErrorCode(err), err.Error(), tempID)); serr != nil {
		r.log.DebugContext(ctx, "router - reject - error frame not sent", logging.User(c.UserID()), logging.Conn(c.ID()), logging.Err(serr))
	}
}

func frameLabel(t string, err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownFrameType):
		return "unknown"
	case err != nil && t == "":
		return "invalid"
	}
	return t
}
