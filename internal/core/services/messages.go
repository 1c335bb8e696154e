package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HistoryService serves message history and conversation lists over REST.
type HistoryService struct {
	log          *slog.Logger
	messages     domain.MessageRepository
	users        *UserService
	defaultLimit int
	maxLimit     int
}

func NewHistoryService(
	log *slog.Logger,
	messages domain.MessageRepository,
	users *UserService,
	defaultLimit, maxLimit int,
) *HistoryService {
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &HistoryService{
		log:          log,
		messages:     messages,
		users:        users,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// LoadMessages returns one page of the viewer's conversation with peerID,
// oldest first. before is an epoch-ms cursor; zero loads the newest page.
func (h *HistoryService) LoadMessages(
	ctx context.Context,
	viewer, peerID string,
	limit int,
	before int64,
) (domain.MessagePage, error) {
	ctx, span := tracer.Start(ctx, "HistoryService.LoadMessages", trace.WithAttributes(
		attribute.String("user_id", viewer),
		attribute.String("peer_id", peerID),
		attribute.Int("limit", limit),
	))
	defer span.End()
	if domain.ValidateUserID(peerID) != nil || domain.ValidateUserID(viewer) != nil {
		return domain.MessagePage{}, domain.ErrInvalidUserID
	}
	if peerID == viewer {
		return domain.MessagePage{}, domain.ErrSelfMessage
	}
	switch {
	case limit <= 0:
		limit = h.defaultLimit
	case limit > h.maxLimit:
		limit = h.maxLimit
	}
	var cursor time.Time
	if before > 0 {
		cursor = domain.FromEpochMillis(before)
	}
	convID := domain.ConversationID(viewer, peerID)
	page, err := h.messages.ListPage(ctx, convID, viewer, cursor, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "db read failed")
		h.log.ErrorContext(ctx, "history - load messages - list page failed", "user_id", viewer, "conv_id", convID, "err", err)
		return domain.MessagePage{}, err
	}
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	span.SetAttributes(attribute.Int("message_count", len(page.Messages)))
	h.log.DebugContext(ctx, "history - load messages - success", "user_id", viewer, "conv_id", convID, "len_messages", len(page.Messages), "has_more", page.HasMore)
	return page, nil
}

// Conversations lists the viewer's conversations, newest first, with peer
// profiles resolved. Unknown peers get a placeholder profile.
func (h *HistoryService) Conversations(ctx context.Context, viewer string) ([]domain.ConversationSummary, error) {
	ctx, span := tracer.Start(ctx, "HistoryService.Conversations", trace.WithAttributes(
		attribute.String("user_id", viewer),
	))
	defer span.End()
	if viewer == "" {
		return nil, domain.ErrInvalidUserID
	}
	convs, err := h.messages.ListConversations(ctx, viewer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "db read failed")
		h.log.ErrorContext(ctx, "history - conversations - list failed", "user_id", viewer, "err", err)
		return nil, err
	}
	for i := range convs {
		convs[i].Peer = h.users.Profile(ctx, convs[i].Peer.ID)
	}
	if convs == nil {
		convs = []domain.ConversationSummary{}
	}
	return convs, nil
}
