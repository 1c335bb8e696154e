package domain

import "errors"

var (
	ErrEmptyMessage          = errors.New("message text is empty")
	ErrMessageTooLong        = errors.New("message text exceeds maximum length")
	ErrSelfMessage           = errors.New("cannot message yourself")
	ErrInvalidFrame          = errors.New("invalid frame")
	ErrUnknownFrameType      = errors.New("unknown frame type")
	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrNotParticipant        = errors.New("user is not a participant of the conversation")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrUserNotFound          = errors.New("user not found")
	ErrClientClosed          = errors.New("client closed")
	ErrSlowConsumer          = errors.New("client send buffer full")
	ErrUnauthorized          = errors.New("unauthorized")
)

// Error codes carried by error frames.
const (
	CodeInvalidFrame     = "invalid_frame"
	CodeValidationFailed = "validation_failed"
	CodePersistFailed    = "persist_failed"
	CodeForbidden        = "forbidden"
	CodeInternal         = "internal"
)

// ErrorCode maps an error to the code sent to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidFrame), errors.Is(err, ErrUnknownFrameType):
		return CodeInvalidFrame
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrSelfMessage), errors.Is(err, ErrInvalidUserID),
		errors.Is(err, ErrInvalidConversationID):
		return CodeValidationFailed
	case errors.Is(err, ErrNotParticipant):
		return CodeForbidden
	default:
		return CodeInternal
	}
}
