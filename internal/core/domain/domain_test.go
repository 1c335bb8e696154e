package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationIDIsSymmetric(t *testing.T) {
	assert.Equal(t, ConversationID("alice", "bob"), ConversationID("bob", "alice"))
	assert.Equal(t, "alice_bob", ConversationID("bob", "alice"))
}

func TestConversationIDsDoNotCollide(t *testing.T) {
	// a_b and c could only share an id with a and b_c if ids carried the
	// separator
	require.ErrorIs(t, ValidateUserID("a_b"), ErrInvalidUserID)
	require.ErrorIs(t, ValidateUserID("b_c"), ErrInvalidUserID)
	require.ErrorIs(t, ValidateUserID("  "), ErrInvalidUserID)
	require.NoError(t, ValidateUserID("user-42.b"))

	_, _, err := Participants("a_b_c")
	assert.ErrorIs(t, err, ErrInvalidConversationID)
	_, err = Peer("a_b_c", "a")
	assert.ErrorIs(t, err, ErrInvalidConversationID)

	a, b, err := Participants(ConversationID("zed", "amy"))
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "zed"}, []string{a, b})
}

func TestPeer(t *testing.T) {
	tests := []struct {
		name   string
		convID string
		viewer string
		want   string
		err    error
	}{
		{name: "first participant", convID: "alice_bob", viewer: "alice", want: "bob"},
		{name: "second participant", convID: "alice_bob", viewer: "bob", want: "alice"},
		{name: "outsider", convID: "alice_bob", viewer: "carol", err: ErrNotParticipant},
		{name: "empty viewer", convID: "alice_bob", viewer: "", err: ErrNotParticipant},
		{name: "malformed", convID: "alicebob", viewer: "alice", err: ErrInvalidConversationID},
		{name: "extra separator", convID: "a_b_c", viewer: "a", err: ErrInvalidConversationID},
		{name: "unsorted", convID: "bob_alice", viewer: "alice", err: ErrInvalidConversationID},
		{name: "same user twice", convID: "bob_bob", viewer: "bob", err: ErrInvalidConversationID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Peer(tt.convID, tt.viewer)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateText(t *testing.T) {
	got, err := ValidateText("  hi  ", 0)
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	_, err = ValidateText(" \t\n", 0)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = ValidateText(strings.Repeat("é", MaxMessageLength), 0)
	assert.NoError(t, err)

	_, err = ValidateText(strings.Repeat("x", 11), 10)
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestDecodeInbound(t *testing.T) {
	f, err := DecodeInbound([]byte(`{"type":"message","toUserId":"bob","text":"hi","tempId":"temp-1"}`))
	require.NoError(t, err)
	assert.Equal(t, InboundFrame{Type: TypeMessage, ToUserID: "bob", Text: "hi", TempID: "temp-1"}, f)

	f, err = DecodeInbound([]byte(`{"type":"typing","toUserId":"bob","data":{"isTyping":true}}`))
	require.NoError(t, err)
	require.NotNil(t, f.Data)
	assert.True(t, f.Data.IsTyping)

	_, err = DecodeInbound([]byte(`{"type":"ping"}`))
	assert.NoError(t, err)

	_, err = DecodeInbound([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidFrame)
	_, err = DecodeInbound([]byte(`{"type":"seen"}`))
	assert.ErrorIs(t, err, ErrInvalidFrame)
	_, err = DecodeInbound([]byte(`{"type":"typing","toUserId":"bob"}`))
	assert.ErrorIs(t, err, ErrInvalidFrame)
	_, err = DecodeInbound([]byte(`{"type":"shout"}`))
	assert.ErrorIs(t, err, ErrUnknownFrameType)
}
