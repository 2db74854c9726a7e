package websocket

import (
	"chat-presence/domain"
	"chat-presence/domain/event"
	"chat-presence/errors"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"Join room", `{"type":"join_room","requestId":"1","payload":{"chatId":"general"}}`, false},
		{"New message", `{"type":"new_message","payload":{"chatId":"general","content":"hi"}}`, false},
		{"Unknown type", `{"type":"self_destruct","payload":{}}`, true},
		{"Not JSON", `hello`, true},
		{"Missing type", `{"payload":{"chatId":"general"}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			if tt.wantErr {
				require.ErrorIs(t, err, errors.ErrInvalidPayload)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	req := require.New(t)
	f, err := Decode([]byte(`{"type":"typing_start","payload":{"chatId":"general"}}`))
	req.NoError(err)

	var p RoomPayload
	req.NoError(DecodePayload(f, &p))
	req.Equal(domain.RoomID("general"), p.ChatID)

	req.ErrorIs(DecodePayload(Frame{Type: TypingStart}, &p), errors.ErrInvalidPayload)
}

func TestEncode_Carries_Request_ID(t *testing.T) {
	req := require.New(t)

	data, err := Encode(Failure{RequestID: "42", Code: CodeNotFound, Message: "chat not found"})
	req.NoError(err)

	var f Frame
	req.NoError(json.Unmarshal(data, &f))
	req.Equal("error", f.Type)
	req.Equal("42", f.RequestID)
	req.JSONEq(`{"code":"NOT_FOUND","message":"chat not found"}`, string(f.Payload))
}

func TestEncode_Domain_Event(t *testing.T) {
	req := require.New(t)

	data, err := Encode(event.UserTyping{UserID: "alice", UserName: "Alice", ChatID: "general"})

	req.NoError(err)
	req.JSONEq(`{"type":"user_typing","payload":{"userId":"alice","userName":"Alice","chatId":"general"}}`, string(data))
}

func TestFailureOf(t *testing.T) {
	req := require.New(t)
	req.Equal(CodeInvalidArgument, failureOf("", fmt.Errorf("%w: empty", errors.ErrInvalidPayload)).Code)
	req.Equal(CodePermissionDenied, failureOf("", errors.ErrNotChatMember).Code)
	req.Equal(CodeNotFound, failureOf("", errors.ErrChatNotFound).Code)
	internal := failureOf("", fmt.Errorf("disk on fire"))
	req.Equal(CodeInternal, internal.Code)
	req.Equal("internal error", internal.Message)
}
