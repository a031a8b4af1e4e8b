package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid sendMessage message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"sendMessage","receiverId":"5f1c1d4e-8a4b-4c55-9a33-0b7f3b0b8d11","content":"hi"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.ReceiverID != "5f1c1d4e-8a4b-4c55-9a33-0b7f3b0b8d11" {
		t.Errorf("unexpected receiverId %q", sm.ReceiverID)
	}
	if sm.Content != "hi" {
		t.Errorf("expected content %q, got %q", "hi", sm.Content)
	}
}

func TestParseClientMessage_MarkAsRead(t *testing.T) {
	input := []byte(`{"type":"markAsRead","senderId":"abc"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMarkAsRead {
		t.Fatalf("expected type %q, got %q", TypeMarkAsRead, msgType)
	}
	mr, ok := msg.(MarkAsReadMsg)
	if !ok {
		t.Fatalf("expected MarkAsReadMsg, got %T", msg)
	}
	if mr.SenderID != "abc" {
		t.Errorf("expected senderId %q, got %q", "abc", mr.SenderID)
	}
}

// The sender field is a plain identifier; an object in its place is a decode
// error rather than something handlers have to branch on.
func TestParseClientMessage_PolymorphicIDRejected(t *testing.T) {
	input := []byte(`{"type":"markAsRead","senderId":{"_id":"abc"}}`)

	_, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected decode error for object-shaped senderId")
	}
	if msg != nil {
		t.Errorf("expected nil message, got %v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a receiveMessage server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_ReceiveMessage(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 123000, time.UTC)
	payload := ReceiveMessageMsg{
		Message: Message{
			ID:         "m-1",
			SenderID:   "a",
			ReceiverID: "b",
			Content:    "hi",
			CreatedAt:  created,
		},
	}

	data, err := NewServerMessage(TypeReceiveMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeReceiveMessage {
		t.Errorf("expected type %q, got %v", TypeReceiveMessage, result["type"])
	}

	msg, ok := result["message"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected message object, got %T", result["message"])
	}
	if msg["senderId"] != "a" || msg["receiverId"] != "b" {
		t.Errorf("unexpected ids: %v", msg)
	}
	if msg["isRead"] != false {
		t.Errorf("expected isRead=false, got %v", msg["isRead"])
	}
	if msg["createdAt"] != "2026-03-01T12:00:00.000123Z" {
		t.Errorf("unexpected createdAt %v", msg["createdAt"])
	}
}

func TestNewServerMessage_TypeOverridesPayload(t *testing.T) {
	data, err := NewServerMessage(TypeUserStatusChanged, UserStatusChangedMsg{
		Type:   "bogus",
		UserID: "u1",
		Status: StatusOnline,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded UserStatusChangedMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeUserStatusChanged {
		t.Errorf("expected type %q, got %q", TypeUserStatusChanged, decoded.Type)
	}
	if decoded.UserID != "u1" || decoded.Status != StatusOnline {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestNewServerMessage_NonObjectPayload(t *testing.T) {
	if _, err := NewServerMessage(TypePong, "not an object"); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"receiveMessage","message":{}}`)

	msgType, msg, err := ParseClientMessage(input)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != TypeReceiveMessage {
		t.Errorf("expected type %q to be reported, got %q", TypeReceiveMessage, msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"content":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"sendMessage", `{"type":"sendMessage","receiverId":"x","content":"hi"}`, TypeSendMessage},
		{"markAsRead", `{"type":"markAsRead","senderId":"x"}`, TypeMarkAsRead},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
