// Package protocol defines the JSON messages exchanged with clients over the
// session websocket. Every message carries a "type" discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lukasbauer/coach/internal/catalog"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Inbound.
const (
	TypeAudioData         MessageType = "audio_data"
	TypeResetConversation MessageType = "reset_conversation"
	TypeChangeConfig      MessageType = "change_config"
	TypeEndCall           MessageType = "end_call"
)

// Outbound.
const (
	TypeConfig            MessageType = "config"
	TypeConnected         MessageType = "connected"
	TypeProcessing        MessageType = "processing"
	TypeTranscript        MessageType = "transcript"
	TypeLLMThinking       MessageType = "llm_thinking"
	TypeLLMResponseStart  MessageType = "llm_response_start"
	TypeLLMResponseToken  MessageType = "llm_response_token"
	TypeLLMResponseEnd    MessageType = "llm_response_end"
	TypeTTSAudioChunk     MessageType = "tts_audio_chunk"
	TypeConversationReset MessageType = "conversation_reset"
	TypeConfigChanged     MessageType = "config_changed"
	TypeConversationEnded MessageType = "conversation_ended"
	TypeError             MessageType = "error"
)

// Error codes sent in Error.Code.
const (
	CodeAuthRequired   = "AUTH_REQUIRED"
	CodeAuthError      = "AUTH_ERROR"
	CodeBadMessage     = "BAD_MESSAGE"
	CodeNoAudio        = "NO_AUDIO"
	CodeTranscription  = "TRANSCRIPTION_FAILED"
	CodeLLM            = "LLM_ERROR"
	CodeTTS            = "TTS_ERROR"
	CodeServerDraining = "SERVER_DRAINING"
	CodeSessionInUse   = "SESSION_IN_USE"
	CodeInternal       = "INTERNAL_ERROR"
)

var ErrUnsupportedType = errors.New("unsupported message type")

// Sender delivers one outbound message to a client.
type Sender interface {
	Send(v any) error
}

type Envelope struct {
	Type MessageType `json:"type"`
}

type AudioData struct {
	Type  MessageType `json:"type"`
	Audio string      `json:"audio"`
}

type ResetConversation struct {
	Type MessageType `json:"type"`
}

// ChangeConfig fields are optional; empty means keep the current value.
type ChangeConfig struct {
	Type           MessageType `json:"type"`
	Personality    string      `json:"personality,omitempty"`
	Scenario       string      `json:"scenario,omitempty"`
	CustomScenario string      `json:"custom_scenario,omitempty"`
}

type EndCall struct {
	Type MessageType `json:"type"`
}

// ParseClientMessage decodes one inbound frame into its concrete type.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAudioData:
		var msg AudioData
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid audio_data: %w", err)
		}
		return msg, nil
	case TypeResetConversation:
		return ResetConversation{Type: env.Type}, nil
	case TypeChangeConfig:
		var msg ChangeConfig
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid change_config: %w", err)
		}
		return msg, nil
	case TypeEndCall:
		return EndCall{Type: env.Type}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

// Event is an outbound message without a payload.
type Event struct {
	Type MessageType `json:"type"`
}

// NewEvent returns a payload-less event of type t.
func NewEvent(t MessageType) Event { return Event{Type: t} }

type Config struct {
	Type MessageType `json:"type"`
	catalog.Snapshot
}

func NewConfig(snap catalog.Snapshot) Config {
	return Config{Type: TypeConfig, Snapshot: snap}
}

type Connected struct {
	Type        MessageType `json:"type"`
	Message     string      `json:"message"`
	Personality string      `json:"personality"`
	Scenario    string      `json:"scenario"`
}

type Transcript struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
	Role string      `json:"role"`
}

type LLMResponseToken struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
}

type LLMResponseEnd struct {
	Type               MessageType `json:"type"`
	ConversationActive bool        `json:"conversation_active"`
	Text               string      `json:"text"`
}

type TTSAudioChunk struct {
	Type      MessageType `json:"type"`
	AudioData string      `json:"audio_data"`
	Format    string      `json:"format"`
	Seq       int         `json:"seq"`
}

type ConversationReset struct {
	Type        MessageType `json:"type"`
	Message     string      `json:"message"`
	Personality string      `json:"personality"`
	Scenario    string      `json:"scenario"`
}

type ConfigChanged struct {
	Type            MessageType `json:"type"`
	Personality     string      `json:"personality"`
	Scenario        string      `json:"scenario"`
	PersonalityName string      `json:"personality_name"`
	ScenarioName    string      `json:"scenario_name"`
	Message         string      `json:"message"`
}

type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
}

// NewError builds an error event.
func NewError(code, message string) Error {
	return Error{Type: TypeError, Message: message, Code: code}
}
