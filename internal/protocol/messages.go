// Package protocol defines the daemon's wire format: length-prefixed frames
// carrying tagged-union request and response messages, plus the payloads
// published on the optional event bus.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiki-dev/hibikid/internal/engine"
	"github.com/hibiki-dev/hibikid/internal/voicebank"
)

// MessageType identifies request and response payload variants.
type MessageType string

const (
	TypePing         MessageType = "ping"
	TypeSynthesize   MessageType = "synthesize"
	TypeListSpeakers MessageType = "list_speakers"
	TypeListModels   MessageType = "list_models"

	TypePong     MessageType = "pong"
	TypeAudio    MessageType = "audio"
	TypeSpeakers MessageType = "speakers"
	TypeModels   MessageType = "models"
	TypeError    MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type PingRequest struct {
	Type MessageType `json:"type"`
}

type SynthesizeOptions struct {
	Rate float32 `json:"rate"`
}

type SynthesizeRequest struct {
	Type    MessageType       `json:"type"`
	Text    string            `json:"text"`
	StyleID uint32            `json:"style_id"`
	Options SynthesizeOptions `json:"options"`
}

type ListSpeakersRequest struct {
	Type MessageType `json:"type"`
}

type ListModelsRequest struct {
	Type MessageType `json:"type"`
}

type PongResponse struct {
	Type MessageType `json:"type"`
}

type AudioResponse struct {
	Type  MessageType `json:"type"`
	Audio []byte      `json:"audio_bytes"`
}

type SpeakersResponse struct {
	Type     MessageType       `json:"type"`
	Speakers []engine.Speaker  `json:"speakers"`
	StyleMap map[uint32]uint32 `json:"style_map,omitempty"`
}

type ModelsResponse struct {
	Type   MessageType       `json:"type"`
	Models []voicebank.Model `json:"models"`
}

type ErrorResponse struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewPing() PingRequest                 { return PingRequest{Type: TypePing} }
func NewListSpeakers() ListSpeakersRequest { return ListSpeakersRequest{Type: TypeListSpeakers} }
func NewListModels() ListModelsRequest     { return ListModelsRequest{Type: TypeListModels} }

func NewSynthesize(text string, styleID uint32, rate float32) SynthesizeRequest {
	return SynthesizeRequest{
		Type:    TypeSynthesize,
		Text:    text,
		StyleID: styleID,
		Options: SynthesizeOptions{Rate: rate},
	}
}

func NewPong() PongResponse { return PongResponse{Type: TypePong} }

func NewAudio(audio []byte) AudioResponse {
	return AudioResponse{Type: TypeAudio, Audio: audio}
}

func NewSpeakers(speakers []engine.Speaker, styleMap map[uint32]uint32) SpeakersResponse {
	return SpeakersResponse{Type: TypeSpeakers, Speakers: speakers, StyleMap: styleMap}
}

func NewModels(models []voicebank.Model) ModelsResponse {
	return ModelsResponse{Type: TypeModels, Models: models}
}

func NewError(message string) ErrorResponse {
	return ErrorResponse{Type: TypeError, Message: message}
}

// ParseRequest decodes one framed request payload into its concrete type.
func ParseRequest(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypePing:
		return PingRequest{Type: TypePing}, nil
	case TypeSynthesize:
		var msg SynthesizeRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeListSpeakers:
		return ListSpeakersRequest{Type: TypeListSpeakers}, nil
	case TypeListModels:
		return ListModelsRequest{Type: TypeListModels}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

// ParseResponse decodes one framed response payload into its concrete type.
func ParseResponse(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypePong:
		return PongResponse{Type: TypePong}, nil
	case TypeAudio:
		var msg AudioResponse
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeSpeakers:
		var msg SpeakersResponse
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeModels:
		var msg ModelsResponse
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeError:
		var msg ErrorResponse
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}
