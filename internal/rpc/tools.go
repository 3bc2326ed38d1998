package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hibiki-dev/hibikid/internal/config"
	"github.com/hibiki-dev/hibikid/internal/engine"
	"github.com/hibiki-dev/hibikid/internal/segment"
)

// DaemonClient is the slice of the daemon protocol the tools need. A fresh
// connection is dialed per tool invocation; the daemon serializes them.
type DaemonClient interface {
	Synthesize(text string, styleID uint32, rate float32) ([]byte, error)
	ListSpeakers() ([]engine.Speaker, map[uint32]uint32, error)
	Close() error
}

// Dialer opens a daemon connection.
type Dialer func() (DaemonClient, error)

// ContentItem is one MCP content block.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is an MCP tool call result.
type ToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Tools implements the text_to_speech and list_voice_styles tools.
type Tools struct {
	dial     Dialer
	cfg      config.RPCConfig
	maxChars int
	splitter segment.Splitter
	log      *slog.Logger
}

func NewTools(dial Dialer, cfg config.Config, log *slog.Logger) *Tools {
	return &Tools{
		dial:     dial,
		cfg:      cfg.RPC,
		maxChars: cfg.Daemon.MaxTextChars,
		splitter: segment.Splitter{
			Delimiters:     cfg.Segment.Delimiters,
			SoftDelimiters: cfg.Segment.SoftDelimiters,
			MaxLen:         cfg.Segment.MaxLen,
		},
		log: log.With(slog.String("component", "tools")),
	}
}

// Describe returns the tool schemas for tools/list.
func (t *Tools) Describe() []map[string]any {
	return []map[string]any{
		{
			"name":        "text_to_speech",
			"description": "Synthesize speech from text using an installed voice style. In streaming mode the text is split into sentence segments synthesized one at a time.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":     map[string]any{"type": "string", "description": "Text to speak"},
					"style_id": map[string]any{"type": "integer", "description": "Voice style id (see list_voice_styles)"},
					"rate": map[string]any{
						"type":        "number",
						"description": fmt.Sprintf("Speaking rate, %.1f-%.1f", t.cfg.RateMin, t.cfg.RateMax),
					},
					"streaming": map[string]any{"type": "boolean", "description": "Synthesize sentence by sentence"},
				},
				"required": []string{"text", "style_id"},
			},
		},
		{
			"name":        "list_voice_styles",
			"description": "List installed voice styles, optionally filtered by speaker or style name substring.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"speaker_name": map[string]any{"type": "string", "description": "Partial speaker name match"},
					"style_name":   map[string]any{"type": "string", "description": "Partial style name match"},
				},
			},
		},
	}
}

// Call dispatches one tool invocation. cancelCh is signalled when the
// client sends a cancellation for this request.
func (t *Tools) Call(ctx context.Context, name string, args json.RawMessage, cancelCh <-chan struct{}) (any, *rpcError) {
	switch name {
	case "text_to_speech":
		return t.textToSpeech(ctx, args, cancelCh)
	case "list_voice_styles":
		return t.listVoiceStyles(args)
	default:
		return nil, &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown tool %q", name)}
	}
}

type ttsArgs struct {
	Text      string  `json:"text"`
	StyleID   uint32  `json:"style_id"`
	Rate      float64 `json:"rate"`
	Streaming bool    `json:"streaming"`
}

func (t *Tools) textToSpeech(ctx context.Context, raw json.RawMessage, cancelCh <-chan struct{}) (any, *rpcError) {
	var args ttsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid text_to_speech arguments"}
	}
	if strings.TrimSpace(args.Text) == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "text is empty or whitespace only"}
	}
	if chars := utf8.RuneCountInString(args.Text); chars > t.maxChars {
		return nil, &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("text is %d characters, limit is %d", chars, t.maxChars)}
	}
	if args.Rate == 0 {
		args.Rate = 1.0
	}
	if args.Rate < t.cfg.RateMin || args.Rate > t.cfg.RateMax {
		return nil, &rpcError{Code: codeInvalidParams,
			Message: fmt.Sprintf("rate %.2f outside allowed range %.2f-%.2f", args.Rate, t.cfg.RateMin, t.cfg.RateMax)}
	}

	segments := []string{args.Text}
	if args.Streaming {
		segments = t.splitter.Split(args.Text)
	}

	conn, err := t.dial()
	if err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: fmt.Sprintf("daemon unavailable: %v", err)}
	}
	defer conn.Close()

	callID := uuid.NewString()
	gap := time.Duration(t.cfg.SegmentGapMS) * time.Millisecond

	var files []string
	var totalBytes, synthesized, skipped int
	for i, seg := range segments {
		// Check for cancellation before the skip classification so a
		// run of unspeakable segments cannot delay observing it.
		select {
		case <-cancelCh:
			return cancelledResult(synthesized, len(segments), files), nil
		case <-ctx.Done():
			return cancelledResult(synthesized, len(segments), files), nil
		default:
		}

		if segment.IsPunctuationOnly(seg) {
			skipped++
			continue
		}

		audio, err := conn.Synthesize(seg, args.StyleID, float32(args.Rate))
		if err != nil {
			return &ToolResult{
				Content: []ContentItem{{Type: "text", Text: fmt.Sprintf("synthesis failed on segment %d: %v", i+1, err)}},
				IsError: true,
			}, nil
		}
		path, err := t.writeAudio(callID, synthesized, audio)
		if err != nil {
			return nil, &rpcError{Code: codeInternalError, Message: fmt.Sprintf("write audio: %v", err)}
		}
		files = append(files, path)
		totalBytes += len(audio)
		synthesized++

		if args.Streaming && gap > 0 && i < len(segments)-1 {
			select {
			case <-cancelCh:
				return cancelledResult(synthesized, len(segments), files), nil
			case <-ctx.Done():
				return cancelledResult(synthesized, len(segments), files), nil
			case <-time.After(gap):
			}
		}
	}

	summary := fmt.Sprintf("synthesized %d segment(s), %d bytes of audio", synthesized, totalBytes)
	if skipped > 0 {
		summary += fmt.Sprintf(" (%d punctuation-only segment(s) skipped)", skipped)
	}
	if len(files) > 0 {
		summary += "\n" + strings.Join(files, "\n")
	}
	return &ToolResult{Content: []ContentItem{{Type: "text", Text: summary}}}, nil
}

func cancelledResult(done, total int, files []string) *ToolResult {
	text := fmt.Sprintf("cancelled after %d of %d segment(s)", done, total)
	if len(files) > 0 {
		text += "\n" + strings.Join(files, "\n")
	}
	return &ToolResult{
		Content: []ContentItem{{Type: "text", Text: text}},
		IsError: true,
	}
}

func (t *Tools) writeAudio(callID string, index int, audio []byte) (string, error) {
	dir := t.cfg.OutputDir
	if dir == "" {
		dir = os.TempDir()
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("hibiki-%s-%03d.pcm", callID, index))
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type listStylesArgs struct {
	SpeakerName string `json:"speaker_name"`
	StyleName   string `json:"style_name"`
}

func (t *Tools) listVoiceStyles(raw json.RawMessage) (any, *rpcError) {
	var args listStylesArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: "invalid list_voice_styles arguments"}
		}
	}

	conn, err := t.dial()
	if err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: fmt.Sprintf("daemon unavailable: %v", err)}
	}
	defer conn.Close()

	speakers, _, err := conn.ListSpeakers()
	if err != nil {
		return &ToolResult{
			Content: []ContentItem{{Type: "text", Text: fmt.Sprintf("listing speakers failed: %v", err)}},
			IsError: true,
		}, nil
	}

	var lines []string
	for _, sp := range speakers {
		if args.SpeakerName != "" && !containsFold(sp.Name, args.SpeakerName) {
			continue
		}
		for _, style := range sp.Styles {
			if args.StyleName != "" && !containsFold(style.Name, args.StyleName) {
				continue
			}
			lines = append(lines, fmt.Sprintf("%d\t%s\t%s", style.ID, sp.Name, style.Name))
		}
	}
	if len(lines) == 0 {
		return &ToolResult{Content: []ContentItem{{Type: "text", Text: "no matching voice styles"}}}, nil
	}
	return &ToolResult{Content: []ContentItem{{Type: "text", Text: strings.Join(lines, "\n")}}}, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
