package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hibiki-dev/hibikid/internal/config"
	"github.com/hibiki-dev/hibikid/internal/engine"
)

type fakeClient struct {
	mu           sync.Mutex
	synthesized  []string
	speakers     []engine.Speaker
	failOn       string
	onSynthesize func(text string)
}

func (f *fakeClient) Synthesize(text string, styleID uint32, rate float32) ([]byte, error) {
	f.mu.Lock()
	f.synthesized = append(f.synthesized, text)
	f.mu.Unlock()
	if f.onSynthesize != nil {
		f.onSynthesize(text)
	}
	if f.failOn != "" && text == f.failOn {
		return nil, fmt.Errorf("engine rejected %q", text)
	}
	return []byte("audio:" + text), nil
}

func (f *fakeClient) ListSpeakers() ([]engine.Speaker, map[uint32]uint32, error) {
	return f.speakers, nil, nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.synthesized...)
}

func newTools(t *testing.T, fake *fakeClient) *Tools {
	t.Helper()
	cfg := config.Default()
	cfg.RPC.OutputDir = t.TempDir()
	return NewTools(func() (DaemonClient, error) { return fake, nil }, cfg, newLogger())
}

func callTTS(t *testing.T, tools *Tools, args string, cancelCh <-chan struct{}) (*ToolResult, *rpcError) {
	t.Helper()
	res, rpcErr := tools.Call(context.Background(), "text_to_speech", json.RawMessage(args), cancelCh)
	if rpcErr != nil {
		return nil, rpcErr
	}
	result, ok := res.(*ToolResult)
	if !ok {
		t.Fatalf("expected *ToolResult, got %T", res)
	}
	return result, nil
}

func TestTextToSpeechStreamingSkipsPunctuationOnlySegments(t *testing.T) {
	fake := &fakeClient{}
	tools := newTools(t, fake)

	// The leading ellipsis clause splits into a punctuation-only segment
	// that must never reach the daemon.
	res, rpcErr := callTTS(t, tools,
		`{"text":"…。こんにちは。今日は晴れ。","style_id":1,"streaming":true}`, nil)
	if rpcErr != nil {
		t.Fatalf("unexpected rpc error: %+v", rpcErr)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res)
	}
	if !strings.Contains(res.Content[0].Text, "skipped") {
		t.Fatalf("summary should mention skipped segments: %q", res.Content[0].Text)
	}

	calls := fake.calls()
	want := []string{"こんにちは。", "今日は晴れ。"}
	if len(calls) != len(want) {
		t.Fatalf("expected %d synthesized segments, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("segment %d: expected %q, got %q", i, want[i], calls[i])
		}
	}
}

func TestTextToSpeechNonStreamingSingleCall(t *testing.T) {
	fake := &fakeClient{}
	tools := newTools(t, fake)

	if _, rpcErr := callTTS(t, tools, `{"text":"一文目。二文目。","style_id":1}`, nil); rpcErr != nil {
		t.Fatalf("unexpected rpc error: %+v", rpcErr)
	}
	if calls := fake.calls(); len(calls) != 1 || calls[0] != "一文目。二文目。" {
		t.Fatalf("expected one whole-text call, got %v", calls)
	}
}

func TestTextToSpeechValidation(t *testing.T) {
	fake := &fakeClient{}
	tools := newTools(t, fake)

	cases := []struct {
		name string
		args string
	}{
		{"empty text", `{"text":"","style_id":1}`},
		{"whitespace text", `{"text":"   ","style_id":1}`},
		{"rate too high", `{"text":"test","style_id":1,"rate":3.5}`},
		{"rate too low", `{"text":"test","style_id":1,"rate":0.1}`},
		{"oversize text", fmt.Sprintf(`{"text":%q,"style_id":1}`, strings.Repeat("あ", 5001))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, rpcErr := callTTS(t, tools, tc.args, nil)
			if rpcErr == nil || rpcErr.Code != codeInvalidParams {
				t.Fatalf("expected invalid params error, got %+v", rpcErr)
			}
		})
	}
	if len(fake.calls()) != 0 {
		t.Fatal("validation failures must not reach the daemon")
	}
}

func TestUnknownToolRejected(t *testing.T) {
	tools := newTools(t, &fakeClient{})
	_, rpcErr := tools.Call(context.Background(), "play_music", nil, nil)
	if rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("expected invalid params for unknown tool, got %+v", rpcErr)
	}
}

func TestTextToSpeechCancelledBeforeStart(t *testing.T) {
	fake := &fakeClient{}
	tools := newTools(t, fake)

	cancelled := make(chan struct{})
	close(cancelled)

	res, rpcErr := callTTS(t, tools, `{"text":"一。二。三。","style_id":1,"streaming":true}`, cancelled)
	if rpcErr != nil {
		t.Fatalf("unexpected rpc error: %+v", rpcErr)
	}
	if !res.IsError || !strings.Contains(res.Content[0].Text, "cancelled") {
		t.Fatalf("expected cancelled outcome, got %+v", res)
	}
	if len(fake.calls()) != 0 {
		t.Fatal("cancelled call must not start engine work")
	}
}

func TestTextToSpeechCancelObservedBeforeSkippedSegments(t *testing.T) {
	fake := &fakeClient{}
	tools := newTools(t, fake)

	cancelled := make(chan struct{})
	close(cancelled)

	// Every segment here is punctuation-only; the cancellation must still
	// be reported instead of a success summary.
	res, rpcErr := callTTS(t, tools, `{"text":"…。！？。","style_id":1,"streaming":true}`, cancelled)
	if rpcErr != nil {
		t.Fatalf("unexpected rpc error: %+v", rpcErr)
	}
	if !res.IsError || !strings.Contains(res.Content[0].Text, "cancelled") {
		t.Fatalf("expected cancelled outcome, got %+v", res)
	}
	if len(fake.calls()) != 0 {
		t.Fatal("cancelled call must not reach the daemon")
	}
}

func TestTextToSpeechCancelledMidway(t *testing.T) {
	cancelled := make(chan struct{})
	fake := &fakeClient{}
	fake.onSynthesize = func(string) {
		// First segment triggers the cancellation observed before the
		// second one starts.
		select {
		case <-cancelled:
		default:
			close(cancelled)
		}
	}
	tools := newTools(t, fake)

	res, rpcErr := callTTS(t, tools, `{"text":"一。二。三。","style_id":1,"streaming":true}`, cancelled)
	if rpcErr != nil {
		t.Fatalf("unexpected rpc error: %+v", rpcErr)
	}
	if !res.IsError || !strings.Contains(res.Content[0].Text, "cancelled after 1") {
		t.Fatalf("expected cancellation after first segment, got %+v", res)
	}
	if calls := fake.calls(); len(calls) != 1 {
		t.Fatalf("expected exactly one engine call before cancellation, got %v", calls)
	}
}

func TestTextToSpeechSynthesisFailureIsToolError(t *testing.T) {
	fake := &fakeClient{failOn: "駄目。"}
	tools := newTools(t, fake)

	res, rpcErr := callTTS(t, tools, `{"text":"駄目。","style_id":1,"streaming":true}`, nil)
	if rpcErr != nil {
		t.Fatalf("synthesis failure must be a tool error, not an rpc error: %+v", rpcErr)
	}
	if !res.IsError || !strings.Contains(res.Content[0].Text, "synthesis failed") {
		t.Fatalf("expected tool error result, got %+v", res)
	}
}

func TestListVoiceStylesFilters(t *testing.T) {
	fake := &fakeClient{speakers: []engine.Speaker{
		{Name: "星野ひかり", Styles: []engine.Style{{ID: 1, Name: "ノーマル"}, {ID: 2, Name: "ささやき"}}},
		{Name: "森野つむぎ", Styles: []engine.Style{{ID: 3, Name: "ノーマル"}}},
	}}
	tools := newTools(t, fake)

	res, rpcErr := tools.Call(context.Background(), "list_voice_styles",
		json.RawMessage(`{"speaker_name":"星野"}`), nil)
	if rpcErr != nil {
		t.Fatalf("unexpected rpc error: %+v", rpcErr)
	}
	text := res.(*ToolResult).Content[0].Text
	if !strings.Contains(text, "ささやき") || strings.Contains(text, "つむぎ") {
		t.Fatalf("speaker filter not applied: %q", text)
	}

	res, rpcErr = tools.Call(context.Background(), "list_voice_styles",
		json.RawMessage(`{"style_name":"ささやき"}`), nil)
	if rpcErr != nil {
		t.Fatalf("unexpected rpc error: %+v", rpcErr)
	}
	text = res.(*ToolResult).Content[0].Text
	if !strings.Contains(text, "2\t星野ひかり\tささやき") || strings.Contains(text, "ノーマル") {
		t.Fatalf("style filter not applied: %q", text)
	}
}
