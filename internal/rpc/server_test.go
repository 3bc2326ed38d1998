package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func runServer(t *testing.T, tools *Tools, input string) []response {
	t.Helper()
	var out bytes.Buffer
	srv := NewServer(strings.NewReader(input), &out, tools, "test", newLogger())
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	return decodeResponses(t, out.Bytes())
}

func decodeResponses(t *testing.T, data []byte) []response {
	t.Helper()
	var responses []response
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			t.Fatalf("bad response line %q: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func responseByID(t *testing.T, responses []response, rawID string) response {
	t.Helper()
	want := idKey(json.RawMessage(rawID))
	for _, resp := range responses {
		if idKey(resp.ID) == want {
			return resp
		}
	}
	t.Fatalf("no response with id %s in %+v", rawID, responses)
	return response{}
}

func TestServerHandshakeAndToolFlow(t *testing.T) {
	fake := &fakeClient{}
	tools := newTools(t, fake)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"text_to_speech","arguments":{"text":"こんにちは。","style_id":1}}}`,
	}, "\n") + "\n"

	responses := runServer(t, tools, input)

	init := responseByID(t, responses, "1")
	if init.Error != nil {
		t.Fatalf("initialize failed: %+v", init.Error)
	}
	result, ok := init.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected initialize result %T", init.Result)
	}
	if result["protocolVersion"] != protocolVersion {
		t.Fatalf("expected protocol version %q, got %v", protocolVersion, result["protocolVersion"])
	}

	list := responseByID(t, responses, "2")
	if list.Error != nil {
		t.Fatalf("tools/list failed: %+v", list.Error)
	}
	listResult, ok := list.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected tools/list result %T", list.Result)
	}
	toolDefs, ok := listResult["tools"].([]any)
	if !ok || len(toolDefs) != 2 {
		t.Fatalf("expected 2 tools, got %v", listResult["tools"])
	}

	call := responseByID(t, responses, "3")
	if call.Error != nil {
		t.Fatalf("tools/call failed: %+v", call.Error)
	}
	if calls := fake.calls(); len(calls) != 1 || calls[0] != "こんにちは。" {
		t.Fatalf("expected one synthesized segment, got %v", calls)
	}
}

func TestServerMethodNotFound(t *testing.T) {
	tools := newTools(t, &fakeClient{})
	responses := runServer(t, tools,
		`{"jsonrpc":"2.0","id":7,"method":"resources/list"}`+"\n")

	resp := responseByID(t, responses, "7")
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp)
	}
}

func TestServerParseError(t *testing.T) {
	tools := newTools(t, &fakeClient{})
	responses := runServer(t, tools, "this is not json\n")

	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	resp := responses[0]
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", resp)
	}
	if string(resp.ID) != "null" {
		t.Fatalf("parse error response should carry a null id, got %s", resp.ID)
	}
}

func TestServerInvalidRequestMissingVersion(t *testing.T) {
	tools := newTools(t, &fakeClient{})
	responses := runServer(t, tools,
		`{"id":1,"method":"initialize"}`+"\n")

	if len(responses) != 1 || responses[0].Error == nil || responses[0].Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid-request error, got %+v", responses)
	}
}

func TestIDKeyKeepsIDTypesApart(t *testing.T) {
	if idKey(json.RawMessage(`1`)) == idKey(json.RawMessage(`"1"`)) {
		t.Fatal("number 1 and string \"1\" must not share a key")
	}
	if idKey(json.RawMessage(`"\"x\""`)) == idKey(json.RawMessage(`"x"`)) {
		t.Fatal("escaped quotes in a string id must survive normalization")
	}
	// The same id sent twice keys identically regardless of whitespace.
	if idKey(json.RawMessage(` 42 `)) != idKey(json.RawMessage(`42`)) {
		t.Fatal("surrounding whitespace must not change a numeric key")
	}
}

func TestServerCancelledNotificationAbortsToolCall(t *testing.T) {
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	fake := &fakeClient{
		onSynthesize: func(string) {
			once.Do(func() { close(started) })
			<-release
		},
	}
	tools := newTools(t, fake)

	inR, inW := io.Pipe()
	var out bytes.Buffer
	srv := NewServer(inR, &out, tools, "test", newLogger())

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	_, err := io.WriteString(inW,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"text_to_speech","arguments":{"text":"一文目。二文目。","style_id":1,"streaming":true}}}`+"\n")
	if err != nil {
		t.Fatalf("write call: %v", err)
	}

	<-started
	_, err = io.WriteString(inW,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":5,"reason":"user asked"}}`+"\n")
	if err != nil {
		t.Fatalf("write cancel: %v", err)
	}

	// The cancellation is handled on the read loop; give it a moment to
	// close the channel before the tool moves to the next segment.
	time.Sleep(100 * time.Millisecond)
	close(release)
	inW.Close()

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	responses := decodeResponses(t, out.Bytes())
	resp := responseByID(t, responses, "5")
	if resp.Error != nil {
		t.Fatalf("cancellation should produce a tool result, not an rpc error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result %T", resp.Result)
	}
	if result["isError"] != true {
		t.Fatalf("cancelled call should report isError, got %v", result)
	}
	if calls := fake.calls(); len(calls) != 1 {
		t.Fatalf("expected synthesis to stop after the first segment, got %v", calls)
	}
}
