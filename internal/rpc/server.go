// Package rpc exposes the daemon as tools over a JSON-RPC 2.0 stdio
// transport following the Model Context Protocol handshake: initialize,
// tools/list, tools/call, plus the cancelled notification that aborts a
// long-running tool invocation.
package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

const protocolVersion = "2024-11-05"

// Standard JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cancelledParams struct {
	RequestID json.RawMessage `json:"requestId"`
	Reason    string          `json:"reason,omitempty"`
}

// Server runs the stdio JSON-RPC loop. Tool calls execute concurrently in
// their own goroutines; responses are serialized onto the output stream.
type Server struct {
	in      io.Reader
	out     io.Writer
	outMu   sync.Mutex
	log     *slog.Logger
	tools   *Tools
	cancels *CancelRegistry
	version string
	wg      sync.WaitGroup
}

func NewServer(in io.Reader, out io.Writer, tools *Tools, version string, log *slog.Logger) *Server {
	return &Server{
		in:      in,
		out:     out,
		log:     log.With(slog.String("component", "rpc")),
		tools:   tools,
		cancels: NewCancelRegistry(log),
		version: version,
	}
}

// Run serves until the input stream ends or ctx is done. Outstanding tool
// calls are waited for before returning.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.handleLine(ctx, append([]byte(nil), line...))
	}
	s.wg.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read rpc input: %w", err)
	}
	return ctx.Err()
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.reply(response{JSONRPC: "2.0", ID: nullID(), Error: &rpcError{Code: codeParseError, Message: "parse error"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.reply(response{JSONRPC: "2.0", ID: idOrNull(req.ID), Error: &rpcError{Code: codeInvalidRequest, Message: "invalid request"}})
		return
	}

	if len(req.ID) == 0 {
		s.handleNotification(req)
		return
	}

	switch req.Method {
	case "initialize":
		s.reply(response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "hibiki-mcp", "version": s.version},
		}})
	case "tools/list":
		s.reply(response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": s.tools.Describe()}})
	case "tools/call":
		s.handleToolCall(ctx, req)
	default:
		s.reply(response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{
			Code:    codeMethodNotFound,
			Message: fmt.Sprintf("method %q not found", req.Method),
		}})
	}
}

func (s *Server) handleNotification(req request) {
	switch req.Method {
	case "notifications/initialized":
		s.log.Debug("client initialized")
	case "notifications/cancelled":
		var params cancelledParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.log.Warn("bad cancelled notification", slog.String("error", err.Error()))
			return
		}
		s.cancels.Cancel(idKey(params.RequestID), params.Reason)
	default:
		s.log.Debug("ignoring notification", slog.String("method", req.Method))
	}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolCall dispatches the tool in its own goroutine so later input
// (notably cancellations) keeps being read while the tool runs.
func (s *Server) handleToolCall(ctx context.Context, req request) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.reply(response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidParams, Message: "invalid tool call params"}})
		return
	}

	key := idKey(req.ID)
	cancelCh, err := s.cancels.Register(key)
	if err != nil {
		s.reply(response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: err.Error()}})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.cancels.Complete(key)

		result, rpcErr := s.tools.Call(ctx, params.Name, params.Arguments, cancelCh)
		if rpcErr != nil {
			s.reply(response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
			return
		}
		s.reply(response{JSONRPC: "2.0", ID: req.ID, Result: result})
	}()
}

func (s *Server) reply(resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("failed to marshal response", slog.String("error", err.Error()))
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.log.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

// idKey normalizes a JSON-RPC id into a map key. String ids are decoded so
// escaped characters compare by value; numbers and null key on their raw
// text. The type prefix keeps the string id "1" distinct from the number 1.
func idKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return "s:" + s
	}
	return "n:" + string(bytes.TrimSpace(raw))
}

func nullID() json.RawMessage { return json.RawMessage("null") }

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID()
	}
	return id
}
