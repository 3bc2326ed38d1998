// Package client implements the daemon's wire protocol from the caller
// side: one framed request in flight at a time over a Unix-socket
// connection, with connect and response timeouts.
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/hibiki-dev/hibikid/internal/engine"
	"github.com/hibiki-dev/hibikid/internal/protocol"
	"github.com/hibiki-dev/hibikid/internal/voicebank"
)

const (
	DefaultConnectTimeout  = 2 * time.Second
	DefaultResponseTimeout = 5 * time.Minute // synthesis of long text is slow
)

// DaemonError is an error the daemon itself reported, as opposed to a
// transport failure.
type DaemonError struct {
	Message string
}

func (e *DaemonError) Error() string { return e.Message }

// Client is not safe for concurrent use; the protocol allows a single
// request in flight per connection.
type Client struct {
	conn            net.Conn
	responseTimeout time.Duration
}

// Dial connects to the daemon socket.
func Dial(path string, connectTimeout, responseTimeout time.Duration) (*Client, error) {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	conn, err := net.DialTimeout("unix", path, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", path, err)
	}
	return &Client{conn: conn, responseTimeout: responseTimeout}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Ping checks liveness.
func (c *Client) Ping() error {
	resp, err := c.roundTrip(protocol.NewPing())
	if err != nil {
		return err
	}
	if _, ok := resp.(protocol.PongResponse); !ok {
		return fmt.Errorf("unexpected response %T to ping", resp)
	}
	return nil
}

// Synthesize requests audio for text in the given style.
func (c *Client) Synthesize(text string, styleID uint32, rate float32) ([]byte, error) {
	resp, err := c.roundTrip(protocol.NewSynthesize(text, styleID, rate))
	if err != nil {
		return nil, err
	}
	audio, ok := resp.(protocol.AudioResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T to synthesize", resp)
	}
	return audio.Audio, nil
}

// ListSpeakers fetches the speaker directory and the style-to-model map.
func (c *Client) ListSpeakers() ([]engine.Speaker, map[uint32]uint32, error) {
	resp, err := c.roundTrip(protocol.NewListSpeakers())
	if err != nil {
		return nil, nil, err
	}
	speakers, ok := resp.(protocol.SpeakersResponse)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected response %T to list_speakers", resp)
	}
	return speakers.Speakers, speakers.StyleMap, nil
}

// ListModels fetches the installed-model snapshot.
func (c *Client) ListModels() ([]voicebank.Model, error) {
	resp, err := c.roundTrip(protocol.NewListModels())
	if err != nil {
		return nil, err
	}
	models, ok := resp.(protocol.ModelsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response %T to list_models", resp)
	}
	return models.Models, nil
}

func (c *Client) roundTrip(req any) (any, error) {
	if err := c.conn.SetDeadline(time.Now().Add(c.responseTimeout)); err != nil {
		return nil, err
	}
	if err := protocol.WriteMessage(c.conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	payload, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	resp, err := protocol.ParseResponse(payload)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if errResp, ok := resp.(protocol.ErrorResponse); ok {
		return nil, &DaemonError{Message: errResp.Message}
	}
	return resp, nil
}
