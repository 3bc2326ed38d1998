package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"type":"ping"}`)
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}
	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Fatalf("expected clean EOF after last frame, got %v", err)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 100)
	buf.Write(header[:])
	buf.WriteString("short")

	if _, err := ReadFrame(&buf); err == nil || err == io.EOF {
		t.Fatalf("expected payload read error, got %v", err)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameBytes+1)
	buf.Write(header[:])

	if _, err := ReadFrame(&buf); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestParseRequestVariants(t *testing.T) {
	raw := []byte(`{"type":"synthesize","text":"こんにちは","style_id":3,"options":{"rate":1.25}}`)
	msg, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("parse synthesize: %v", err)
	}
	req, ok := msg.(SynthesizeRequest)
	if !ok {
		t.Fatalf("expected SynthesizeRequest, got %T", msg)
	}
	if req.Text != "こんにちは" || req.StyleID != 3 || req.Options.Rate != 1.25 {
		t.Fatalf("unexpected request: %+v", req)
	}

	if msg, err := ParseRequest([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("parse ping: %v", err)
	} else if _, ok := msg.(PingRequest); !ok {
		t.Fatalf("expected PingRequest, got %T", msg)
	}

	if _, err := ParseRequest([]byte(`{"type":"shutdown"}`)); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := ParseRequest([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestParseResponseError(t *testing.T) {
	msg, err := ParseResponse([]byte(`{"type":"error","message":"style 99 not found"}`))
	if err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	resp, ok := msg.(ErrorResponse)
	if !ok || resp.Message != "style 99 not found" {
		t.Fatalf("unexpected response: %#v", msg)
	}
}

func TestWriteMessageFramesJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, NewAudio([]byte{1, 2, 3})); err != nil {
		t.Fatalf("write message: %v", err)
	}
	payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	msg, err := ParseResponse(payload)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	audio, ok := msg.(AudioResponse)
	if !ok || !bytes.Equal(audio.Audio, []byte{1, 2, 3}) {
		t.Fatalf("unexpected response: %#v", msg)
	}
}
