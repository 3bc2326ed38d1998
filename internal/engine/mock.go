package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// MockVoice describes one synthetic model the mock engine can load.
type MockVoice struct {
	ID      uint32
	Name    string
	Styles  []Style
	Corrupt bool // refuses to load, for discovery failure paths
}

// Mock is an in-memory engine for development and tests. It enforces the
// real engine's contract (load before synthesis, unload only what is loaded)
// and counts overlapping calls so tests can assert that the daemon never
// lets two engine operations interleave.
type Mock struct {
	mu     sync.Mutex
	voices map[uint32]MockVoice
	loaded map[uint32]bool

	inCall     atomic.Int32
	violations atomic.Int64
	loadCalls  atomic.Int64
	synthCalls atomic.Int64
}

func NewMock(voices []MockVoice) *Mock {
	m := &Mock{
		voices: make(map[uint32]MockVoice, len(voices)),
		loaded: make(map[uint32]bool),
	}
	for _, v := range voices {
		m.voices[v.ID] = v
	}
	return m
}

func (m *Mock) enter() func() {
	if m.inCall.Add(1) > 1 {
		m.violations.Add(1)
	}
	return func() { m.inCall.Add(-1) }
}

// Violations reports how many engine calls overlapped another one.
func (m *Mock) Violations() int64 { return m.violations.Load() }

// LoadCalls reports the total number of LoadModel invocations.
func (m *Mock) LoadCalls() int64 { return m.loadCalls.Load() }

// SynthCalls reports the total number of Synthesize invocations.
func (m *Mock) SynthCalls() int64 { return m.synthCalls.Load() }

func (m *Mock) LoadModel(ctx context.Context, path string) error {
	defer m.enter()()
	m.loadCalls.Add(1)

	id, err := ModelIDFromPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	voice, ok := m.voices[id]
	if !ok {
		return fmt.Errorf("%w: model %d", ErrModelNotFound, id)
	}
	if voice.Corrupt {
		return fmt.Errorf("open model %d: invalid header", id)
	}
	m.loaded[id] = true
	return nil
}

func (m *Mock) UnloadModel(ctx context.Context, path string) error {
	defer m.enter()()

	id, err := ModelIDFromPath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded[id] {
		return fmt.Errorf("model %d is not loaded", id)
	}
	delete(m.loaded, id)
	return nil
}

func (m *Mock) Synthesize(ctx context.Context, text string, styleID uint32, opts SynthesisOptions) ([]byte, error) {
	defer m.enter()()
	m.synthCalls.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.loaded {
		for _, style := range m.voices[id].Styles {
			if style.ID == styleID {
				return renderMockAudio(text, styleID), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: style %d", ErrStyleNotLoaded, styleID)
}

func (m *Mock) Speakers(ctx context.Context) ([]Speaker, error) {
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint32, 0, len(m.loaded))
	for id := range m.loaded {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	speakers := make([]Speaker, 0, len(ids))
	for _, id := range ids {
		voice := m.voices[id]
		speakers = append(speakers, Speaker{
			Name:   voice.Name,
			Styles: append([]Style(nil), voice.Styles...),
		})
	}
	return speakers, nil
}

// renderMockAudio produces small deterministic payloads so tests can tell
// outputs for different inputs apart.
func renderMockAudio(text string, styleID uint32) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "PCM:%d:%s", styleID, text)
	return buf.Bytes()
}
