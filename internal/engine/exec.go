package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"

	shellwords "github.com/mattn/go-shellwords"
)

// execEngine bridges to an external synthesizer process. Each operation runs
// the configured command once with a JSON request on stdin and reads one
// JSON response from stdout. The loaded-model set is tracked here and passed
// with every invocation, so the subprocess itself stays stateless.
type execEngine struct {
	cmd        []string
	sampleRate int

	mu     sync.Mutex
	loaded map[string]bool // model path -> loaded
}

type execRequest struct {
	Op         string   `json:"op"` // synthesize, speakers
	Text       string   `json:"text,omitempty"`
	StyleID    uint32   `json:"style_id,omitempty"`
	Rate       float32  `json:"rate,omitempty"`
	SampleRate int      `json:"sample_rate"`
	Models     []string `json:"models"`
}

type execResponse struct {
	AudioBase64 string    `json:"audio_base64,omitempty"`
	Speakers    []Speaker `json:"speakers,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// NewExec builds an exec-mode engine from a shell-style command line.
func NewExec(command string, sampleRate int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &execEngine{
		cmd:        args,
		sampleRate: sampleRate,
		loaded:     make(map[string]bool),
	}, nil
}

func (e *execEngine) LoadModel(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return fmt.Errorf("stat model: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelNotFound, path)
	}

	e.mu.Lock()
	e.loaded[path] = true
	e.mu.Unlock()
	return nil
}

func (e *execEngine) UnloadModel(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded[path] {
		return fmt.Errorf("model %s is not loaded", path)
	}
	delete(e.loaded, path)
	return nil
}

func (e *execEngine) Synthesize(ctx context.Context, text string, styleID uint32, opts SynthesisOptions) ([]byte, error) {
	resp, err := e.invoke(ctx, execRequest{
		Op:      "synthesize",
		Text:    text,
		StyleID: styleID,
		Rate:    opts.Rate,
	})
	if err != nil {
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode engine audio: %w", err)
	}
	return audio, nil
}

func (e *execEngine) Speakers(ctx context.Context) ([]Speaker, error) {
	resp, err := e.invoke(ctx, execRequest{Op: "speakers"})
	if err != nil {
		return nil, err
	}
	return resp.Speakers, nil
}

func (e *execEngine) invoke(ctx context.Context, req execRequest) (*execResponse, error) {
	req.SampleRate = e.sampleRate
	req.Models = e.loadedModels()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("engine command failed: %v: %s", err, stderr.String())
		}
		return nil, fmt.Errorf("engine command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("engine: %s", resp.Error)
	}
	return &resp, nil
}

func (e *execEngine) loadedModels() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	models := make([]string, 0, len(e.loaded))
	for path := range e.loaded {
		models = append(models, path)
	}
	sort.Strings(models)
	return models
}
