// Package engine defines the contract with the speech-synthesis engine and
// the in-tree implementations of it. The daemon consumes the engine only
// through this interface; all inference, phonetics and codec work happens
// behind it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Style is one voice/emotional variant exposed by a loaded model.
type Style struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

// Speaker groups the styles of one voice character.
type Speaker struct {
	Name   string  `json:"name"`
	Styles []Style `json:"styles"`
}

// SynthesisOptions carries per-request tuning parameters.
type SynthesisOptions struct {
	Rate float32
}

var (
	// ErrModelNotFound indicates a load target the engine cannot open.
	ErrModelNotFound = errors.New("model not found")
	// ErrStyleNotLoaded indicates synthesis against a style no loaded model exposes.
	ErrStyleNotLoaded = errors.New("style not available in loaded models")
)

// Engine is the narrow contract the daemon holds on the synthesis runtime.
// Loading an already-loaded model is not an error; unloading a model that is
// not loaded is. Speakers reflects only the models loaded at call time.
type Engine interface {
	LoadModel(ctx context.Context, path string) error
	UnloadModel(ctx context.Context, path string) error
	Synthesize(ctx context.Context, text string, styleID uint32, opts SynthesisOptions) ([]byte, error)
	Speakers(ctx context.Context) ([]Speaker, error)
}

// ModelIDFromPath extracts the numeric model id from a model file name.
// Model files are named by their id, optionally followed by an underscored
// label: "3.hvm", "3_hoshino.hvm".
func ModelIDFromPath(path string) (uint32, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.IndexByte(stem, '_'); i >= 0 {
		stem = stem[:i]
	}
	id, err := strconv.ParseUint(stem, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("model file %q has no numeric id: %w", filepath.Base(path), err)
	}
	return uint32(id), nil
}
