// Package voicebank discovers installed voice model files and builds the
// style-to-model registry by probing the engine once at startup.
package voicebank

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hibiki-dev/hibikid/internal/engine"
)

// Model is one installable voice model file, discovered at startup and
// immutable for the process lifetime.
type Model struct {
	ID   uint32 `json:"id"`
	Path string `json:"path"`
}

// Registry maps every known style id to the model that must be loaded to
// serve it. Built once, read-only afterwards.
type Registry struct {
	styleToModel map[uint32]uint32
}

// Lookup returns the model id serving styleID.
func (r *Registry) Lookup(styleID uint32) (uint32, bool) {
	id, ok := r.styleToModel[styleID]
	return id, ok
}

// Resolve maps a style id to a model id, degrading to treating the style id
// as its own model id when the registry has no entry for it.
func (r *Registry) Resolve(styleID uint32, log *slog.Logger) uint32 {
	if id, ok := r.styleToModel[styleID]; ok {
		return id
	}
	log.Warn("style id not in registry, treating as model id",
		slog.Int64("style_id", int64(styleID)))
	return styleID
}

// Len reports the number of registered styles.
func (r *Registry) Len() int { return len(r.styleToModel) }

// StyleMap returns a copy of the style-to-model mapping for metadata
// responses.
func (r *Registry) StyleMap() map[uint32]uint32 {
	out := make(map[uint32]uint32, len(r.styleToModel))
	for k, v := range r.styleToModel {
		out[k] = v
	}
	return out
}

// Scan walks dir recursively collecting model files with the given
// extension, sorted ascending by model id. Files whose names carry no
// numeric id are skipped with a warning.
func Scan(dir, ext string, log *slog.Logger) ([]Model, error) {
	var models []Model
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		id, err := engine.ModelIDFromPath(path)
		if err != nil {
			log.Warn("skipping model file", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		models = append(models, Model{ID: id, Path: path})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("models directory missing", slog.String("dir", dir))
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Build probes the engine to construct the style registry and the speaker
// directory. Phase one loads each model alone, claims its not-yet-mapped
// style ids, and unloads it again, so only one model is resident at a time.
// Phase two loads every model together and takes the union speaker listing
// that is served to clients, then unloads them all. Build never fails for
// lack of loadable models; the result is just empty.
func Build(ctx context.Context, eng engine.Engine, models []Model, log *slog.Logger) (*Registry, []engine.Speaker, error) {
	reg := &Registry{styleToModel: make(map[uint32]uint32)}

	for _, m := range models {
		if err := eng.LoadModel(ctx, m.Path); err != nil {
			log.Warn("model failed to load during discovery",
				slog.Int64("model_id", int64(m.ID)),
				slog.String("path", m.Path),
				slog.String("error", err.Error()))
			continue
		}
		speakers, err := eng.Speakers(ctx)
		if err != nil {
			log.Warn("speaker listing failed during discovery",
				slog.Int64("model_id", int64(m.ID)),
				slog.String("error", err.Error()))
		}
		for _, sp := range speakers {
			for _, style := range sp.Styles {
				if _, claimed := reg.styleToModel[style.ID]; !claimed {
					reg.styleToModel[style.ID] = m.ID
				}
			}
		}
		if err := eng.UnloadModel(ctx, m.Path); err != nil {
			log.Warn("model unload failed during discovery",
				slog.Int64("model_id", int64(m.ID)),
				slog.String("error", err.Error()))
		}
	}

	directory := unionSpeakers(ctx, eng, models, log)

	log.Info("voicebank ready",
		slog.Int("models", len(models)),
		slog.Int("styles", reg.Len()),
		slog.Int("speakers", len(directory)))
	return reg, directory, nil
}

func unionSpeakers(ctx context.Context, eng engine.Engine, models []Model, log *slog.Logger) []engine.Speaker {
	var loaded []Model
	for _, m := range models {
		if err := eng.LoadModel(ctx, m.Path); err != nil {
			log.Warn("model failed to load for speaker directory",
				slog.Int64("model_id", int64(m.ID)),
				slog.String("error", err.Error()))
			continue
		}
		loaded = append(loaded, m)
	}

	directory, err := eng.Speakers(ctx)
	if err != nil {
		log.Warn("union speaker listing failed", slog.String("error", err.Error()))
	}

	for _, m := range loaded {
		if err := eng.UnloadModel(ctx, m.Path); err != nil {
			log.Warn("model unload failed after speaker directory",
				slog.Int64("model_id", int64(m.ID)),
				slog.String("error", err.Error()))
		}
	}
	return directory
}
