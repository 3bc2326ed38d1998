package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hibiki-dev/hibikid/internal/engine"
	"github.com/hibiki-dev/hibikid/internal/history"
	"github.com/hibiki-dev/hibikid/internal/protocol"
)

// handleSynthesize resolves the style to a model, loads it, synthesizes, and
// always tries to unload again before responding. The immediate
// unload-after-use keeps steady-state memory bounded when requests cycle
// through many voices, trading repeated load latency for it.
func (s *Server) handleSynthesize(ctx context.Context, req protocol.SynthesizeRequest) any {
	start := time.Now()
	requestID := uuid.NewString()
	log := s.log.With(slog.String("request_id", requestID), slog.Int64("style_id", int64(req.StyleID)))

	if strings.TrimSpace(req.Text) == "" {
		s.finish(ctx, requestID, req, 0, 0, start, history.OutcomeRejected, "text is empty")
		return protocol.NewError("text is empty or whitespace only")
	}
	if chars := utf8.RuneCountInString(req.Text); chars > s.cfg.Daemon.MaxTextChars {
		msg := fmt.Sprintf("text is %d characters, limit is %d", chars, s.cfg.Daemon.MaxTextChars)
		s.finish(ctx, requestID, req, 0, 0, start, history.OutcomeRejected, msg)
		return protocol.NewError(msg)
	}
	rate := req.Options.Rate
	if rate == 0 {
		rate = 1.0
	}
	if float64(rate) < s.cfg.RPC.RateMin || float64(rate) > s.cfg.RPC.RateMax {
		msg := fmt.Sprintf("rate %.2f outside allowed range %.2f-%.2f", rate, s.cfg.RPC.RateMin, s.cfg.RPC.RateMax)
		s.finish(ctx, requestID, req, 0, 0, start, history.OutcomeRejected, msg)
		return protocol.NewError(msg)
	}

	modelID := s.registry.Resolve(req.StyleID, log)
	path, ok := s.modelPaths[modelID]
	if !ok {
		msg := fmt.Sprintf("style %d is not served by any installed model", req.StyleID)
		s.finish(ctx, requestID, req, modelID, 0, start, history.OutcomeError, msg)
		return protocol.NewError(msg)
	}

	s.pub.Publish(protocol.SubjectSynthesisStarted, protocol.SynthesisEvent{
		RequestID: requestID,
		StyleID:   req.StyleID,
		ModelID:   modelID,
		TextChars: utf8.RuneCountInString(req.Text),
		Timestamp: time.Now().UTC(),
	})

	s.gate.Lock()
	audio, err := s.synthesizeLocked(ctx, req.Text, req.StyleID, rate, modelID, path, log)
	s.gate.Unlock()

	if err != nil {
		s.finish(ctx, requestID, req, modelID, 0, start, history.OutcomeError, err.Error())
		return protocol.NewError(err.Error())
	}

	s.metrics.synthesisDuration(ctx, time.Since(start))
	s.finish(ctx, requestID, req, modelID, len(audio), start, history.OutcomeOK, "")
	log.Info("synthesis complete",
		slog.Int("audio_bytes", len(audio)),
		slog.Duration("duration", time.Since(start)))
	return protocol.NewAudio(audio)
}

// synthesizeLocked runs the load-synthesize-unload sequence. Callers hold
// the engine gate.
func (s *Server) synthesizeLocked(ctx context.Context, text string, styleID uint32, rate float32, modelID uint32, path string, log *slog.Logger) ([]byte, error) {
	// Loading an already-resident model is not an error; a prior request's
	// failed unload must not wedge this one.
	if err := s.eng.LoadModel(ctx, path); err != nil {
		return nil, fmt.Errorf("load model %d: %w", modelID, err)
	}
	s.metrics.modelLoaded(ctx)
	s.pub.Publish(protocol.SubjectModelLoaded, protocol.ModelEvent{ModelID: modelID, Path: path, Timestamp: time.Now().UTC()})

	audio, synthErr := s.eng.Synthesize(ctx, text, styleID, engine.SynthesisOptions{Rate: rate})

	// Unload regardless of the synthesis outcome. A failed unload only
	// costs memory, so it is logged and the request proceeds.
	if err := s.eng.UnloadModel(ctx, path); err != nil {
		log.Warn("model unload failed", slog.Int64("model_id", int64(modelID)), slog.String("error", err.Error()))
	} else {
		s.metrics.modelUnloaded(ctx)
		s.pub.Publish(protocol.SubjectModelUnloaded, protocol.ModelEvent{ModelID: modelID, Path: path, Timestamp: time.Now().UTC()})
	}

	if synthErr != nil {
		return nil, fmt.Errorf("synthesize with style %d: %w", styleID, synthErr)
	}
	return audio, nil
}

// finish records the request in metrics, history, and the event stream.
func (s *Server) finish(ctx context.Context, requestID string, req protocol.SynthesizeRequest, modelID uint32, audioBytes int, start time.Time, outcome, errMsg string) {
	s.metrics.request(ctx, "synthesize", outcome)

	duration := time.Since(start)
	if s.hist != nil {
		rec := history.Record{
			ID:         requestID,
			StyleID:    req.StyleID,
			ModelID:    modelID,
			TextChars:  utf8.RuneCountInString(req.Text),
			AudioBytes: audioBytes,
			DurationMS: duration.Milliseconds(),
			Outcome:    outcome,
			Error:      errMsg,
		}
		if err := s.hist.Append(ctx, rec); err != nil {
			s.log.Warn("history append failed", slog.String("error", err.Error()))
		}
	}

	s.pub.Publish(protocol.SubjectSynthesisCompleted, protocol.SynthesisEvent{
		RequestID:  requestID,
		StyleID:    req.StyleID,
		ModelID:    modelID,
		TextChars:  utf8.RuneCountInString(req.Text),
		AudioBytes: audioBytes,
		DurationMS: duration.Milliseconds(),
		Outcome:    outcome,
		Error:      errMsg,
		Timestamp:  time.Now().UTC(),
	})
}
