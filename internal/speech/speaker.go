package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Voice is one synthesis voice.
type Voice struct {
	ID       string
	Name     string
	Language string
	Gender   string
}

func (v Voice) english() bool {
	return strings.HasPrefix(strings.ToLower(v.Language), "en")
}

func (v Voice) female() bool {
	return strings.EqualFold(v.Gender, "female") || strings.Contains(strings.ToLower(v.Name), "female")
}

// Options tune one utterance. Zero fields mean 1.0.
type Options struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

func (o Options) withDefaults() Options {
	if o.Rate <= 0 {
		o.Rate = 1
	}
	if o.Pitch <= 0 {
		o.Pitch = 1
	}
	if o.Volume <= 0 {
		o.Volume = 1
	}
	return o
}

// Engine synthesizes and plays speech. Say blocks until playback ends or ctx
// is cancelled.
type Engine interface {
	Voices(ctx context.Context) ([]Voice, error)
	Say(ctx context.Context, voice Voice, text string, opts Options) error
}

// Speaker plays one utterance at a time.
type Speaker struct {
	engine Engine
	logger *slog.Logger

	mu     sync.Mutex
	voice  *Voice
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSpeaker(engine Engine, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{engine: engine, logger: logger}
}

// Available reports whether an engine is configured.
func (s *Speaker) Available() bool {
	return s != nil && s.engine != nil
}

// Speak cancels any utterance in progress and says text, returning when it
// ends. Synthesis failures are logged, never returned.
func (s *Speaker) Speak(ctx context.Context, text string, opts Options) {
	if !s.Available() || strings.TrimSpace(text) == "" {
		return
	}
	uctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	for {
		s.mu.Lock()
		if s.done == nil {
			s.cancel, s.done = cancel, done
			s.mu.Unlock()
			break
		}
		prevCancel, prevDone := s.cancel, s.done
		s.mu.Unlock()
		prevCancel()
		<-prevDone
	}
	defer func() {
		cancel()
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()

	voice := s.selectVoice(uctx)
	if err := s.engine.Say(uctx, voice, text, opts.withDefaults()); err != nil && uctx.Err() == nil {
		s.logger.Warn("speech synthesis failed", "voice", voice.Name, "err", err)
	}
}

// Stop cancels the current utterance and waits for playback to halt.
func (s *Speaker) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Speaker) IsSpeaking() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// selectVoice prefers an English female voice, then any English voice, then
// the first voice. The choice is remembered once the list loads.
func (s *Speaker) selectVoice(ctx context.Context) Voice {
	s.mu.Lock()
	if s.voice != nil {
		v := *s.voice
		s.mu.Unlock()
		return v
	}
	s.mu.Unlock()

	voices, err := s.engine.Voices(ctx)
	if err != nil {
		s.logger.Warn("listing voices failed, using default voice", "err", err)
		return Voice{}
	}
	v, ok := pickVoice(voices)
	if !ok {
		return Voice{}
	}
	s.mu.Lock()
	s.voice = &v
	s.mu.Unlock()
	return v
}

func pickVoice(voices []Voice) (Voice, bool) {
	for _, v := range voices {
		if v.english() && v.female() {
			return v, true
		}
	}
	for _, v := range voices {
		if v.english() {
			return v, true
		}
	}
	if len(voices) > 0 {
		return voices[0], true
	}
	return Voice{}, false
}
