package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"intellect/internal/integrations/assemblyai"
)

const (
	DefaultNoSpeechTimeout = 10 * time.Second
	terminateGrace         = 2 * time.Second
)

// strategy is one link of the transcription chain. A failed strategy hands
// the session to the next one unless the failure is terminal.
type strategy interface {
	name() string
	available(ctx context.Context) bool
	transcribe(ctx context.Context, s *session) (string, error)
}

// StreamSession is an open realtime transcription connection.
type StreamSession interface {
	Events() <-chan assemblyai.Event
	Done() <-chan struct{}
	Err() error
	SendAudio(pcm []byte) error
	Terminate() error
	Close() error
}

// StreamConnector opens realtime transcription connections.
type StreamConnector interface {
	Configured(ctx context.Context) bool
	Connect(ctx context.Context) (StreamSession, error)
}

type assemblyAIConnector struct {
	client *assemblyai.Client
}

// AssemblyAI adapts a realtime client to StreamConnector.
func AssemblyAI(c *assemblyai.Client) StreamConnector {
	return assemblyAIConnector{client: c}
}

func (a assemblyAIConnector) Configured(ctx context.Context) bool {
	return a.client.Configured(ctx)
}

func (a assemblyAIConnector) Connect(ctx context.Context) (StreamSession, error) {
	s, err := a.client.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

type streamingStrategy struct {
	connector StreamConnector
}

func (t *streamingStrategy) name() string { return "streaming" }

func (t *streamingStrategy) available(ctx context.Context) bool {
	return t.connector != nil && t.connector.Configured(ctx)
}

func (t *streamingStrategy) transcribe(ctx context.Context, s *session) (string, error) {
	conn, err := t.connector.Connect(ctx)
	if err != nil {
		return "", newError(KindNetwork, err)
	}
	defer func() { _ = conn.Close() }()

	segments := s.segments
	events := conn.Events()
	var grace <-chan time.Time

	apply := func(ev assemblyai.Event) bool {
		switch ev.MessageType {
		case assemblyai.MessagePartialTranscript:
			s.setPartial(ev.Text)
		case assemblyai.MessageFinalTranscript:
			s.addFinal(ev.Text)
		case assemblyai.MessageSessionTerminated:
			return true
		}
		return false
	}

	for {
		select {
		case <-ctx.Done():
			return "", newError(KindAborted, ctx.Err())

		case seg, ok := <-segments:
			if !ok {
				segments = nil
				if err := s.recordingErr(); err != nil {
					return "", newError(KindRecordingFailed, err)
				}
				if err := conn.Terminate(); err != nil {
					return s.transcript(), nil
				}
				timer := time.NewTimer(terminateGrace)
				defer timer.Stop()
				grace = timer.C
				continue
			}
			if err := conn.SendAudio(seg); err != nil {
				return "", newError(KindNetwork, err)
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if apply(ev) {
				return s.transcript(), nil
			}

		case <-conn.Done():
			if events != nil {
				for ev := range events {
					if apply(ev) {
						break
					}
				}
			}
			if err := conn.Err(); err != nil && segments != nil {
				return "", newError(KindNetwork, err)
			}
			return s.transcript(), nil

		case <-grace:
			return s.transcript(), nil
		}
	}
}

// ---------------------------------------------------------------------------
// Native
// ---------------------------------------------------------------------------

// Recognizer turns a segment feed into one utterance. onSpeech is called
// when speech is first heard.
type Recognizer interface {
	Recognize(ctx context.Context, audio <-chan []byte, onSpeech func()) (string, error)
}

var errNoSpeechTimeout = errors.New("no speech within timeout")

type nativeStrategy struct {
	recognizer Recognizer
	timeout    time.Duration
}

func (n *nativeStrategy) name() string { return "native" }

func (n *nativeStrategy) available(context.Context) bool { return true }

func (n *nativeStrategy) transcribe(ctx context.Context, s *session) (string, error) {
	if n.recognizer == nil {
		return "", newError(KindNotSupported, nil)
	}

	rctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var heard atomic.Bool
	timer := time.AfterFunc(n.timeout, func() {
		if !heard.Load() {
			cancel(errNoSpeechTimeout)
		}
	})
	defer timer.Stop()

	text, err := n.recognizer.Recognize(rctx, s.segments, func() {
		if heard.CompareAndSwap(false, true) {
			timer.Stop()
			s.markHeard()
		}
	})
	if errors.Is(context.Cause(rctx), errNoSpeechTimeout) {
		return "", newError(KindNoSpeech, errNoSpeechTimeout)
	}
	if rerr := s.recordingErr(); rerr != nil {
		return "", newError(KindRecordingFailed, rerr)
	}
	if err != nil {
		if KindOf(err) != "" {
			return "", err
		}
		if ctx.Err() != nil {
			return "", newError(KindAborted, err)
		}
		return "", fmt.Errorf("speech-recognition-error: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", newError(KindNoSpeech, nil)
	}
	s.addFinal(text)
	return text, nil
}
