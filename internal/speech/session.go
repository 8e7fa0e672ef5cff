// Package speech captures voice questions and speaks answers.
//
// Input runs one capture session at a time. Captured audio is cut into
// fixed 250 ms segments and offered to an ordered chain of transcription
// strategies: the realtime streaming service first, then a local recognizer.
// Speaker wraps a synthesis engine with voice selection and cancellation.
package speech

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	// SampleRate is the capture rate of every AudioStream.
	SampleRate     = 16000
	bytesPerSample = 2

	segmentInterval = 250 * time.Millisecond
	segmentBytes    = SampleRate * bytesPerSample * int(segmentInterval/time.Millisecond) / 1000

	segmentBuffer = 128
)

// AudioStream delivers 16 kHz mono little-endian PCM16 frames of any size.
// Frames is closed when capture ends; Err then reports why, nil after Close.
type AudioStream interface {
	Frames() <-chan []byte
	Err() error
	Close() error
}

// Microphone opens capture streams.
type Microphone interface {
	CheckPermission(ctx context.Context) error
	Open(ctx context.Context) (AudioStream, error)
}

// session is one voice input attempt: the segment feed cut from the
// microphone plus the partial and final transcript accumulators.
type session struct {
	segments   chan []byte
	stopped    chan struct{}
	stopOnce   sync.Once
	recordDone chan struct{}

	mu        sync.Mutex
	partial   string
	finals    []string
	recordErr error
	// heard is set once the recognizer detected speech; a transcript is
	// then on its way.
	heard bool
}

func newSession() *session {
	return &session{
		segments:   make(chan []byte, segmentBuffer),
		stopped:    make(chan struct{}),
		recordDone: make(chan struct{}),
	}
}

// record cuts stream into segments until the stream ends or the session is
// stopped, then closes the segment feed.
func (s *session) record(stream AudioStream) {
	defer close(s.recordDone)
	defer close(s.segments)

	var buf []byte
	frames := stream.Frames()
	for {
		select {
		case <-s.stopped:
			s.emit(buf)
			return
		case f, ok := <-frames:
			if !ok {
				if err := stream.Err(); err != nil {
					s.mu.Lock()
					s.recordErr = err
					s.mu.Unlock()
					return
				}
				s.emit(buf)
				return
			}
			buf = append(buf, f...)
			for len(buf) >= segmentBytes {
				seg := make([]byte, segmentBytes)
				copy(seg, buf)
				buf = buf[segmentBytes:]
				if !s.emit(seg) {
					return
				}
			}
		}
	}
}

func (s *session) emit(seg []byte) bool {
	if len(seg) == 0 {
		return true
	}
	select {
	case s.segments <- seg:
		return true
	case <-s.stopped:
		// Flush a final short segment if there is room.
		select {
		case s.segments <- seg:
		default:
		}
		return false
	}
}

func (s *session) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *session) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

func (s *session) markHeard() {
	s.mu.Lock()
	s.heard = true
	s.mu.Unlock()
}

func (s *session) heardSpeech() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heard
}

func (s *session) recordingErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordErr
}

func (s *session) setPartial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial = strings.TrimSpace(text)
}

func (s *session) addFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finals = append(s.finals, text)
	s.partial = ""
}

func (s *session) resetText() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial = ""
	s.finals = nil
}

// transcript is the final text, or the latest partial when nothing was
// finalized.
func (s *session) transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.finals) > 0 {
		return strings.Join(s.finals, " ")
	}
	return s.partial
}

func (s *session) partialText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.partial == "" {
		return strings.Join(s.finals, " ")
	}
	if len(s.finals) == 0 {
		return s.partial
	}
	return strings.Join(s.finals, " ") + " " + s.partial
}
