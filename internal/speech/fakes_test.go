package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"intellect/internal/integrations/assemblyai"
)

// ---------------------------------------------------------------------------
// Microphone
// ---------------------------------------------------------------------------

type fakeStream struct {
	frames chan []byte
	err    error
	closes atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []byte, 64)}
}

func (f *fakeStream) Frames() <-chan []byte { return f.frames }
func (f *fakeStream) Err() error            { return f.err }
func (f *fakeStream) Close() error {
	f.closes.Add(1)
	return nil
}

type fakeMic struct {
	permErr error
	openErr error
	stream  *fakeStream
	opens   atomic.Int32
}

func (m *fakeMic) CheckPermission(context.Context) error { return m.permErr }

func (m *fakeMic) Open(context.Context) (AudioStream, error) {
	m.opens.Add(1)
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.stream, nil
}

// pcm returns n bytes of a constant PCM16 level.
func pcm(n int, level int16) []byte {
	out := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		binary.LittleEndian.PutUint16(out[i:], uint16(level))
	}
	return out
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

type fakeStreamSession struct {
	events chan assemblyai.Event
	done   chan struct{}

	mu         sync.Mutex
	sent       int
	terminated bool
	closed     bool
	err        error

	onAudio     func(f *fakeStreamSession, n int) error
	onTerminate func(f *fakeStreamSession)
	finishOnce  sync.Once
}

func newFakeStreamSession() *fakeStreamSession {
	return &fakeStreamSession{
		events: make(chan assemblyai.Event, 16),
		done:   make(chan struct{}),
	}
}

func (f *fakeStreamSession) Events() <-chan assemblyai.Event { return f.events }
func (f *fakeStreamSession) Done() <-chan struct{}         { return f.done }

func (f *fakeStreamSession) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStreamSession) SendAudio([]byte) error {
	f.mu.Lock()
	f.sent++
	n := f.sent
	f.mu.Unlock()
	if f.onAudio != nil {
		return f.onAudio(f, n)
	}
	return nil
}

func (f *fakeStreamSession) Terminate() error {
	f.mu.Lock()
	f.terminated = true
	f.mu.Unlock()
	if f.onTerminate != nil {
		f.onTerminate(f)
	}
	return nil
}

func (f *fakeStreamSession) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.finish(nil)
	return nil
}

// finish ends the connection the way the realtime client does: events
// first, then done.
func (f *fakeStreamSession) finish(err error) {
	f.finishOnce.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.events)
		close(f.done)
	})
}

func (f *fakeStreamSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeConnector struct {
	configured bool
	session    *fakeStreamSession
	err        error
	connects   atomic.Int32
}

func (c *fakeConnector) Configured(context.Context) bool { return c.configured }

func (c *fakeConnector) Connect(context.Context) (StreamSession, error) {
	c.connects.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.session, nil
}

// ---------------------------------------------------------------------------
// Recognizer / transcriber
// ---------------------------------------------------------------------------

type recognizerFunc func(ctx context.Context, audio <-chan []byte, onSpeech func()) (string, error)

func (f recognizerFunc) Recognize(ctx context.Context, audio <-chan []byte, onSpeech func()) (string, error) {
	return f(ctx, audio, onSpeech)
}

// waitForCancel blocks until ctx ends.
func waitForCancel(ctx context.Context, _ <-chan []byte, _ func()) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type fakeTranscriber struct {
	text     string
	err      error
	calls    int
	audio    []byte
	filename string
	language string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, filename, language string) (string, error) {
	f.calls++
	f.audio, f.filename, f.language = audio, filename, language
	return f.text, f.err
}

var errBoom = errors.New("boom")
