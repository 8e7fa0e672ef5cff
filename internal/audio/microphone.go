// Package audio connects the speech pipeline to local sound devices: malgo
// for capture and oto for playback.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"intellect/internal/speech"
)

const (
	channels       = 1
	periodMillis   = 20
	frameQueueSize = 256
)

// Microphone captures 16 kHz mono PCM16 from the default input device.
type Microphone struct {
	logger *slog.Logger

	once    sync.Once
	ctx     *malgo.AllocatedContext
	initErr error
}

func NewMicrophone(logger *slog.Logger) *Microphone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Microphone{logger: logger}
}

func (m *Microphone) context() (*malgo.AllocatedContext, error) {
	m.once.Do(func() {
		m.ctx, m.initErr = malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	})
	return m.ctx, m.initErr
}

// CheckPermission verifies that a capture device can be enumerated.
func (m *Microphone) CheckPermission(context.Context) error {
	ctx, err := m.context()
	if err != nil {
		return fmt.Errorf("audio: init context: %w", err)
	}
	devices, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("audio: list capture devices: %w", err)
	}
	if len(devices) == 0 {
		return errors.New("audio: no capture device available")
	}
	return nil
}

// Open starts capture. Failures are reported as microphone access errors.
func (m *Microphone) Open(context.Context) (speech.AudioStream, error) {
	ctx, err := m.context()
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}

	s := &captureStream{
		frames: make(chan []byte, frameQueueSize),
		logger: m.logger,
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = channels
	cfg.SampleRate = speech.SampleRate
	cfg.PeriodSizeInMilliseconds = periodMillis

	device, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { s.push(in) },
		Stop: func() { s.finish(errors.New("audio: capture device stopped")) },
	})
	if err != nil {
		return nil, fmt.Errorf("audio: init capture device: %w", err)
	}
	s.device = device
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("audio: start capture: %w", err)
	}
	return s, nil
}

// Close releases the audio context. It is safe to call more than once and
// before the microphone was ever used.
func (m *Microphone) Close() error {
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

type captureStream struct {
	device *malgo.Device
	frames chan []byte
	logger *slog.Logger

	closing atomic.Bool
	dropped atomic.Int64

	mu       sync.Mutex
	err      error
	finished bool
}

func (s *captureStream) push(in []byte) {
	if s.closing.Load() {
		return
	}
	frame := make([]byte, len(in))
	copy(frame, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	select {
	case s.frames <- frame:
	default:
		s.dropped.Add(1)
	}
}

// finish ends the stream once. err is ignored when the stop was requested
// by Close.
func (s *captureStream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	if !s.closing.Load() {
		s.err = err
	}
	close(s.frames)
}

func (s *captureStream) Frames() <-chan []byte { return s.frames }

func (s *captureStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *captureStream) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.device != nil {
		err = s.device.Stop()
		s.device.Uninit()
	}
	s.finish(nil)
	if n := s.dropped.Load(); n > 0 {
		s.logger.Warn("microphone frames dropped", "frames", n)
	}
	if err != nil {
		return fmt.Errorf("audio: stop capture: %w", err)
	}
	return nil
}
