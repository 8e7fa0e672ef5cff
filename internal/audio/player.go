package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const (
	pollInterval   = 20 * time.Millisecond
	playbackBuffer = 100 * time.Millisecond
)

// Player plays mono PCM16 through the default output device. oto allows a
// single context per process, so the context is created on first use and
// shared.
type Player struct {
	sampleRate int

	once    sync.Once
	ctx     *oto.Context
	initErr error
}

func NewPlayer(sampleRate int) *Player {
	return &Player{sampleRate: sampleRate}
}

func (p *Player) context() (*oto.Context, error) {
	p.once.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   p.sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   playbackBuffer,
		})
		if err != nil {
			p.initErr = err
			return
		}
		<-ready
		p.ctx = ctx
	})
	return p.ctx, p.initErr
}

// Play blocks until pcm has played or ctx is cancelled. volume is 0..1.
func (p *Player) Play(ctx context.Context, pcm []byte, volume float64) error {
	if len(pcm) == 0 {
		return nil
	}
	octx, err := p.context()
	if err != nil {
		return fmt.Errorf("audio: init playback: %w", err)
	}

	player := octx.NewPlayer(bytes.NewReader(pcm))
	defer func() { _ = player.Close() }()
	player.SetVolume(clampVolume(volume))
	player.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if err := player.Err(); err != nil {
		return fmt.Errorf("audio: playback: %w", err)
	}
	return nil
}

func clampVolume(v float64) float64 {
	switch {
	case v <= 0:
		return 1
	case v > 1:
		return 1
	default:
		return v
	}
}
