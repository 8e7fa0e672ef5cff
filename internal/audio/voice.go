package audio

import (
	"context"
	"errors"
	"fmt"

	"intellect/internal/integrations/elevenlabs"
	"intellect/internal/speech"
)

// DefaultVoiceID is used when the voice list could not be loaded.
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

type synthesizer interface {
	Voices(ctx context.Context) ([]elevenlabs.Voice, error)
	Synthesize(ctx context.Context, voiceID, text string, speed float64) ([]byte, error)
}

type pcmPlayer interface {
	Play(ctx context.Context, pcm []byte, volume float64) error
}

// VoiceEngine speaks through ElevenLabs synthesis and local playback. Rate
// maps to the provider speed setting and volume to player volume; pitch has
// no provider equivalent.
type VoiceEngine struct {
	synth  synthesizer
	player pcmPlayer
}

func NewVoiceEngine(synth synthesizer, player pcmPlayer) (*VoiceEngine, error) {
	if synth == nil || player == nil {
		return nil, errors.New("audio: synthesizer and player are required")
	}
	return &VoiceEngine{synth: synth, player: player}, nil
}

func (e *VoiceEngine) Voices(ctx context.Context) ([]speech.Voice, error) {
	list, err := e.synth.Voices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]speech.Voice, 0, len(list))
	for _, v := range list {
		out = append(out, speech.Voice{ID: v.ID, Name: v.Name, Language: v.Language(), Gender: v.Gender()})
	}
	return out, nil
}

func (e *VoiceEngine) Say(ctx context.Context, voice speech.Voice, text string, opts speech.Options) error {
	id := voice.ID
	if id == "" {
		id = DefaultVoiceID
	}
	pcm, err := e.synth.Synthesize(ctx, id, text, opts.Rate)
	if err != nil {
		return fmt.Errorf("audio: synthesize: %w", err)
	}
	return e.player.Play(ctx, pcm, opts.Volume)
}
