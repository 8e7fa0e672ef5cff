package speech

import (
	"context"
	"errors"
	"time"
)

const (
	defaultSpeechThreshold = 0.02
	defaultEndSilence      = time.Second
	maxUtterance           = 30 * time.Second
)

// Transcriber transcribes one audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
}

// BatchRecognizer buffers one utterance, bounded by an energy threshold and
// a stretch of trailing silence, and transcribes it in a single request.
type BatchRecognizer struct {
	transcriber Transcriber
	threshold   float64
	endSilence  time.Duration
	language    string
}

type BatchOption func(*BatchRecognizer)

// WithSpeechThreshold sets the RMS level (0..1) that counts as speech.
func WithSpeechThreshold(level float64) BatchOption {
	return func(b *BatchRecognizer) {
		if level > 0 {
			b.threshold = level
		}
	}
}

// WithEndSilence sets how much silence after speech ends the utterance.
func WithEndSilence(d time.Duration) BatchOption {
	return func(b *BatchRecognizer) {
		if d > 0 {
			b.endSilence = d
		}
	}
}

func WithLanguage(lang string) BatchOption {
	return func(b *BatchRecognizer) {
		b.language = lang
	}
}

func NewBatchRecognizer(t Transcriber, opts ...BatchOption) (*BatchRecognizer, error) {
	if t == nil {
		return nil, errors.New("speech: transcriber must not be nil")
	}
	b := &BatchRecognizer{
		transcriber: t,
		threshold:   defaultSpeechThreshold,
		endSilence:  defaultEndSilence,
		language:    "en",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *BatchRecognizer) Recognize(ctx context.Context, audio <-chan []byte, onSpeech func()) (string, error) {
	var (
		utterance []byte
		preroll   []byte
		speaking  bool
		silence   time.Duration
	)

collect:
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case seg, ok := <-audio:
			if !ok {
				break collect
			}
			loud := rms(seg) >= b.threshold
			switch {
			case loud && !speaking:
				speaking = true
				if onSpeech != nil {
					onSpeech()
				}
				utterance = append(append(utterance, preroll...), seg...)
			case speaking:
				utterance = append(utterance, seg...)
				if loud {
					silence = 0
				} else {
					silence += duration(seg)
				}
				if silence >= b.endSilence || duration(utterance) >= maxUtterance {
					break collect
				}
			default:
				preroll = seg
			}
		}
	}

	if !speaking {
		return "", newError(KindNoSpeech, nil)
	}
	text, err := b.transcriber.Transcribe(ctx, EncodeWAV(utterance, SampleRate), "speech.wav", b.language)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", newError(KindNetwork, err)
	}
	return text, nil
}

func duration(pcm []byte) time.Duration {
	return time.Duration(len(pcm)/bytesPerSample) * time.Second / SampleRate
}
