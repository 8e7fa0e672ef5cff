package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"intellect/internal/metrics"
)

const (
	DefaultMaxDuration = 30 * time.Second
	defaultStopGrace   = 3 * time.Second

	// defaultTranscribeWait bounds the wait for a recognizer that heard
	// speech and is transcribing it after Stop.
	defaultTranscribeWait = 30 * time.Second
)

// Input is the voice question pipeline. At most one Listen runs at a time.
type Input struct {
	mic         Microphone
	streaming   StreamConnector
	recognizer  Recognizer
	maxDuration time.Duration
	noSpeech    time.Duration
	stopGrace   time.Duration
	logger      *slog.Logger

	// transcribeWait replaces stopGrace once the recognizer heard speech.
	transcribeWait time.Duration

	strategies []strategy

	mu     sync.Mutex
	active *session
}

type InputOption func(*Input)

// WithStreaming enables the realtime strategy ahead of the recognizer.
func WithStreaming(c StreamConnector) InputOption {
	return func(i *Input) {
		i.streaming = c
	}
}

// WithRecognizer sets the fallback recognizer.
func WithRecognizer(r Recognizer) InputOption {
	return func(i *Input) {
		i.recognizer = r
	}
}

// WithMaxDuration caps one session. The cap acts like Stop.
func WithMaxDuration(d time.Duration) InputOption {
	return func(i *Input) {
		if d > 0 {
			i.maxDuration = d
		}
	}
}

// WithNoSpeechTimeout bounds how long the recognizer waits for speech.
func WithNoSpeechTimeout(d time.Duration) InputOption {
	return func(i *Input) {
		if d > 0 {
			i.noSpeech = d
		}
	}
}

// WithStopGrace bounds how long Stop waits for an in-flight transcript.
func WithStopGrace(d time.Duration) InputOption {
	return func(i *Input) {
		if d > 0 {
			i.stopGrace = d
		}
	}
}

// WithTranscribeWait bounds how long Stop waits for a recognizer that has
// already heard speech. It should cover one transcription request.
func WithTranscribeWait(d time.Duration) InputOption {
	return func(i *Input) {
		if d > 0 {
			i.transcribeWait = d
		}
	}
}

func WithInputLogger(l *slog.Logger) InputOption {
	return func(i *Input) {
		if l != nil {
			i.logger = l
		}
	}
}

func NewInput(mic Microphone, opts ...InputOption) *Input {
	i := &Input{
		mic:         mic,
		maxDuration: DefaultMaxDuration,
		noSpeech:    DefaultNoSpeechTimeout,
		stopGrace:   defaultStopGrace,
		logger:      slog.Default(),

		transcribeWait: defaultTranscribeWait,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.streaming != nil {
		i.strategies = append(i.strategies, &streamingStrategy{connector: i.streaming})
	}
	if i.recognizer != nil {
		i.strategies = append(i.strategies, &nativeStrategy{recognizer: i.recognizer, timeout: i.noSpeech})
	}
	return i
}

// Supported reports whether voice input can work at all.
func (i *Input) Supported() bool {
	return i.mic != nil && len(i.strategies) > 0
}

func (i *Input) IsListening() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active != nil
}

// Partial returns the transcript heard so far in the running session.
func (i *Input) Partial() string {
	i.mu.Lock()
	s := i.active
	i.mu.Unlock()
	if s == nil {
		return ""
	}
	return s.partialText()
}

// Stop ends the running session, which then resolves with the best
// transcript available. It is a no-op when not listening.
func (i *Input) Stop() {
	i.mu.Lock()
	s := i.active
	i.mu.Unlock()
	if s != nil {
		s.stop()
	}
}

type outcome struct {
	text string
	err  error
}

// Listen captures one voice question and returns its transcript. Failures
// are *Error values. The microphone stream, recorder and any streaming
// connection are released before Listen returns.
func (i *Input) Listen(ctx context.Context) (string, error) {
	if !i.Supported() {
		return "", newError(KindNotSupported, nil)
	}

	sess := newSession()
	i.mu.Lock()
	if i.active != nil {
		i.mu.Unlock()
		return "", newError(KindAlreadyListening, nil)
	}
	i.active = sess
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		i.active = nil
		i.mu.Unlock()
	}()

	if err := i.mic.CheckPermission(ctx); err != nil {
		if KindOf(err) != "" {
			return "", err
		}
		return "", newError(KindPermissionDenied, err)
	}
	stream, err := i.mic.Open(ctx)
	if err != nil {
		if KindOf(err) != "" {
			return "", err
		}
		return "", newError(KindAccessFailed, err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			i.logger.Warn("closing microphone stream", "err", err)
		}
	}()

	go sess.record(stream)
	defer func() {
		sess.stop()
		<-sess.recordDone
	}()
	capTimer := time.AfterFunc(i.maxDuration, sess.stop)
	defer capTimer.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	result := make(chan outcome, 1)
	go func() {
		text, err := i.run(runCtx, sess)
		result <- outcome{text: text, err: err}
	}()

	select {
	case r := <-result:
		if r.err != nil && sess.isStopped() && !terminal(r.err) {
			return sess.transcript(), nil
		}
		return r.text, r.err

	case <-sess.stopped:
		return i.finishStopped(ctx, sess, cancel, result)

	case <-ctx.Done():
		sess.stop()
		cancel()
		<-result
		return "", newError(KindAborted, ctx.Err())
	}
}

// finishStopped waits for the transcript of a stopped session. A recognizer
// that heard speech gets transcribeWait to deliver it; otherwise the wait is
// stopGrace. On timeout the text captured so far is returned.
func (i *Input) finishStopped(ctx context.Context, sess *session, cancel context.CancelFunc, result <-chan outcome) (string, error) {
	wait := time.NewTimer(i.stopGrace)
	defer wait.Stop()
	extended := false
	for {
		select {
		case r := <-result:
			if r.err == nil && r.text != "" {
				return r.text, nil
			}
			return sess.transcript(), nil
		case <-wait.C:
			if !extended && sess.heardSpeech() && i.transcribeWait > i.stopGrace {
				extended = true
				wait.Reset(i.transcribeWait - i.stopGrace)
				continue
			}
			cancel()
			<-result
			return sess.transcript(), nil
		case <-ctx.Done():
			cancel()
			<-result
			return "", newError(KindAborted, ctx.Err())
		}
	}
}

// run walks the strategy chain. Only the last attempted strategy's failure,
// or a terminal one, is returned.
func (i *Input) run(ctx context.Context, sess *session) (string, error) {
	var lastErr error
	for idx, st := range i.strategies {
		if !st.available(ctx) {
			i.logger.Info("transcription strategy unavailable", "strategy", st.name())
			continue
		}
		sess.resetText()
		text, err := st.transcribe(ctx, sess)
		if err == nil {
			metrics.Transcriptions.WithLabelValues(st.name(), "ok").Inc()
			return text, nil
		}
		metrics.Transcriptions.WithLabelValues(st.name(), outcomeLabel(err)).Inc()
		lastErr = err
		if terminal(err) || ctx.Err() != nil || sess.isStopped() {
			return "", err
		}
		if idx < len(i.strategies)-1 {
			i.logger.Warn("transcription strategy failed, falling back", "strategy", st.name(), "err", err)
		}
	}
	if lastErr == nil {
		return "", newError(KindNotSupported, nil)
	}
	return "", lastErr
}

func outcomeLabel(err error) string {
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
