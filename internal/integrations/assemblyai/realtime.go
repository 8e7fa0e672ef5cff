// Package assemblyai implements the AssemblyAI realtime transcription
// websocket protocol.
package assemblyai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"intellect/internal/integrations/paramstore"
)

const (
	defaultURL        = "wss://api.assemblyai.com/v2/realtime/ws"
	tokenParameter    = "speech-token"
	DefaultSampleRate = 16000
	handshakeTimeout  = 10 * time.Second
	writeTimeout      = 5 * time.Second
)

// Message types sent by the service.
const (
	MessagePartialTranscript = "PartialTranscript"
	MessageFinalTranscript   = "FinalTranscript"
	MessageSessionBegins     = "SessionBegins"
	MessageSessionTerminated = "SessionTerminated"
)

// Event is one message received from the service.
type Event struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type audioMessage struct {
	AudioData string `json:"audio_data"`
}

type terminateMessage struct {
	TerminateSession bool `json:"terminate_session"`
}

// Client opens realtime transcription sessions.
type Client struct {
	url        string
	sampleRate int
	token      *paramstore.Token
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

type Option func(*Client)

// WithURL overrides the websocket endpoint.
func WithURL(u string) Option {
	return func(c *Client) {
		c.url = strings.TrimSpace(u)
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Client) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a Client whose key is read from <paramPrefix>/speech-token.
func NewClient(ps paramstore.Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("assemblyai: paramstore getter must not be nil")
	}
	if strings.TrimSpace(paramPrefix) == "" {
		return nil, errors.New("assemblyai: parameter prefix must not be empty")
	}
	c := &Client{
		url:        defaultURL,
		sampleRate: DefaultSampleRate,
		token:      paramstore.NewToken(ps, paramstore.Join(paramPrefix, tokenParameter)),
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Configured reports whether a usable credential is available.
func (c *Client) Configured(ctx context.Context) bool {
	_, err := c.token.Value(ctx)
	return err == nil
}

// Connect dials a new session. The caller must Close it.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	apiKey, err := c.token.Value(ctx)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: resolve api key: %w", err)
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: parse url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(c.sampleRate))
	q.Set("token", apiKey)
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("assemblyai: connect (status %d): %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), err)
		}
		return nil, fmt.Errorf("assemblyai: connect: %w", err)
	}

	s := &Session{
		conn:    conn,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		logger:  c.logger,
	}
	go s.readLoop()
	return s, nil
}

// Session is one open realtime connection. Events is closed, then Done,
// when the connection ends.
type Session struct {
	conn    *websocket.Conn
	events  chan Event
	done    chan struct{}
	closing chan struct{}
	logger  *slog.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (s *Session) readLoop() {
	defer func() {
		_ = s.conn.Close()
		close(s.events)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			s.setErr(err)
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Debug("assemblyai: skipping undecodable message", "err", err)
			continue
		}
		if ev.Error != "" {
			s.setErr(fmt.Errorf("assemblyai: %s", ev.Error))
			return
		}
		select {
		case s.events <- ev:
		case <-s.closing:
			return
		}
		if ev.MessageType == MessageSessionTerminated {
			return
		}
	}
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Events delivers decoded service messages.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once the connection has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the connection ended. It is nil after a normal closure or
// a SessionTerminated message.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// SendAudio sends one chunk of 16-bit mono PCM.
func (s *Session) SendAudio(pcm []byte) error {
	return s.writeJSON(audioMessage{AudioData: base64.StdEncoding.EncodeToString(pcm)})
}

// Terminate asks the service to flush and end the session.
func (s *Session) Terminate() error {
	return s.writeJSON(terminateMessage{TerminateSession: true})
}

func (s *Session) writeJSON(v any) error {
	if s.closed.Load() {
		return errors.New("assemblyai: session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("assemblyai: write: %w", err)
	}
	return nil
}

// Close sends a normal close frame and releases the connection. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closing)
		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}
