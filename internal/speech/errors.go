package speech

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a voice input failure.
type Kind string

const (
	KindPermissionDenied  Kind = "microphone-permission-denied"
	KindAccessFailed      Kind = "microphone-access-failed"
	KindNoSpeech          Kind = "no-speech-detected"
	KindNetwork           Kind = "network-error"
	KindStartFailed       Kind = "failed-to-start-recognition"
	KindRecordingFailed   Kind = "microphone-recording-failed"
	KindNotSupported      Kind = "speech-recognition-not-supported"
	KindStreamUnavailable Kind = "realtime-transcription-unavailable"
	KindAborted           Kind = "speech-recognition-aborted"
	KindAlreadyListening  Kind = "already-listening"
)

// Error is a voice input failure of a fixed Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not a speech error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// terminal kinds end the strategy chain instead of falling back.
func terminal(err error) bool {
	switch KindOf(err) {
	case KindPermissionDenied, KindAccessFailed, KindRecordingFailed:
		return true
	}
	return false
}

const remediation = "Please try again or type your question instead. If the problem persists, " +
	"check your microphone settings and internet connection."

var messages = map[Kind]string{
	KindPermissionDenied: "Microphone access was denied. Allow this terminal to use the microphone " +
		"in your system privacy settings, then try again.",
	KindAccessFailed: "Unable to access your microphone. Please check that your microphone is " +
		"connected and working properly.",
	KindNoSpeech: "No speech was detected. Please try speaking more clearly or check your " +
		"microphone volume.",
	KindNetwork: bulleted("Network error occurred during speech recognition. This could be due to:",
		"Internet connectivity issues - check your connection",
		"AssemblyAI API key issues - verify SPEECH_TOKEN in your .env file",
		"The fallback transcription service is unavailable",
	) + "\n\nCheck your network connection and try again.",
	KindStartFailed: bulleted("Failed to start speech recognition. This could be due to:",
		"No supported audio input device",
		"Microphone already in use by another application",
		"Missing or invalid AssemblyAI API key",
	) + "\n\nPlease check your audio settings and try again.",
	KindRecordingFailed: bulleted("Microphone recording failed. Please ensure:",
		"Your microphone is properly connected",
		"No other applications are using the microphone",
		"This terminal has permission to access the microphone",
	),
	KindNotSupported: bulleted("Speech recognition is not available. This could be due to:",
		"No speech recognizer configured (set OPEN_AI_TOKEN for the fallback recognizer)",
		"AssemblyAI API key is missing or invalid",
		"Network connectivity issues",
	) + "\n\nPlease check SPEECH_TOKEN in your .env file and ensure you have a stable internet connection.",
	KindStreamUnavailable: "Real-time speech recognition service is unavailable. Please check SPEECH_TOKEN " +
		"in your .env file and ensure you have a valid AssemblyAI API key.",
	KindAborted:          "Speech recognition was interrupted. " + remediation,
	KindAlreadyListening: "Voice input is already in progress.",
}

func bulleted(head string, items ...string) string {
	var b strings.Builder
	b.WriteString(head)
	b.WriteString("\n")
	for _, it := range items {
		b.WriteString("\n• ")
		b.WriteString(it)
	}
	return b.String()
}

// Message renders err as the text shown to the user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if msg, ok := messages[KindOf(err)]; ok {
		return msg
	}
	return fmt.Sprintf("Voice input error: %s\n\n%s", err.Error(), remediation)
}
