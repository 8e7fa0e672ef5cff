package domain

// User is the authenticated principal as seen by the orchestrator.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// VideoSession is a live video-avatar conversation. SessionURL is empty for a
// local session, where answers are spoken by the host instead of the avatar.
type VideoSession struct {
	ConversationID string `json:"conversationId"`
	SessionURL     string `json:"sessionUrl"`
	Status         string `json:"status"`
}

// Delegated reports whether speech is handled by the video provider.
func (v VideoSession) Delegated() bool {
	return v.SessionURL != ""
}
