package tavus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct{ val string }

func (f fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	return f.val, nil
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(fakeGetter{val: `{"token":"tv-key"}`}, "/intellect", WithBaseURL(srv.URL))
	require.NoError(t, err)
	return c
}

func TestCreateConversation_HappyPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/conversations", r.URL.Path)
		require.Equal(t, "tv-key", r.Header.Get("x-api-key"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "p-123", body.PersonaID)
		require.Equal(t, 3600, body.Properties.MaxCallDuration)
		require.Equal(t, 60, body.Properties.ParticipantLeftTimeout)
		require.Equal(t, 300, body.Properties.ParticipantAbsentTimeout)

		_, _ = w.Write([]byte(`{"conversation_id":"c-1","conversation_url":"https://tavus.daily.co/c-1","status":"active"}`))
	})

	conv, err := c.CreateConversation(context.Background(), "p-123")
	require.NoError(t, err)
	require.Equal(t, Conversation{ID: "c-1", URL: "https://tavus.daily.co/c-1", Status: "active"}, conv)
}

func TestCreateConversation_DefaultsStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"conversation_id":"c-1","conversation_url":"https://x"}`))
	})
	conv, err := c.CreateConversation(context.Background(), "p-123")
	require.NoError(t, err)
	require.Equal(t, "created", conv.Status)
}

func TestCreateConversation_MissingFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"conversation_id":"c-1"}`))
	})
	_, err := c.CreateConversation(context.Background(), "p-123")
	require.ErrorContains(t, err, "conversation_url")

	c = newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"conversation_url":"https://x"}`))
	})
	_, err = c.CreateConversation(context.Background(), "p-123")
	require.ErrorContains(t, err, "conversation_id")

	c = newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`oops`))
	})
	_, err = c.CreateConversation(context.Background(), "p-123")
	require.ErrorContains(t, err, "decode response")
}

func TestCreateConversation_StatusErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrInvalidKey},
		{http.StatusNotFound, ErrInvalidPersona},
		{http.StatusForbidden, ErrAccessDenied},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
		})
		_, err := c.CreateConversation(context.Background(), "p-123")
		require.ErrorIs(t, err, tc.want)
	}

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"persona is not ready"}`))
	})
	_, err := c.CreateConversation(context.Background(), "p-123")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadRequest, statusErr.HTTPStatusCode())
	require.Equal(t, "persona is not ready", statusErr.Message)
}

func TestCreateConversation_RejectsPlaceholderPersona(t *testing.T) {
	c, err := NewClient(fakeGetter{val: "k"}, "/intellect")
	require.NoError(t, err)
	_, err = c.CreateConversation(context.Background(), "your_tavus_persona_id")
	require.ErrorIs(t, err, ErrInvalidPersona)
	_, err = c.CreateConversation(context.Background(), " ")
	require.ErrorIs(t, err, ErrInvalidPersona)
}

func TestGetAndEndConversation(t *testing.T) {
	var methods []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/conversations/c-1", r.URL.Path)
		require.Equal(t, "tv-key", r.Header.Get("x-api-key"))
		methods = append(methods, r.Method)
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"conversation_id":"c-1","conversation_url":"https://x","status":"ended"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	conv, err := c.GetConversation(context.Background(), "c-1")
	require.NoError(t, err)
	require.Equal(t, "ended", conv.Status)
	require.NoError(t, c.EndConversation(context.Background(), "c-1"))
	require.Equal(t, []string{http.MethodGet, http.MethodDelete}, methods)

	require.Error(t, c.EndConversation(context.Background(), ""))
}

func TestEndConversation_NotFoundIsPlainStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	err := c.EndConversation(context.Background(), "c-1")
	require.NotErrorIs(t, err, ErrInvalidPersona)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, "unknown error", statusErr.Message)
}
