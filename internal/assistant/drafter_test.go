package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/line-relay/internal/models"
	"go.uber.org/zap"
)

func TestSuggestReplyUsesLatestHistory(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		prompt = req.Messages[len(req.Messages)-1].Content

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  Thanks, we will check.  "},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	d := NewDrafter(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-test", MaxTokens: 100}, zap.NewNop())

	history := make([]models.StoredMessage, 0, 12)
	for i := 1; i <= 12; i++ {
		history = append(history, models.StoredMessage{ID: int64(i), UserID: "U1", Message: fmt.Sprintf("message %02d", i)})
	}

	draft, err := d.SuggestReply(context.Background(), "U1", history)

	require.NoError(t, err)
	assert.Equal(t, "Thanks, we will check.", draft)
	assert.NotContains(t, prompt, "message 02")
	assert.True(t, strings.Contains(prompt, "message 03") && strings.Contains(prompt, "message 12"))
}

func TestSuggestReplyWithoutHistorySkipsAPI(t *testing.T) {
	d := NewDrafter(Options{APIKey: "sk-test", BaseURL: "http://127.0.0.1:1/v1"}, zap.NewNop())

	draft, err := d.SuggestReply(context.Background(), "U1", nil)

	require.NoError(t, err)
	assert.Empty(t, draft)
}

func TestSuggestReplyReportsAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	d := NewDrafter(Options{APIKey: "sk-bad", BaseURL: srv.URL + "/v1"}, zap.NewNop())

	_, err := d.SuggestReply(context.Background(), "U1", []models.StoredMessage{{ID: 1, UserID: "U1", Message: "hi"}})

	assert.Error(t, err)
}
