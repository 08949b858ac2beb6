package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/line-relay/internal/models"
	"go.uber.org/zap"
)

// historyLimit caps how many of the user's latest messages go into the prompt.
const historyLimit = 10

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Drafter asks a chat completion model for a reply the operator can edit
// before sending. Drafts are never pushed automatically.
type Drafter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewDrafter(opts Options, logger *zap.Logger) *Drafter {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &Drafter{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		logger:      logger,
	}
}

func (d *Drafter) SuggestReply(ctx context.Context, userID string, history []models.StoredMessage) (string, error) {
	if len(history) == 0 {
		return "", nil
	}
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}

	var conversation strings.Builder
	for _, m := range history {
		fmt.Fprintf(&conversation, "- %s\n", m.Message)
	}

	prompt := fmt.Sprintf(`A customer wrote the following messages to our support account, oldest first:

%s
Write a short, polite reply from a member of staff that answers the latest message.
Reply in the customer's language. Return only the reply text.`, conversation.String())

	resp, err := d.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: d.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You help support staff answer LINE messages.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   d.maxTokens,
			Temperature: float32(d.temperature),
		},
	)
	if err != nil {
		d.logger.Error("Failed to get draft reply", zap.Error(err), zap.String("user_id", userID))
		return "", fmt.Errorf("draft reply: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("draft reply: empty completion")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
