// Package llm classifies conversation transcripts into structured analyses
// using an OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/valter-silva-au/ai-kanban/pkg/models"
	"go.uber.org/zap"
)

// ToolName is the function the model is asked to call with its analysis.
const ToolName = "analyze_conversation"

// Completion is one model reply: the arguments of the analysis tool call when
// the model made one, otherwise its plain content.
type Completion struct {
	Model     string
	Arguments string
	Content   string
}

// Completer sends one classification prompt to a model.
type Completer interface {
	Complete(ctx context.Context, system, user string) (*Completion, error)
}

// Classifier turns transcripts into analyses with retries around the model.
type Classifier struct {
	completer Completer
	policy    RetryPolicy
	logger    *zap.Logger
}

// NewClassifier wraps completer with policy.
func NewClassifier(completer Completer, policy RetryPolicy, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{completer: completer, policy: policy, logger: logger}
}

// NewOpenAIClassifier builds a Classifier backed by the chat completions API.
func NewOpenAIClassifier(cfg models.LLMConfig, apiKey string, logger *zap.Logger) *Classifier {
	policy := DefaultRetryPolicy(cfg.MaxRetries)
	return NewClassifier(NewOpenAICompleter(apiKey, cfg.Model, cfg.BaseURL), policy, logger)
}

// Classify asks the model for an analysis of transcript against funnels and
// returns it together with the model name that produced it. Only payloads
// carrying both the funnel and service-quality sections are returned.
func (c *Classifier) Classify(ctx context.Context, transcript string, funnels []models.FunnelConfig) (*models.AnalysisResult, string, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, "", fmt.Errorf("classify: transcript is empty")
	}

	system := SystemPrompt(funnels)
	var (
		result *models.AnalysisResult
		model  string
	)

	policy := c.policy
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		c.logger.Warn("classifier call failed, retrying",
			zap.Error(err), zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
	}

	err := Retry(ctx, policy, func() error {
		comp, err := c.completer.Complete(ctx, system, transcript)
		if err != nil {
			return err
		}
		raw := comp.Arguments
		if raw == "" {
			raw = comp.Content
		}
		a, err := DecodeAnalysis(raw)
		if err != nil {
			return err
		}
		if a.FunnelAnalysis == nil || a.ServiceQuality == nil {
			return fmt.Errorf("%w: missing funnelAnalysis or serviceQuality", ErrUnreadableResponse)
		}
		result, model = a, comp.Model
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("classify: %w", err)
	}

	c.logger.Debug("conversation classified",
		zap.String("model", model),
		zap.String("funnel", result.FunnelAnalysis.Type),
		zap.Float64("score", result.FunnelAnalysis.Score))
	return result, model, nil
}

// SystemPrompt describes the expected analysis and the configured funnels and
// their stages so the model only proposes known names.
func SystemPrompt(funnels []models.FunnelConfig) string {
	var b strings.Builder
	b.WriteString("You analyze sales and support conversations for a Kanban board.\n")
	b.WriteString("Call the " + ToolName + " function exactly once with your analysis.\n")
	b.WriteString("funnelAnalysis.score and serviceQuality.score are numbers from 0 to 100.\n")
	b.WriteString("Only report value when the customer states a concrete amount.\n")
	if len(funnels) == 0 {
		return b.String()
	}
	b.WriteString("\nFunnel types and their lifecycle stages:\n")
	for _, f := range funnels {
		fmt.Fprintf(&b, "- %s (%s)", f.FunnelType, f.DisplayName)
		if f.IsMonetary {
			b.WriteString(" [monetary]")
		}
		b.WriteString(":")
		for i, s := range f.Stages {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, " %s", s.StageName)
			if s.IsTerminal {
				b.WriteString(" (terminal)")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// analysisSchema is the JSON schema of the analysis tool arguments.
func analysisSchema() map[string]any {
	num := map[string]any{"type": "number"}
	str := map[string]any{"type": "string"}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": str,
			"funnelAnalysis": map[string]any{
				"type":       "object",
				"properties": map[string]any{"score": num, "type": str},
				"required":   []string{"score", "type"},
			},
			"serviceQuality": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"score":       num,
					"suggestions": map[string]any{"type": "array", "items": str},
				},
				"required": []string{"score"},
			},
			"lifecycleDetection": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"currentStage":     str,
					"reasoning":        str,
					"progressEstimate": num,
					"isTerminal":       map[string]any{"type": "boolean"},
				},
			},
			"leadData":           map[string]any{"type": "object"},
			"customFields":       map[string]any{"type": "object"},
			"subject":            str,
			"productItem":        str,
			"value":              num,
			"conversationStatus": str,
			"winConfirmation":    str,
			"lossReason":         str,
		},
		"required": []string{"summary", "funnelAnalysis", "serviceQuality"},
	}
}

// OpenAICompleter implements Completer with the chat completions API.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

// NewOpenAICompleter creates a completer. baseURL selects an
// OpenAI-compatible provider when set.
func NewOpenAICompleter(apiKey, model, baseURL string) *OpenAICompleter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompleter{client: openai.NewClient(opts...), model: model}
}

// Complete sends system and user messages with the analysis tool attached.
func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (*Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Tools: []openai.ChatCompletionToolParam{{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        ToolName,
				Description: openai.String("Record the structured analysis of the conversation."),
				Parameters:  openai.FunctionParameters(analysisSchema()),
			},
		}},
		Temperature: openai.Float(0),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrUnreadableResponse)
	}

	msg := resp.Choices[0].Message
	out := &Completion{Model: resp.Model, Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == ToolName {
			out.Arguments = tc.Function.Arguments
			break
		}
	}
	if out.Model == "" {
		out.Model = c.model
	}
	return out, nil
}
