package reasoner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ModelClient is a single-turn, low-temperature text generation call.
// Every implementation must be safe to call concurrently.
type ModelClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Provider names the generative backends this package has a ModelClient
// for (NewGeminiClient, NewAnthropicClient, NewBedrockClient).
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

const (
	modelTemperature = 0.2
	modelMaxTokens   = 1024
)

// geminiClient is the primary ModelClient, matching the original's
// `gemini_reasoner.py` backend.
type geminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient builds the primary Reasoner backend.
func NewGeminiClient(ctx context.Context, apiKey, model string) (ModelClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("constructing gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &geminiClient{client: client, model: model}, nil
}

func (g *geminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	m := g.client.GenerativeModel(g.model)
	temp := float32(modelTemperature)
	m.Temperature = &temp
	maxTokens := int32(modelMaxTokens)
	m.MaxOutputTokens = &maxTokens

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("gemini returned a non-text part")
	}
	return string(text), nil
}

// anthropicModelClient is an alternate backend behind the same interface,
// used when the deployment is configured for Claude instead of Gemini.
type anthropicModelClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient builds an alternate Reasoner backend.
func NewAnthropicClient(apiKey, model string) ModelClient {
	if model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}
	c := anthropic.NewClient(anthropicoption.WithAPIKey(apiKey))
	return &anthropicModelClient{client: &c, model: model}
}

func (a *anthropicModelClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   modelMaxTokens,
		Temperature: anthropic.Float(modelTemperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic generation: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("anthropic returned no content blocks")
	}
	return resp.Content[0].Text, nil
}

// bedrockModelClient is a third alternate backend, for deployments that
// standardize on AWS Bedrock for model access.
type bedrockModelClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockClient builds an alternate Reasoner backend against AWS
// Bedrock, loading credentials from the standard AWS config chain.
func NewBedrockClient(ctx context.Context, region, modelID string) (ModelClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if modelID == "" {
		modelID = "anthropic.claude-3-5-haiku-20241022-v1:0"
	}
	return &bedrockModelClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

func (b *bedrockModelClient) Generate(ctx context.Context, prompt string) (string, error) {
	body := fmt.Sprintf(`{"anthropic_version":"bedrock-2023-05-31","max_tokens":%d,"temperature":%.2f,"messages":[{"role":"user","content":%q}]}`,
		modelMaxTokens, modelTemperature, prompt)

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &b.modelID,
		Body:        []byte(body),
		ContentType: strPtr("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke: %w", err)
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return "", fmt.Errorf("decoding bedrock response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("bedrock returned no content blocks")
	}
	return parsed.Content[0].Text, nil
}

func strPtr(s string) *string { return &s }
