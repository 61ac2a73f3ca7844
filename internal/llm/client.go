package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/topoquery/backend/pkg/circuitbreaker"
	"github.com/topoquery/backend/pkg/logger"
	"github.com/topoquery/backend/pkg/retry"
)

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.Breaker
	retryConfig    retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens, timeoutSec int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
		MaxProbes:        5,
	})

	retryConfig := retry.Config{
		Attempts: 3,
		BaseWait: 500 * time.Millisecond,
		MaxWait:  5 * time.Second,
	}

	if timeoutSec <= 0 {
		timeoutSec = 30
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		timeout:        time.Duration(timeoutSec) * time.Second,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Do(func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32

	err := c.cb.Do(func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var embeddings [][]float32

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[i:end]

		err := c.cb.Do(func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(
					ctx,
					openai.EmbeddingRequest{
						Input: batch,
						Model: openai.EmbeddingModel(c.embeddingModel),
					},
				)

				if err != nil {
					return fmt.Errorf("failed to generate batch embeddings: %w", err)
				}

				for _, data := range resp.Data {
					embedding := make([]float32, len(data.Embedding))
					copy(embedding, data.Embedding)
					embeddings = append(embeddings, embedding)
				}

				return nil
			})
		})

		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// GenerateCypher produces one candidate Cypher query from the assembled prompt.
// The prompt carries schema, selected examples, feedback and any repair notes;
// this method only runs the model and strips code fences from the output.
func (c *Client) GenerateCypher(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate cypher: %w", err)
	}

	query := strings.TrimSpace(resp.Content)
	query = strings.ReplaceAll(query, "```cypher", "")
	query = strings.ReplaceAll(query, "```", "")
	return strings.TrimSpace(query), nil
}

const validationSystemPrompt = `You are an expert Neo4j syntax validator. Determine whether the given Cypher query is syntactically correct for the provided schema. Do not execute the query or check whether data exists; focus exclusively on syntax.

- Check for correct Cypher keywords (MATCH, WHERE, RETURN, ...).
- Check for balanced parentheses (), brackets [] and curly braces {}.
- Check for typos in relationship types, labels and properties based on the schema.

Respond with a single line: 'valid' if the query is syntactically correct, or 'invalid: <short reason>' if it is not.`

// ValidateCypher performs a syntax-only pre-check of a candidate query.
func (c *Client) ValidateCypher(ctx context.Context, schema, query string) (bool, string, error) {
	userPrompt := fmt.Sprintf("# Neo4j Schema:\n%s\n\n# Cypher Query to Validate:\n%s", schema, query)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: validationSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    200,
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to validate cypher: %w", err)
	}

	verdict := strings.TrimSpace(strings.ToLower(resp.Content))
	if strings.HasPrefix(verdict, "invalid") {
		reason := strings.TrimSpace(strings.TrimPrefix(verdict, "invalid"))
		reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
		if reason == "" {
			reason = "query has invalid syntax"
		}
		return false, reason, nil
	}
	return true, "", nil
}

const summarizerSystemPrompt = `You are an expert data analyst. Provide a clear, concise and friendly summary of the data returned from a database query. The user asked a question, a query was run against a graph database, and it returned the following JSON data. Synthesize this information into a natural language response that directly answers the user's original question. Do not just restate the data; interpret it and present it in a helpful way. If the data is empty, inform the user that no results were found.`

// SummarizeRows renders the raw result rows into a natural-language answer.
func (c *Client) SummarizeRows(ctx context.Context, question, rowsJSON string) (string, error) {
	userPrompt := fmt.Sprintf("# User's Original Question:\n%s\n\n# JSON Query Result:\n%s\n\n# Your Summary:", question, rowsJSON)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: summarizerSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize result: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}
