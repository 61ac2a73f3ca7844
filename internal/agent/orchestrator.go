package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/topoquery/backend/internal/cache"
	"github.com/topoquery/backend/internal/metrics"
	"github.com/topoquery/backend/internal/prompt"
	"github.com/topoquery/backend/internal/similarity"
	"github.com/topoquery/backend/pkg/logger"
)

type embeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type queryCache interface {
	Lookup(ctx context.Context, questionEmbedding []float32, sessionID, question string) (*cache.Hit, bool)
	Insert(ctx context.Context, question string, questionEmbedding []float32, answer, query string) error
}

type retrievalSelector interface {
	SelectExamples(ctx context.Context, questionEmbedding []float32, metric similarity.Metric) ([]prompt.ExampleItem, error)
	SelectFeedback(ctx context.Context, questionEmbedding []float32, metric similarity.Metric) ([]prompt.ExampleItem, error)
}

type interactionLog interface {
	LogInteraction(conversationID, question, generatedQuery, answer, status string, cacheHit bool, cacheScore float64) error
}

// Request is one question through the workflow. Metric overrides the
// configured selection metric for this request only; the cache always uses
// the configured metric its stored embeddings were scored with.
type Request struct {
	Question       string
	ConversationID string
	RunMode        RunMode
	SummarizerMode SummarizerMode
	Metric         similarity.Metric
}

// Response is the terminal result of a request, successful or not.
type Response struct {
	Answer         string
	Query          string
	Status         State
	Attempts       RetryContext
	Examples       []prompt.ExampleItem
	Feedback       []prompt.ExampleItem
	EntityHints    []string
	CacheHit       bool
	CacheScore     float64
	AttemptsUsed   int
	ConversationID string
}

// Orchestrator drives the generate/validate/execute/summarize loop with a
// bounded retry budget. Fast-mode requests never enter the validation stage,
// so their attempts can never carry a validation outcome.
type Orchestrator struct {
	generator         Generator
	validator         Validator
	executor          Executor
	narrative         Summarizer
	structured        Summarizer
	provider          embeddingProvider
	cache             queryCache
	selector          retrievalSelector
	log               interactionLog
	schema            string
	maxRetries        int
	defaultRunMode    RunMode
	defaultSummarizer SummarizerMode
	logInteractions   bool
}

type OrchestratorConfig struct {
	Schema            string
	MaxRetries        int
	DefaultRunMode    RunMode
	DefaultSummarizer SummarizerMode
	LogInteractions   bool
}

func NewOrchestrator(
	generator Generator,
	validator Validator,
	executor Executor,
	narrative Summarizer,
	structured Summarizer,
	provider embeddingProvider,
	qc queryCache,
	selector retrievalSelector,
	log interactionLog,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DefaultRunMode == "" {
		cfg.DefaultRunMode = RunModeStandard
	}
	if cfg.DefaultSummarizer == "" {
		cfg.DefaultSummarizer = SummarizerNarrative
	}
	return &Orchestrator{
		generator:         generator,
		validator:         validator,
		executor:          executor,
		narrative:         narrative,
		structured:        structured,
		provider:          provider,
		cache:             qc,
		selector:          selector,
		log:               log,
		schema:            cfg.Schema,
		maxRetries:        cfg.MaxRetries,
		defaultRunMode:    cfg.DefaultRunMode,
		defaultSummarizer: cfg.DefaultSummarizer,
		logInteractions:   cfg.LogInteractions,
	}
}

// Handle runs one request to a terminal state. A cache hit short-circuits
// the whole pipeline. On exhaustion the returned error is a
// *RetriesExhaustedError carrying the complete attempt history.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	runMode := req.RunMode
	if runMode == "" {
		runMode = o.defaultRunMode
	}
	sumMode := req.SummarizerMode
	if sumMode == "" {
		sumMode = o.defaultSummarizer
	}

	resp := Response{ConversationID: req.ConversationID, Status: StateGenerate}

	// Embedding failures degrade the request: no cache, no retrieval, but
	// synthesis still proceeds on the schema alone.
	questionEmbedding, embErr := o.provider.Embed(ctx, req.Question)
	if embErr != nil {
		logger.Warn("Question embedding failed, proceeding without cache or retrieval",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(embErr),
		)
	}

	if embErr == nil && o.cache != nil {
		if hit, ok := o.cache.Lookup(ctx, questionEmbedding, req.ConversationID, req.Question); ok {
			metrics.CacheLookups.WithLabelValues("query", "hit").Inc()
			metrics.RequestsTotal.WithLabelValues("cache_hit").Inc()
			logger.Info("Cache hit",
				zap.String("conversation_id", req.ConversationID),
				zap.Float64("similarity", hit.Score),
			)
			resp.Answer = hit.Answer
			resp.Query = hit.Query
			resp.Status = StateDone
			resp.CacheHit = true
			resp.CacheScore = hit.Score
			o.logInteraction(req, hit.Query, hit.Answer, "cache_hit", true, hit.Score)
			return resp, nil
		}
		metrics.CacheLookups.WithLabelValues("query", "miss").Inc()
	}

	// Retrieval runs once per request; attempts reuse the same material.
	if embErr == nil && o.selector != nil {
		if examples, err := o.selector.SelectExamples(ctx, questionEmbedding, req.Metric); err != nil {
			logger.Warn("Example selection failed", zap.Error(err))
		} else {
			resp.Examples = examples
		}
		if feedback, err := o.selector.SelectFeedback(ctx, questionEmbedding, req.Metric); err != nil {
			logger.Warn("Feedback selection failed", zap.Error(err))
		} else {
			resp.Feedback = feedback
		}
	}
	resp.EntityHints = prompt.EntityHints(req.Question)

	var attempts RetryContext
	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		record, answer, done := o.runAttempt(ctx, req, runMode, sumMode, &resp, attempts)
		if done {
			resp.Answer = answer
			resp.Query = record.Query.Text
			resp.Status = StateDone
			resp.Attempts = attempts
			resp.AttemptsUsed = attempt
			metrics.RequestsTotal.WithLabelValues("done").Inc()
			metrics.AttemptsPerRequest.Observe(float64(attempt))

			if embErr == nil && o.cache != nil {
				if err := o.cache.Insert(ctx, req.Question, questionEmbedding, answer, record.Query.Text); err != nil {
					logger.Warn("Cache insert failed", zap.Error(err))
				}
			}
			o.logInteraction(req, record.Query.Text, answer, "done", false, 0)
			return resp, nil
		}
		attempts = append(attempts, record)
	}

	resp.Status = StateFailed
	resp.Attempts = attempts
	resp.AttemptsUsed = len(attempts)
	metrics.RequestsTotal.WithLabelValues("failed").Inc()
	metrics.AttemptsPerRequest.Observe(float64(len(attempts)))
	logger.Warn("Retries exhausted",
		zap.String("conversation_id", req.ConversationID),
		zap.Int("attempts", len(attempts)),
	)
	o.logInteraction(req, "", "", "failed", false, 0)
	return resp, &RetriesExhaustedError{Question: req.Question, Attempts: attempts}
}

// runAttempt executes one pass through the stages. It returns the attempt
// record, the answer when the pass completed, and whether it completed.
func (o *Orchestrator) runAttempt(ctx context.Context, req Request, runMode RunMode, sumMode SummarizerMode, resp *Response, prior RetryContext) (Attempt, string, bool) {
	var record Attempt

	start := time.Now()
	candidate, err := o.generator.Generate(ctx, GenerateInput{
		Question: req.Question,
		Schema:   o.schema,
		Examples: resp.Examples,
		Feedback: resp.Feedback,
		Hints:    resp.EntityHints,
		Prior:    prior,
	})
	metrics.StageDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Warn("Generation failed", zap.Int("attempt", len(prior)+1), zap.Error(err))
		record.Query = CandidateQuery{Attempt: len(prior) + 1, Origin: originFor(prior)}
		record.StageErr = err.Error()
		return record, "", false
	}
	record.Query = candidate

	if runMode == RunModeStandard && o.validator != nil {
		start = time.Now()
		outcome, err := o.validator.Validate(ctx, o.schema, candidate.Text)
		metrics.StageDuration.WithLabelValues("validate").Observe(time.Since(start).Seconds())
		if err != nil {
			logger.Warn("Validation failed", zap.Int("attempt", candidate.Attempt), zap.Error(err))
			record.StageErr = err.Error()
			return record, "", false
		}
		record.Validation = &outcome
		if !outcome.Valid {
			logger.Info("Query rejected by validator",
				zap.Int("attempt", candidate.Attempt),
				zap.String("reason", outcome.Reason),
			)
			return record, "", false
		}
	}

	start = time.Now()
	execution, err := o.executor.Execute(ctx, candidate.Text)
	metrics.StageDuration.WithLabelValues("execute").Observe(time.Since(start).Seconds())
	if err != nil {
		record.StageErr = err.Error()
		return record, "", false
	}
	record.Execution = &execution
	if !execution.Success {
		logger.Info("Query rejected by database",
			zap.Int("attempt", candidate.Attempt),
			zap.String("error", execution.Err),
		)
		return record, "", false
	}

	summarizer := o.narrative
	if sumMode == SummarizerStructured {
		summarizer = o.structured
	}
	start = time.Now()
	answer, err := summarizer.Summarize(ctx, req.Question, execution.Rows)
	metrics.StageDuration.WithLabelValues("summarize").Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Warn("Summarization failed", zap.Int("attempt", candidate.Attempt), zap.Error(err))
		record.StageErr = err.Error()
		return record, "", false
	}

	return record, answer, true
}

func (o *Orchestrator) logInteraction(req Request, query, answer, status string, cacheHit bool, cacheScore float64) {
	if !o.logInteractions || o.log == nil {
		return
	}
	if err := o.log.LogInteraction(req.ConversationID, req.Question, query, answer, status, cacheHit, cacheScore); err != nil {
		logger.Warn("Failed to log interaction", zap.Error(err))
	}
}

func originFor(prior RetryContext) QueryOrigin {
	if len(prior) > 0 {
		return OriginRepair
	}
	return OriginInitial
}
