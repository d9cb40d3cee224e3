package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"buglens/internal/metrics"
)

const (
	defaultMaxAttempts = 2
	defaultBaseDelay   = 2 * time.Second
)

// Placeholder texts returned when the model reply cannot be decoded.
const (
	PlaceholderRootCause     = "Response Truncated"
	PlaceholderExplanation   = "The AI response was too long and got cut off. Please try with shorter code or error messages."
	PlaceholderSuggestedFix  = "Reduce the length of your error logs or source code, then try again."
	PlaceholderCorrectedCode = ""
)

const systemPrompt = `You are an expert code debugging assistant. Analyze the code error you are given and provide a detailed analysis.

Respond with exactly one JSON object with these string fields:
{
  "rootCause": "Brief description of the root cause",
  "explanation": "Detailed explanation of what's causing the error and why it happens",
  "suggestedFix": "Step-by-step instructions on how to fix the issue",
  "correctedCode": "The complete corrected version of the source code"
}

IMPORTANT: Return ONLY the JSON object. No markdown formatting, no code blocks, no text before or after it.`

// Result is the structured analysis extracted from a model reply.
type Result struct {
	RootCause     string `json:"rootCause"`
	Explanation   string `json:"explanation"`
	SuggestedFix  string `json:"suggestedFix"`
	CorrectedCode string `json:"correctedCode"`

	// Placeholder is set when the reply was not decodable and the fixed
	// apology texts were substituted.
	Placeholder  bool   `json:"-"`
	Model        string `json:"-"`
	Attempts     int    `json:"-"`
	FinishReason string `json:"-"`
}

// PlaceholderResult is returned for replies that are not valid analysis JSON.
func PlaceholderResult() Result {
	return Result{
		RootCause:     PlaceholderRootCause,
		Explanation:   PlaceholderExplanation,
		SuggestedFix:  PlaceholderSuggestedFix,
		CorrectedCode: PlaceholderCorrectedCode,
		Placeholder:   true,
	}
}

// AnalyzerConfig tunes the retry loop.
type AnalyzerConfig struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt; it doubles after each further failure.
	BaseDelay time.Duration
	// AttemptTimeout bounds each provider call; zero leaves it to the generator.
	AttemptTimeout time.Duration
	Logger         *slog.Logger
}

// Analyzer turns a debugging request into a Result using a Generator.
type Analyzer struct {
	gen            Generator
	maxAttempts    int
	baseDelay      time.Duration
	attemptTimeout time.Duration
	logger         *slog.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewAnalyzer wraps gen with prompt construction, retries and parsing.
func NewAnalyzer(gen Generator, cfg AnalyzerConfig) *Analyzer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Analyzer{
		gen:            gen,
		maxAttempts:    cfg.MaxAttempts,
		baseDelay:      cfg.BaseDelay,
		attemptTimeout: cfg.AttemptTimeout,
		logger:         cfg.Logger,
		sleep:          sleepContext,
	}
}

// Analyze asks the model for a root-cause analysis.
//
// Transport failures and empty replies are retried sequentially with
// exponential backoff; exhausting the attempts yields an *Error of that kind.
// A truncated reply fails immediately with KindTruncated. A reply that is not
// decodable JSON yields PlaceholderResult and a nil error.
func (a *Analyzer) Analyze(ctx context.Context, language, errorLogs, sourceCode string) (Result, error) {
	start := time.Now()
	userPrompt := BuildUserPrompt(language, errorLogs, sourceCode)

	var lastErr error
	lastKind := KindTransport
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		a.logger.InfoContext(ctx, "calling ai provider", "attempt", attempt, "max_attempts", a.maxAttempts)
		gen, err := a.generate(ctx, userPrompt)
		if err == nil {
			if gen.Truncated() {
				a.logger.WarnContext(ctx, "ai response truncated", "finish_reason", gen.FinishReason, "attempt", attempt)
				metrics.ObserveAI(metrics.OutcomeTruncated, time.Since(start))
				return Result{}, &Error{Kind: KindTruncated, Attempts: attempt, Err: fmt.Errorf("finish reason %s", gen.FinishReason)}
			}
			result, parseErr := parseResult(gen.Text)
			if parseErr != nil {
				a.logger.WarnContext(ctx, "ai response not decodable, returning placeholder", "err", parseErr, "attempt", attempt)
				result = PlaceholderResult()
				metrics.ObserveAI(metrics.OutcomePlaceholder, time.Since(start))
			} else {
				metrics.ObserveAI(metrics.OutcomeSuccess, time.Since(start))
			}
			result.Model = gen.Model
			result.Attempts = attempt
			result.FinishReason = gen.FinishReason
			return result, nil
		}

		lastErr = err
		lastKind = KindTransport
		if errors.Is(err, errNoCandidates) {
			lastKind = KindEmpty
		}
		a.logger.ErrorContext(ctx, "ai call failed", "err", err, "attempt", attempt, "max_attempts", a.maxAttempts)
		if ctx.Err() != nil {
			metrics.ObserveAI(metrics.OutcomeFailed, time.Since(start))
			return Result{}, &Error{Kind: lastKind, Attempts: attempt, Err: err}
		}
		if attempt < a.maxAttempts {
			delay := a.backoff(attempt)
			a.logger.InfoContext(ctx, "retrying ai call", "delay", delay.String())
			if err := a.sleep(ctx, delay); err != nil {
				metrics.ObserveAI(metrics.OutcomeFailed, time.Since(start))
				return Result{}, &Error{Kind: lastKind, Attempts: attempt, Err: errors.Join(lastErr, err)}
			}
		}
	}
	metrics.ObserveAI(metrics.OutcomeFailed, time.Since(start))
	return Result{}, &Error{Kind: lastKind, Attempts: a.maxAttempts, Err: lastErr}
}

func (a *Analyzer) generate(ctx context.Context, userPrompt string) (Generation, error) {
	if a.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.attemptTimeout)
		defer cancel()
	}
	return a.gen.Generate(ctx, systemPrompt, userPrompt)
}

// backoff returns the wait after the given failed attempt (1-based).
func (a *Analyzer) backoff(attempt int) time.Duration {
	return a.baseDelay << (attempt - 1)
}

// BuildUserPrompt renders the request part of the prompt.
func BuildUserPrompt(language, errorLogs, sourceCode string) string {
	var b strings.Builder
	b.WriteString("**Programming Language:** ")
	b.WriteString(language)
	b.WriteString("\n\n**Error Logs:**\n```\n")
	b.WriteString(errorLogs)
	b.WriteString("\n```\n\n**Source Code:**\n```")
	b.WriteString(strings.ToLower(strings.Join(strings.Fields(language), "")))
	b.WriteString("\n")
	b.WriteString(sourceCode)
	b.WriteString("\n```\n")
	return b.String()
}

var errEmptyResult = errors.New("reply has no analysis fields")

func parseResult(text string) (Result, error) {
	var r Result
	if err := decodeLenient(stripFences(text), &r); err != nil {
		return Result{}, err
	}
	// null and {} decode cleanly but carry nothing
	if strings.TrimSpace(r.RootCause) == "" && strings.TrimSpace(r.Explanation) == "" &&
		strings.TrimSpace(r.SuggestedFix) == "" && strings.TrimSpace(r.CorrectedCode) == "" {
		return Result{}, errEmptyResult
	}
	return r, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
