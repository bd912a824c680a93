// Package completion turns a candidate plus organization and template
// settings into one provider request and shapes the answer.
package completion

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/quill/internal/config"
	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/internal/service/metrics"
	"github.com/ifuryst/quill/internal/service/provider"
	"github.com/ifuryst/quill/internal/service/usage"
)

// UsageSink receives one entry per successful completion.
type UsageSink interface {
	Record(ctx context.Context, e usage.Entry)
}

type Request struct {
	Organization *models.Organization
	Template     *models.PromptTemplate
	Input
	AccountID string
	// SessionID scopes sentence starter tracking.
	SessionID string
	Overrides Overrides
}

type Result struct {
	Text         string   `json:"text"`
	Items        []string `json:"items,omitempty"`
	Success      bool     `json:"success"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Attempts     int      `json:"attempts"`
	Prompt       string   `json:"-"`
}

type Orchestrator struct {
	provider provider.Provider
	bias     *BiasBuilder
	starters StarterTracker
	usage    UsageSink
	shapers  *Shapers
	retry    *RetryPolicy
	defaults Defaults
	budget   Budget
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Orchestrator)

func WithRetryPolicy(p *RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.retry = p
	}
}

func WithStarterTracker(t StarterTracker) Option {
	return func(o *Orchestrator) {
		o.starters = t
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithShapers(s *Shapers) Option {
	return func(o *Orchestrator) {
		o.shapers = s
	}
}

// WithRand fixes the source of intro and starter choices.
func WithRand(r *rand.Rand) Option {
	return func(o *Orchestrator) {
		o.rng = r
	}
}

// WithGeneration applies the generation and provider sections of the
// service configuration.
func WithGeneration(gen config.GenerationConfig, prov config.ProviderConfig) Option {
	return func(o *Orchestrator) {
		o.defaults = Defaults{Engine: prov.Engine, Temperature: gen.Temperature}
		o.budget = Budget{
			ParagraphTokensPerUnit: gen.ParagraphTokensPerUnit,
			ListTokensPerUnit:      gen.ListTokensPerUnit,
			ContinuationMaxTokens:  gen.ContinuationMaxTokens,
		}
		o.retry = NewRetryPolicy(WithMaxAttempts(prov.MaxAttempts), WithDelay(prov.RetryDelay))
		o.bias.boostWeight = gen.BoostWeight
		o.bias.suppressWeight = gen.SuppressWeight
	}
}

func NewOrchestrator(p provider.Provider, tokenizer provider.Tokenizer, sink UsageSink, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: p,
		bias:     NewBiasBuilder(tokenizer, 5, -100),
		starters: NewMemoryStarters(),
		usage:    sink,
		shapers:  DefaultShapers(),
		retry:    DefaultRetryPolicy(),
		defaults: Defaults{Engine: "gpt-3.5-turbo-instruct", Temperature: 0.7},
		budget: Budget{
			ParagraphTokensPerUnit: 40,
			ListTokensPerUnit:      30,
			ContinuationMaxTokens:  100,
		},
		logger: logger,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Complete runs one generation. Failures come back both as a Result with
// Success false and as an error: *ValidationError before any provider call,
// *ProviderError when the provider kept failing.
func (o *Orchestrator) Complete(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.Organization == nil || req.Template == nil {
		return o.reject(&ValidationError{Field: "template", Message: "An organization and a template are required."})
	}

	s := Resolve(o.defaults, req.Organization, req.Template, req.Overrides)
	if s.RequiresTopic && req.Input.topic() == "" {
		return o.reject(&ValidationError{Field: "topic", Message: fmt.Sprintf("Please enter a topic for %s.", s.Component)})
	}
	if s.RequiresHeader && strings.TrimSpace(req.Header) == "" {
		return o.reject(&ValidationError{Field: "header", Message: fmt.Sprintf("Please enter a header for %s.", s.Component)})
	}

	shaper, err := o.shapers.Get(s.Shape)
	if err != nil {
		return o.reject(&ValidationError{Field: "shape", Message: err.Error()})
	}

	continuing := req.continuing()
	a := o.assemble(ctx, s, req.Input, req.SessionID)

	call := provider.Request{
		Prompt:           a.prompt,
		Model:            s.Engine,
		MaxTokens:        MaxTokens(s, continuing, o.budget),
		Temperature:      s.Temperature,
		TopP:             s.TopP,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
		Stop:             StopSequences(s, continuing),
		LogitBias:        o.bias.Build(s, req.Candidate),
	}

	var (
		resp     *provider.Response
		attempts int
	)
	err = o.retry.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		attempts++
		r, err := o.provider.Generate(ctx, call)
		if err != nil {
			o.metrics.ProviderAttempt(0)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ProviderError{Err: err}
		}
		o.metrics.ProviderAttempt(r.StatusCode)
		if !r.OK() {
			return &ProviderError{StatusCode: r.StatusCode, Message: r.Message}
		}
		resp = r
		return nil
	}, func(attempt int, err error) {
		o.logger.Warn("Completion attempt failed, retrying",
			zap.String("template", s.Component),
			zap.String("engine", s.Engine),
			zap.Int("attempt", attempt),
			zap.Error(err))
	})
	if err != nil {
		o.metrics.Generation(string(s.Shape), "failed", time.Since(start).Seconds())
		o.logger.Error("Completion failed",
			zap.String("template", s.Component),
			zap.String("engine", s.Engine),
			zap.Int("max_tokens", call.MaxTokens),
			zap.Float64("temperature", call.Temperature),
			zap.Int("attempts", attempts),
			zap.Error(err))

		result := &Result{Success: false, Attempts: attempts, Prompt: a.prompt}
		var perr *ProviderError
		if errors.As(err, &perr) {
			result.ErrorMessage = perr.UserMessage()
			return result, perr
		}
		result.ErrorMessage = err.Error()
		return result, err
	}

	generated := resp.Text
	if continuing && resp.FinishReason == "stop" && !endsSentence(generated) {
		// The stop sequence itself is not returned.
		generated = strings.TrimRight(generated, " ") + "."
	}

	out := shaper.Apply(a.lead+generated, s)
	if strings.TrimSpace(out.Text) == "" {
		o.metrics.Generation(string(s.Shape), "empty", time.Since(start).Seconds())
		return &Result{Success: false, ErrorMessage: ErrEmptyOutput.Error(), Attempts: attempts, Prompt: a.prompt}, ErrEmptyOutput
	}

	if o.usage != nil {
		o.usage.Record(ctx, usage.Entry{
			OrganizationID:   req.Organization.ID,
			AccountID:        req.AccountID,
			ComponentName:    s.Component,
			Topic:            req.Input.topic(),
			Prompt:           a.prompt,
			RequestParams:    call,
			ProviderResponse: resp.Raw,
			FinalText:        out.Text,
		})
	}

	o.metrics.Generation(string(s.Shape), "success", time.Since(start).Seconds())
	return &Result{
		Text:     out.Text,
		Items:    out.Items,
		Success:  true,
		Attempts: attempts,
		Prompt:   a.prompt,
	}, nil
}

func (o *Orchestrator) reject(err *ValidationError) (*Result, error) {
	o.metrics.Generation("none", "invalid", 0)
	return &Result{Success: false, ErrorMessage: err.Message}, err
}

func (o *Orchestrator) intn(n int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rng.IntN(n)
}
