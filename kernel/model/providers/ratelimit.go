package providers

import (
	"context"
	"iter"

	"golang.org/x/time/rate"

	"github.com/OnslaughtSnail/rostra/kernel/model"
)

type rateLimitedLLM struct {
	model.LLM
	provider string
	limiter  *rate.Limiter
}

// WithRateLimit throttles Generate calls on llm to rps with the given burst.
// A non-positive rps returns llm unchanged.
func WithRateLimit(llm model.LLM, provider string, rps float64, burst int) model.LLM {
	if llm == nil || rps <= 0 {
		return llm
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedLLM{
		LLM:      llm,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (l *rateLimitedLLM) Generate(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if err := l.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			yield(nil, &model.ProviderError{
				Provider: l.provider,
				Model:    l.Name(),
				Message:  "rate limit wait: " + err.Error(),
				Err:      err,
			})
			return
		}
		for resp, err := range l.LLM.Generate(ctx, req) {
			if !yield(resp, err) {
				return
			}
		}
	}
}
