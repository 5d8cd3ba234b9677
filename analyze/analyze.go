// Package analyze asks a language model to review target-language
// translations and stores its corrections.
package analyze

import (
	"context"
	"fmt"
	"time"

	kerrors "github.com/kawashirov/vrc-localization-checker/errors"
	"github.com/kawashirov/vrc-localization-checker/gate"
	"github.com/kawashirov/vrc-localization-checker/llm"
	"github.com/kawashirov/vrc-localization-checker/logging"
	"github.com/kawashirov/vrc-localization-checker/ratelimit"
	"github.com/kawashirov/vrc-localization-checker/store"
	"github.com/kawashirov/vrc-localization-checker/task"
)

// Resource is the rate limiter resource every model request acquires.
const Resource = "llm"

// Store is the part of store.Store the analyzer uses.
type Store interface {
	RefreshViews(ctx context.Context, views ...string) error
	PickStrings(ctx context.Context, p store.PickParams) ([]store.Pair, error)
	PickExtra(ctx context.Context, pair store.Pair, sourceLang, targetLang string) ([]store.Extra, error)
	InsertSuggestion(ctx context.Context, sg store.Suggestion) (int64, error)
}

// Config selects the pairs to review and the model reviewing them.
type Config struct {
	SourceLang     string
	TargetLang     string
	ModelID        string
	BatchSize      int
	MinSuggestions int
	MaxTokens      int

	// IncludeExtra sends other languages' translations along with each pair.
	IncludeExtra bool
}

// Analyzer builds the task tree of one analyze run.
type Analyzer struct {
	cfg      Config
	store    Store
	provider llm.Provider
	limiter  ratelimit.Limiter
	llmGate  *gate.Gate
	now      func() time.Time
}

// New creates an Analyzer. limiter may be nil.
func New(cfg Config, st Store, provider llm.Provider, limiter ratelimit.Limiter, gates *gate.Registry) (*Analyzer, error) {
	if cfg.ModelID == "" {
		return nil, kerrors.New(kerrors.ErrCodeConfig, "model id is required")
	}
	if cfg.SourceLang == "" || cfg.TargetLang == "" {
		return nil, kerrors.New(kerrors.ErrCodeConfig, "source and target languages are required")
	}
	if cfg.BatchSize < 1 {
		return nil, kerrors.Newf(kerrors.ErrCodeConfig, "batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.MinSuggestions < 1 {
		cfg.MinSuggestions = 1
	}
	llmGate, err := gates.Get(gate.LLMRequest)
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		cfg:      cfg,
		store:    st,
		provider: provider,
		limiter:  limiter,
		llmGate:  llmGate,
		now:      time.Now,
	}, nil
}

// Body is the root task: review batches of pairs until none are left or
// shutdown is requested.
func (a *Analyzer) Body() task.Body {
	return func(ctx context.Context, t *task.Task) error {
		log := t.Logger()
		a.listModels(ctx, t)

		for n := 1; ; n++ {
			if err := t.CheckOrAbort(); err != nil {
				return err
			}
			pairs, err := a.pick(ctx, t)
			if err != nil {
				return err
			}
			if len(pairs) == 0 {
				log.Info("No more strings with lack of suggestions found")
				return nil
			}

			name := fmt.Sprintf("batch-%d", n)
			child, _ := t.Spawn(name, name, a.batch(pairs))
			out := child.Wait()
			t.Forget(child)
			switch out.State {
			case task.Completed:
			case task.Failed:
				if kerrors.Is(out.Err, kerrors.ErrCodeRateLimit) {
					log.Warn("Model is rate limiting requests, run analyze again later", logging.Fields{"batch": name})
				}
				return out.Err
			default:
				return out.Cause
			}
		}
	}
}

func (a *Analyzer) listModels(ctx context.Context, t *task.Task) {
	lister, ok := a.provider.(llm.ModelLister)
	if !ok {
		return
	}
	models, err := lister.ListModels(ctx)
	if err != nil {
		t.Logger().Warn("Failed to list models", logging.Fields{"error": err.Error()})
		return
	}
	t.Logger().Info("Available models", logging.Fields{"models": models})
}

func (a *Analyzer) pick(ctx context.Context, t *task.Task) ([]store.Pair, error) {
	log := t.Logger()
	if err := a.store.RefreshViews(ctx, store.LatestSuggestions); err != nil {
		return nil, err
	}
	pairs, err := a.store.PickStrings(ctx, store.PickParams{
		SourceLang:     a.cfg.SourceLang,
		TargetLang:     a.cfg.TargetLang,
		ModelID:        a.cfg.ModelID,
		MinSuggestions: a.cfg.MinSuggestions,
		Limit:          a.cfg.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	log.Info("Picked strings to check", logging.Fields{"count": len(pairs), "model": a.cfg.ModelID})
	return pairs, nil
}

func (a *Analyzer) batch(pairs []store.Pair) task.Body {
	return task.Group(task.GroupFuncs{
		Prepare: func(ctx context.Context, t *task.Task) error {
			for _, p := range pairs {
				key := fmt.Sprintf("%d-%d", p.SourceID, p.TargetID)
				r := &review{analyzer: a, pair: p}
				t.Spawn(key, t.Name()+"/"+key, r.body, task.WithGate(a.llmGate))
			}
			return nil
		},
	})
}

// pace takes a request token, logging the current rate when it has to wait.
func (a *Analyzer) pace(ctx context.Context, t *task.Task) error {
	if a.limiter == nil || a.limiter.TryAcquire(Resource) {
		return nil
	}
	fields := logging.Fields{"resource": Resource}
	if c := a.limiter.GetCapacity(Resource); c != nil {
		fields["rate"] = c.Total
		fields["window"] = c.Window.String()
		fields["reductions"] = c.Reductions
	}
	t.Logger().Info("Waiting for rate limit", fields)
	return a.limiter.Acquire(ctx, Resource)
}

// review checks one pair.
type review struct {
	analyzer *Analyzer
	pair     store.Pair
}

func (r *review) body(ctx context.Context, t *task.Task) error {
	a := r.analyzer
	log := t.Logger()
	token := r.pair.String()

	extra, err := a.store.PickExtra(ctx, r.pair, a.cfg.SourceLang, a.cfg.TargetLang)
	if err != nil {
		return err
	}
	log.Info("Picked extra context strings", logging.Fields{"pair": token, "count": len(extra)})

	if err := a.pace(ctx, t); err != nil {
		return err
	}
	if err := t.CheckOrAbort(); err != nil {
		return err
	}

	req := request{
		SourceLang: a.cfg.SourceLang,
		Source:     r.pair.SourceBody,
		TargetLang: a.cfg.TargetLang,
		Target:     r.pair.TargetBody,
	}
	if a.cfg.IncludeExtra && len(extra) > 0 {
		req.Extra = make(map[string]string, len(extra))
		for _, e := range extra {
			req.Extra[e.Lang] = e.Body
		}
	}

	log.Info("Asking model", logging.Fields{"pair": token, "model": a.cfg.ModelID})
	began := a.now()
	resp, err := a.provider.Chat(ctx, llm.ChatRequest{
		Messages:  buildMessages(a.cfg.SourceLang, a.cfg.TargetLang, req),
		MaxTokens: a.cfg.MaxTokens,
		JSON:      true,
	})
	interval := a.now().Sub(began)
	if err != nil {
		msg := "asking " + a.cfg.ModelID + " about " + token
		if llm.IsRateLimited(err) {
			if a.limiter != nil {
				a.limiter.Reduce(Resource, err.Error())
			}
			return kerrors.WrapWithCode(err, kerrors.ErrCodeRateLimit, msg)
		}
		return kerrors.Wrap(err, msg)
	}
	log.Info("Model responded", logging.Fields{"pair": token, "interval": interval.String()})

	sg := store.Suggestion{
		SourceID:         r.pair.SourceID,
		TargetID:         r.pair.TargetID,
		ModelID:          a.cfg.ModelID,
		Interval:         interval,
		CompletionTokens: resp.OutputTokens,
		PromptTokens:     resp.InputTokens,
		Fingerprint:      resp.Fingerprint,
	}
	var problems []string
	sg.Body, sg.Comment, problems = parseReply(resp.Content, r.pair.TargetBody)
	for _, p := range problems {
		log.Warn("Unusable model reply", logging.Fields{"pair": token, "problem": p, "content": resp.Content})
	}

	return t.Critical(ctx, func(ctx context.Context) error {
		id, err := a.store.InsertSuggestion(ctx, sg)
		if err != nil {
			return err
		}
		log.Info("Stored suggestion", logging.Fields{
			"pair":           token,
			"id":             id,
			"has_suggestion": sg.Body != nil,
		})
		return nil
	})
}

