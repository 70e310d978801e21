package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zapdesk/zapdesk/internal/config"
	"github.com/zapdesk/zapdesk/internal/metrics"
	"github.com/zapdesk/zapdesk/internal/models"
	"github.com/zapdesk/zapdesk/internal/store"
)

// ErrLearningConflict indicates a new training example was rejected because
// an existing input is nearly identical. Callers surface this as a silent
// rejection, never to the end user.
var ErrLearningConflict = errors.New("match: training example conflicts with existing input")

// dedupSimilarityThreshold is the fused lexical similarity above which a new
// training input is considered a duplicate.
const dedupSimilarityThreshold = 0.9

// exactMatchConfidence is assigned when the normalized input equals a corpus
// input exactly, bypassing score fusion.
const exactMatchConfidence = 0.98

// corpusEntry is one indexed training example with precomputed fields.
type corpusEntry struct {
	example    models.TrainingExample
	normalized string
	intent     string
}

// Engine is the response matching engine. It is stateless per call except
// for its internal cache, corpus index and per-identity conversation context.
// It depends only on the persistence gateway.
type Engine struct {
	store    store.Store
	cache    ResponseCache
	clf      *Classifier
	convCtx  *ConversationContext
	met      *metrics.Metrics
	sweepers sync.Once

	mu       sync.RWMutex
	settings config.Matching
	corpus   []corpusEntry
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache replaces the default in-memory cache backend.
func WithCache(c ResponseCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.met = m }
}

// NewEngine creates a matching engine and loads the corpus from the store.
func NewEngine(st store.Store, settings config.Matching, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:    st,
		clf:      NewClassifier(),
		convCtx:  NewConversationContext(settings.ContextWindow),
		settings: settings,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewMemoryCache(settings.CacheTTL, settings.CacheSize)
	}
	if err := e.ReloadCorpus(); err != nil {
		return nil, fmt.Errorf("failed to load training corpus: %w", err)
	}
	slog.Info("match.NewEngine: matching engine ready", "corpus_size", len(e.corpus), "classes", e.clf.Classes())
	return e, nil
}

// Reconfigure swaps the matching settings (hot reload).
func (e *Engine) Reconfigure(settings config.Matching) {
	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()
	slog.Info("match.Engine.Reconfigure: matching settings replaced")
}

// ReloadCorpus rebuilds the in-memory index and retrains the classifier from
// the approved examples in the store. The index is always rebuilt wholesale,
// never partially updated.
func (e *Engine) ReloadCorpus() error {
	examples, err := e.store.GetTrainingData()
	if err != nil {
		slog.Error("match.Engine.ReloadCorpus: failed to load training data", "error", err)
		return err
	}

	entries := make([]corpusEntry, 0, len(examples))
	clf := NewClassifier()
	for _, ex := range examples {
		normalized := Normalize(Sanitize(ex.Input))
		if normalized == "" {
			continue
		}
		intent := DetectIntent(normalized, nil)
		entries = append(entries, corpusEntry{example: ex, normalized: normalized, intent: intent})
		if intent != IntentUnknown {
			clf.Train(normalized, intent)
		}
	}

	e.mu.Lock()
	e.corpus = entries
	e.clf = clf
	e.mu.Unlock()
	slog.Debug("match.Engine.ReloadCorpus: corpus index rebuilt", "entries", len(entries))
	return nil
}

// CorpusSize returns the number of indexed examples.
func (e *Engine) CorpusSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.corpus)
}

// CacheSize returns the number of live cache entries.
func (e *Engine) CacheSize(ctx context.Context) int {
	return e.cache.Size(ctx)
}

// StartSweeper launches the periodic cache TTL sweep. It stops when the
// context is cancelled.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	e.sweepers.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if removed := e.cache.Sweep(ctx); removed > 0 {
						slog.Debug("match.Engine: cache sweep removed expired entries", "removed", removed)
					}
				}
			}
		}()
	})
}

// candidate accumulates per-algorithm contributions for one output text.
type candidate struct {
	contributions map[string]float64
	intent        string
	exampleID     string
	exact         bool
}

// Match scores the raw text against the corpus and returns the best-fit
// reply. Internal failures degrade to the configured fallback response and
// never propagate to the caller.
func (e *Engine) Match(ctx context.Context, rawText, identity string) (result *models.ResponseMatch) {
	e.mu.RLock()
	settings := e.settings
	corpus := e.corpus
	clf := e.clf
	e.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("match.Engine.Match: recovered from scoring failure", "panic", r)
			result = e.fallbackResult(settings)
		}
		if result != nil {
			if e.met != nil {
				e.met.MatchConfidence.Observe(result.Confidence)
			}
			// Record this turn after scoring so the context boost only sees
			// prior turns.
			e.convCtx.Record(identity, ContextObservation{
				Intent:    result.Intent,
				Sentiment: result.Sentiment,
				Timestamp: time.Now(),
			})
		}
	}()

	sanitized := Sanitize(rawText)
	normalized := Normalize(sanitized)
	if normalized == "" {
		return e.fallbackResult(settings)
	}

	intent := DetectIntent(normalized, clf)
	sentiment := DetectSentiment(normalized)
	entities := ExtractEntities(sanitized)

	annotate := func(m *models.ResponseMatch) *models.ResponseMatch {
		m.Intent = intent
		m.Sentiment = sentiment
		m.Entities = entities
		return m
	}

	if entry, ok := e.cache.Get(ctx, normalized); ok {
		if e.met != nil {
			e.met.CacheEvents.WithLabelValues("hit").Inc()
		}
		slog.Debug("match.Engine.Match: cache hit", "identity", identity, "confidence", entry.Confidence)
		return annotate(&models.ResponseMatch{
			Text:       entry.Response,
			Confidence: entry.Confidence,
			Algorithm:  "cache",
			CacheHit:   true,
		})
	}
	if e.met != nil {
		e.met.CacheEvents.WithLabelValues("miss").Inc()
	}

	if len(corpus) == 0 {
		return annotate(e.fallbackResult(settings))
	}

	best := e.score(normalized, identity, settings, corpus, clf)
	if best == nil || best.confidence < settings.MinConfidence {
		conf := 0.0
		if best != nil {
			conf = best.confidence
		}
		slog.Debug("match.Engine.Match: below confidence threshold", "identity", identity, "confidence", conf)
		fb := annotate(e.fallbackResult(settings))
		fb.Confidence = conf
		return fb
	}

	if err := e.store.UpdateTrainingUsage(best.exampleID); err != nil {
		slog.Warn("match.Engine.Match: failed to update training usage", "error", err, "id", best.exampleID)
	}

	if best.confidence >= settings.PublishThreshold {
		entry := CacheEntry{Response: best.text, Confidence: best.confidence, CreatedAt: time.Now()}
		if err := e.cache.Put(ctx, normalized, entry); err != nil {
			slog.Warn("match.Engine.Match: failed to cache result", "error", err)
		}
	}

	slog.Debug("match.Engine.Match: matched", "identity", identity, "confidence", best.confidence, "algorithm", best.algorithms)
	return annotate(&models.ResponseMatch{
		Text:       best.text,
		Confidence: best.confidence,
		Algorithm:  best.algorithms,
	})
}

// scored is the fused winner of one scoring pass.
type scored struct {
	text       string
	confidence float64
	algorithms string
	exampleID  string
}

// score fuses the weighted algorithm scores over the corpus, grouping
// candidates by output text. For a group, each algorithm contributes its best
// score across the group's examples; the group confidence is the sum of
// contributions clamped to 1.
func (e *Engine) score(normalized, identity string, settings config.Matching, corpus []corpusEntry, clf *Classifier) *scored {
	recent := e.convCtx.RecentIntents(identity, 3)
	recentSet := make(map[string]bool, len(recent))
	for _, it := range recent {
		recentSet[it] = true
	}

	clfIntent, clfConf := clf.Classify(normalized)

	groups := make(map[string]*candidate)
	for _, entry := range corpus {
		cand := groups[entry.example.Output]
		if cand == nil {
			cand = &candidate{contributions: make(map[string]float64), intent: entry.intent, exampleID: entry.example.ID}
			groups[entry.example.Output] = cand
		}

		if normalized == entry.normalized {
			cand.exact = true
			cand.exampleID = entry.example.ID
		}

		record := func(name string, score float64) {
			if score > cand.contributions[name] {
				cand.contributions[name] = score
				if name == "jaccard" || name == "levenshtein" || name == "jaro_winkler" {
					cand.exampleID = entry.example.ID
				}
			}
		}
		record("jaccard", JaccardSimilarity(normalized, entry.normalized)*settings.WeightJaccard)
		record("levenshtein", LevenshteinSimilarity(normalized, entry.normalized)*settings.WeightLevenshtein)
		record("jaro_winkler", JaroWinklerSimilarity(normalized, entry.normalized)*settings.WeightJaroWinkler)
		if clfIntent != "" && clfIntent == entry.intent {
			record("classifier", clfConf*settings.WeightClassifier)
		}
		if recentSet[entry.intent] {
			record("context", settings.WeightContext)
		}
	}

	var best *scored
	for text, cand := range groups {
		total := 0.0
		var names []string
		for name, score := range cand.contributions {
			if score > 0 {
				total += score
				names = append(names, name)
			}
		}
		if total > 1 {
			total = 1
		}
		if cand.exact && total < exactMatchConfidence {
			total = exactMatchConfidence
			names = append(names, "exact")
		}
		sort.Strings(names)
		if best == nil || total > best.confidence {
			best = &scored{
				text:       text,
				confidence: total,
				algorithms: strings.Join(names, ","),
				exampleID:  cand.exampleID,
			}
		}
	}
	return best
}

func (e *Engine) fallbackResult(settings config.Matching) *models.ResponseMatch {
	return &models.ResponseMatch{
		Text:              settings.FallbackResponse,
		Confidence:        0,
		Algorithm:         "fallback",
		Intent:            IntentUnknown,
		Sentiment:         models.SentimentNeutral,
		NeedsHumanHandoff: true,
	}
}

// Learn adds a new training example. It returns false without error when the
// input duplicates an existing example (similarity above 0.9). Approved
// examples enter the live index immediately and retrain the classifier.
func (e *Engine) Learn(ctx context.Context, input, output string, approved bool) (bool, error) {
	normalized := Normalize(Sanitize(input))
	if normalized == "" {
		return false, fmt.Errorf("cannot learn empty input")
	}

	all, err := e.store.GetAllTrainingData()
	if err != nil {
		slog.Error("match.Engine.Learn: failed to load training data", "error", err)
		return false, err
	}
	for _, ex := range all {
		existing := Normalize(Sanitize(ex.Input))
		if lexicalSimilarity(normalized, existing) > dedupSimilarityThreshold {
			if e.met != nil {
				e.met.LearningEvents.WithLabelValues("rejected").Inc()
			}
			slog.Info("match.Engine.Learn: duplicate input rejected", "existing_id", ex.ID, "error", ErrLearningConflict)
			return false, nil
		}
	}

	id, err := e.store.SaveTrainingData(input, output, 1.0, approved)
	if err != nil {
		slog.Error("match.Engine.Learn: failed to persist training example", "error", err)
		return false, err
	}

	if approved {
		if err := e.ReloadCorpus(); err != nil {
			return false, err
		}
	}
	if e.met != nil {
		e.met.LearningEvents.WithLabelValues("accepted").Inc()
	}
	slog.Info("match.Engine.Learn: training example accepted", "id", id, "approved", approved)
	return true, nil
}

// MaybeAutoLearn persists an interaction as an unapproved training example
// when learning is enabled and the engine's own confidence clears the
// auto-learn threshold. Returns whether the pair was stored.
func (e *Engine) MaybeAutoLearn(ctx context.Context, input, output string, confidence float64) bool {
	e.mu.RLock()
	settings := e.settings
	e.mu.RUnlock()
	if !settings.LearningEnabled || confidence < settings.AutoLearnThreshold {
		return false
	}
	accepted, err := e.Learn(ctx, input, output, false)
	if err != nil {
		slog.Warn("match.Engine.MaybeAutoLearn: learn failed", "error", err)
		return false
	}
	return accepted
}

// lexicalSimilarity is the fused lexical metric used for dedup, normalized
// over the lexical algorithm weights.
func lexicalSimilarity(a, b string) float64 {
	return (JaccardSimilarity(a, b)*0.30 +
		LevenshteinSimilarity(a, b)*0.25 +
		JaroWinklerSimilarity(a, b)*0.20) / 0.75
}
