// Package voicecmd decides whether a final transcript is a spoken clip
// command.
//
// A [Detector] normalises each utterance, looks for an exact vocabulary token
// and falls back to fuzzy matching against a canonical trigger word. Matches
// are then debounced: a trigger inside the cooldown window, or one whose
// normalised text repeats one of the last few accepted utterances, is
// rejected.
package voicecmd

import (
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	defaultCanonical   = "clip"
	defaultThreshold   = 40.0
	defaultCooldown    = 2 * time.Second
	defaultHistorySize = 3
)

// DefaultVocabulary lists the tokens that trigger a clip without fuzzy
// matching. ASR engines commonly mishear "clip" as several of these.
var DefaultVocabulary = []string{"clip", "clips", "clipped", "click", "quick", "cli", "clis"}

// Outcome classifies what [Detector.Observe] did with an utterance.
type Outcome int

const (
	// Ignored means the utterance normalised to nothing.
	Ignored Outcome = iota

	// NoMatch means no token matched the vocabulary or the fuzzy threshold.
	NoMatch

	// Cooldown means a trigger matched but arrived too soon after the last
	// accepted one.
	Cooldown

	// Duplicate means a trigger matched but its normalised text is among the
	// recently accepted utterances.
	Duplicate

	// Accepted means a save should be signalled.
	Accepted
)

// String returns the lowercase outcome name used in logs and metric
// attributes.
func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case NoMatch:
		return "no_match"
	case Cooldown:
		return "cooldown"
	case Duplicate:
		return "duplicate"
	case Accepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// MatchKind tells how a trigger token was found.
type MatchKind int

const (
	// Exact means the token is in the vocabulary.
	Exact MatchKind = iota + 1

	// Fuzzy means the token scored above the threshold against the
	// canonical word.
	Fuzzy
)

// Match describes the token that triggered detection.
type Match struct {
	Token string
	Kind  MatchKind

	// Score is the fuzzy ratio for Fuzzy matches and 100 for Exact ones.
	Score float64
}

// Decision is the result of a single [Detector.Observe] call.
type Decision struct {
	Outcome Outcome

	// Normalized is the utterance after [Normalize].
	Normalized string

	// Match is set whenever a trigger token was found, including for
	// Cooldown and Duplicate rejections.
	Match Match

	// Wait is the remaining cooldown for Cooldown outcomes.
	Wait time.Duration
}

// Option is a functional option for configuring a [Detector].
type Option func(*Detector)

// WithVocabulary replaces the exact-match vocabulary. Entries are lowercased.
// Default: [DefaultVocabulary].
func WithVocabulary(words ...string) Option {
	return func(d *Detector) {
		d.vocab = make(map[string]struct{}, len(words))
		for _, w := range words {
			d.vocab[Normalize(w)] = struct{}{}
		}
	}
}

// WithCanonical sets the word fuzzy matching compares against. Default: "clip".
func WithCanonical(word string) Option {
	return func(d *Detector) {
		d.canonical = Normalize(word)
	}
}

// WithThreshold sets the fuzzy score a token must strictly exceed on the
// 0–100 scale. Default: 40.
func WithThreshold(threshold float64) Option {
	return func(d *Detector) {
		d.threshold = threshold
	}
}

// WithCooldown sets the minimum interval between accepted triggers.
// Default: 2s.
func WithCooldown(cooldown time.Duration) Option {
	return func(d *Detector) {
		d.cooldown = cooldown
	}
}

// WithHistorySize sets how many accepted utterances are remembered for
// duplicate suppression. Shrinking the history drops the oldest entries.
// Default: 3.
func WithHistorySize(n int) Option {
	return func(d *Detector) {
		d.historySize = max(n, 0)
		if over := len(d.history) - d.historySize; over > 0 {
			d.history = slices.Delete(d.history, 0, over)
		}
	}
}

// WithClock overrides the time source used by [Detector.Observe].
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// Detector matches and debounces trigger utterances. All methods are safe for
// concurrent use.
type Detector struct {
	mu          sync.Mutex
	vocab       map[string]struct{}
	canonical   string
	threshold   float64
	cooldown    time.Duration
	historySize int
	now         func() time.Time

	lastAccepted time.Time
	history      []string // oldest first
}

// New creates a Detector with the given options applied over the defaults.
func New(opts ...Option) *Detector {
	d := &Detector{
		canonical:   defaultCanonical,
		threshold:   defaultThreshold,
		cooldown:    defaultCooldown,
		historySize: defaultHistorySize,
		now:         time.Now,
	}
	WithVocabulary(DefaultVocabulary...)(d)
	for _, o := range opts {
		o(d)
	}
	return d
}

// Update applies opts to a running detector. Debounce state is preserved.
func (d *Detector) Update(opts ...Option) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range opts {
		o(d)
	}
}

// Match looks for a trigger token in an already normalised utterance. Exact
// vocabulary membership is checked across all tokens first; otherwise the
// first token whose [Ratio] against the canonical word exceeds the threshold
// wins.
func (d *Detector) Match(normalized string) (Match, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.match(normalized)
}

func (d *Detector) match(normalized string) (Match, bool) {
	if normalized == "" {
		return Match{}, false
	}
	tokens := strings.Fields(normalized)
	for _, tok := range tokens {
		if _, ok := d.vocab[tok]; ok {
			return Match{Token: tok, Kind: Exact, Score: 100}, true
		}
	}
	for _, tok := range tokens {
		if score := Ratio(tok, d.canonical); score > d.threshold {
			return Match{Token: tok, Kind: Fuzzy, Score: score}, true
		}
	}
	return Match{}, false
}

// Observe evaluates one final transcript. Only an Accepted decision updates
// the debounce state.
func (d *Detector) Observe(text string) Decision {
	norm := Normalize(text)
	dec := Decision{Normalized: norm}
	if norm == "" {
		dec.Outcome = Ignored
		return dec
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.match(norm)
	if !ok {
		dec.Outcome = NoMatch
		return dec
	}
	dec.Match = m

	now := d.now()
	if !d.lastAccepted.IsZero() {
		if elapsed := now.Sub(d.lastAccepted); elapsed < d.cooldown {
			dec.Outcome = Cooldown
			dec.Wait = d.cooldown - elapsed
			return dec
		}
	}
	if slices.Contains(d.history, norm) {
		dec.Outcome = Duplicate
		return dec
	}

	d.lastAccepted = now
	if d.historySize > 0 {
		if len(d.history) >= d.historySize {
			d.history = slices.Delete(d.history, 0, len(d.history)-d.historySize+1)
		}
		d.history = append(d.history, norm)
	}
	dec.Outcome = Accepted
	return dec
}

// Recent returns the remembered accepted utterances, oldest first.
func (d *Detector) Recent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.history)
}

// Reset clears the cooldown timestamp and the duplicate history.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.lastAccepted = time.Time{}
	d.history = nil
	d.mu.Unlock()
}
