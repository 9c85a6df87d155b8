package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"streamkit/backend/internal/models"
	"streamkit/backend/pkg/cache"
)

// Action is the evaluator's verdict
type Action string

const (
	ActionAllow   Action = "allow"
	ActionRewrite Action = "rewrite"
	ActionWarn    Action = "warn"
	ActionReject  Action = "reject"
)

// Reasons attached to a non-allow result
const (
	ReasonFilter      = "filter"
	ReasonCaps        = "caps"
	ReasonEmotes      = "emotes"
	ReasonLink        = "link"
	ReasonBlockedTerm = "blocked_term"
	ReasonSpam        = "spam"
)

// capsMinLetters keeps short shouts like "GG" or "LOL" out of the caps check
const capsMinLetters = 6

const (
	floodRunLength   = 12
	floodWordRepeats = 5
)

var (
	// ErrEmptyPattern is returned for blank filter patterns
	ErrEmptyPattern = errors.New("pattern must not be empty")

	linkPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\b[a-z0-9-]+(\.[a-z0-9-]+)*\.(com|net|org|io|gg|tv|co|me|ly|xyz|app|dev|ru|de|uk)\b)`)
	emoteToken  = regexp.MustCompile(`^:[A-Za-z0-9_]+:$`)
)

// Result is the outcome of evaluating one message
type Result struct {
	Action Action `json:"action"`
	Body   string `json:"body"`
	Reason string `json:"reason,omitempty"`
	// FilterID is the filter that decided the result, zero for automod
	FilterID uint `json:"filter_id,omitempty"`
	// InvalidFilters lists filters whose regex failed to compile; they never match
	InvalidFilters []uint `json:"invalid_filters,omitempty"`
}

// EmoteSet holds the emote names known to a stream
type EmoteSet map[string]struct{}

// NewEmoteSet builds a set from names
func NewEmoteSet(names ...string) EmoteSet {
	s := make(EmoteSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// IsEmote reports whether a whitespace-delimited token names a known
// emote, either bare or in :name: form
func (s EmoteSet) IsEmote(token string) bool {
	if _, ok := s[token]; ok {
		return true
	}
	if !emoteToken.MatchString(token) {
		return false
	}
	_, ok := s[token[1:len(token)-1]]
	return ok
}

type compiled struct {
	re  *regexp.Regexp
	err error
}

// Evaluator applies filters and automod to message bodies. It does no I/O;
// compiled patterns are cached across calls.
type Evaluator struct {
	patterns *cache.Cache[string, compiled]
}

// NewEvaluator creates an evaluator with a bounded pattern cache
func NewEvaluator() *Evaluator {
	return &Evaluator{
		patterns: cache.New[string, compiled](cache.Options{TTL: 30 * time.Minute, MaxItems: 4096}),
	}
}

var defaultEvaluator = NewEvaluator()

// Evaluate runs the shared evaluator
func Evaluate(message string, settings models.ChatSettings, filters []models.ChatFilter, emotes EmoteSet) Result {
	return defaultEvaluator.Evaluate(message, settings, filters, emotes)
}

// Evaluate checks filters newest first; the first active match decides.
// Automod runs only when no filter matched.
func (e *Evaluator) Evaluate(message string, settings models.ChatSettings, filters []models.ChatFilter, emotes EmoteSet) Result {
	var invalid []uint

	for _, f := range orderFilters(filters) {
		if !f.IsActive || f.Pattern == "" {
			continue
		}

		re, err := e.compile(f.Pattern, f.IsRegex)
		if err != nil {
			invalid = append(invalid, f.ID)
			continue
		}
		if !re.MatchString(message) {
			continue
		}

		switch f.FilterType {
		case models.FilterBlock:
			return Result{Action: ActionReject, Reason: ReasonFilter, FilterID: f.ID, InvalidFilters: invalid}
		case models.FilterReplace:
			return Result{
				Action:         ActionRewrite,
				Body:           re.ReplaceAllLiteralString(message, f.Replacement),
				Reason:         ReasonFilter,
				FilterID:       f.ID,
				InvalidFilters: invalid,
			}
		case models.FilterWarn:
			return Result{Action: ActionWarn, Body: message, Reason: ReasonFilter, FilterID: f.ID, InvalidFilters: invalid}
		}
	}

	if settings.AutoMod.Enabled {
		if reason := automod(message, settings.AutoMod, emotes); reason != "" {
			return Result{Action: ActionReject, Reason: reason, InvalidFilters: invalid}
		}
	}

	return Result{Action: ActionAllow, Body: message, InvalidFilters: invalid}
}

func (e *Evaluator) compile(pattern string, isRegex bool) (*regexp.Regexp, error) {
	key := "lit:" + pattern
	if isRegex {
		key = "re:" + pattern
	}
	if c, ok := e.patterns.Get(key); ok {
		return c.re, c.err
	}

	var c compiled
	if isRegex {
		c.re, c.err = regexp.Compile(pattern)
	} else {
		c.re, c.err = regexp.Compile("(?i)" + regexp.QuoteMeta(pattern))
	}
	e.patterns.Set(key, c)
	return c.re, c.err
}

// orderFilters returns filters newest first, ties broken by higher id
func orderFilters(filters []models.ChatFilter) []models.ChatFilter {
	ordered := make([]models.ChatFilter, len(filters))
	copy(ordered, filters)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
		}
		return ordered[i].ID > ordered[j].ID
	})
	return ordered
}

func automod(message string, s models.AutoModSettings, emotes EmoteSet) string {
	if s.CapsLimitPercent > 0 && capsExceeded(message, s.CapsLimitPercent) {
		return ReasonCaps
	}
	if s.MaxEmotes > 0 && len(EmoteTokens(message, emotes)) > s.MaxEmotes {
		return ReasonEmotes
	}
	if s.LinkProtection && linkPattern.MatchString(message) {
		return ReasonLink
	}
	if containsBlockedTerm(message, s.BlockedTerms) {
		return ReasonBlockedTerm
	}
	if s.SpamDetection && isFlood(message) {
		return ReasonSpam
	}
	return ""
}

func capsExceeded(message string, limit int) bool {
	var letters, upper int
	for _, r := range message {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters < capsMinLetters {
		return false
	}
	return float64(upper)*100/float64(letters) > float64(limit)
}

func containsBlockedTerm(message string, terms []string) bool {
	lower := strings.ToLower(message)
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// isFlood detects a long run of one character or one word repeated over and over
func isFlood(message string) bool {
	var prev rune
	run := 0
	for _, r := range message {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= floodRunLength && !unicode.IsSpace(r) {
			return true
		}
	}

	words := strings.Fields(strings.ToLower(message))
	if len(words) < floodWordRepeats {
		return false
	}
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
		if counts[w] >= floodWordRepeats && counts[w]*2 >= len(words) {
			return true
		}
	}
	return false
}

// EmoteTokens returns the tokens of message that are emotes
func EmoteTokens(message string, emotes EmoteSet) []string {
	var out []string
	for _, tok := range strings.Fields(message) {
		if emotes.IsEmote(tok) {
			out = append(out, tok)
		}
	}
	return out
}

// IsEmoteOnly reports whether message consists solely of emote tokens
func IsEmoteOnly(message string, emotes EmoteSet) bool {
	tokens := strings.Fields(message)
	if len(tokens) == 0 {
		return false
	}
	for _, tok := range tokens {
		if !emotes.IsEmote(tok) {
			return false
		}
	}
	return true
}

// ValidatePattern rejects patterns that could never be evaluated
func ValidatePattern(pattern string, isRegex bool) error {
	if strings.TrimSpace(pattern) == "" {
		return ErrEmptyPattern
	}
	if !isRegex {
		return nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("invalid regular expression: %w", err)
	}
	return nil
}
