package recovery

import "regexp"

// ---------------------------------------------------------------------------
// ErrorCategory
// ---------------------------------------------------------------------------

// ErrorCategory is the failure taxonomy driving recovery strategy selection
type ErrorCategory string

const (
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryAuth       ErrorCategory = "auth"
	CategoryValidation ErrorCategory = "validation"
	CategoryNetwork    ErrorCategory = "network"
	CategoryConstraint ErrorCategory = "constraint"
	CategoryDatabase   ErrorCategory = "database"
	CategoryConflict   ErrorCategory = "conflict"
	CategoryWebhook    ErrorCategory = "webhook"
	CategoryUnknown    ErrorCategory = "unknown"
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	return string(c)
}

// IsTransient returns true for categories that are auto-recovered with backoff
func (c ErrorCategory) IsTransient() bool {
	switch c {
	case CategoryTimeout, CategoryNetwork, CategoryRateLimit:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Classifier
// ---------------------------------------------------------------------------

// CategoryPattern pairs a category with the regexes identifying it
type CategoryPattern struct {
	Category ErrorCategory
	Patterns []*regexp.Regexp
}

// Classifier maps error messages to categories through an ordered pattern
// table. The first matching pattern wins; unmatched errors are unknown.
// The table is data, deliberately decoupled from recovery-handler logic.
type Classifier struct {
	table []CategoryPattern
}

// NewClassifier creates a classifier with the given ordered table
func NewClassifier(table []CategoryPattern) *Classifier {
	return &Classifier{table: table}
}

// DefaultClassifier returns the built-in ordered classification table
func DefaultClassifier() *Classifier {
	mustAll := func(exprs ...string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(exprs))
		for i, e := range exprs {
			out[i] = regexp.MustCompile(e)
		}
		return out
	}

	return NewClassifier([]CategoryPattern{
		{Category: CategoryTimeout, Patterns: mustAll(
			`(?i)timed? ?out`,
			`(?i)deadline exceeded`,
			`(?i)ETIMEDOUT`,
		)},
		{Category: CategoryRateLimit, Patterns: mustAll(
			`(?i)rate limit`,
			`(?i)too many requests`,
			`\b429\b`,
		)},
		{Category: CategoryAuth, Patterns: mustAll(
			`(?i)unauthoriz`,
			`(?i)authentication`,
			`(?i)invalid (api )?key`,
			`(?i)forbidden`,
			`\b401\b`,
			`\b403\b`,
		)},
		{Category: CategoryValidation, Patterns: mustAll(
			`(?i)validation`,
			`(?i)invalid (value|type|format|payload)`,
			`(?i)missing required`,
			`\b422\b`,
		)},
		{Category: CategoryNetwork, Patterns: mustAll(
			`(?i)connection (refused|reset|closed)`,
			`(?i)no such host`,
			`(?i)network`,
			`(?i)EOF`,
			`(?i)broken pipe`,
		)},
		// Constraint violations sit before the broad database bucket: they
		// replay deterministically and must never reach the retry loop
		{Category: CategoryConstraint, Patterns: mustAll(
			`(?i)duplicate key`,
			`(?i)unique constraint`,
			`(?i)constraint failed`,
			`(?i)foreign key`,
		)},
		{Category: CategoryDatabase, Patterns: mustAll(
			`(?i)deadlock`,
			`(?i)sql`,
			`(?i)database`,
		)},
		{Category: CategoryConflict, Patterns: mustAll(
			`(?i)conflict`,
			`(?i)divergen`,
		)},
		{Category: CategoryWebhook, Patterns: mustAll(
			`(?i)webhook`,
			`(?i)signature`,
		)},
	})
}

// Classify returns the category for an error. Nil errors are unknown.
func (c *Classifier) Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	msg := err.Error()
	for _, entry := range c.table {
		for _, p := range entry.Patterns {
			if p.MatchString(msg) {
				return entry.Category
			}
		}
	}
	return CategoryUnknown
}
