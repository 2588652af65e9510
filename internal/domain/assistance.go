package domain

// Category classifies when and why an assistance type produces feedback.
type Category string

const (
	CategoryCooperative   Category = "cooperative"
	CategoryInformational Category = "informational"
	CategoryProactive     Category = "proactive"
	CategoryReactive      Category = "reactive"
)

// EligibilityPolicy selects which learners a scheduled assistance type considers.
type EligibilityPolicy string

const (
	// EligibilityLearnersWithState restricts scheduled evaluation to learners
	// that already hold state for the assistance type.
	EligibilityLearnersWithState EligibilityPolicy = "learners-with-state"
	// EligibilityAllKnownLearners evaluates every learner the store has seen.
	EligibilityAllKnownLearners EligibilityPolicy = "all-known-learners"
)

// AssistanceType describes one named, versioned assistance strategy.
// Descriptors are created at startup; the enabled flag is owned by the
// registry and mutable at runtime.
type AssistanceType struct {
	ID       string
	Version  string
	Category Category
	// Subscriptions lists the activity verbs that trigger the type reactively.
	// Empty for purely scheduled types.
	Subscriptions []Verb
	// Schedule is a standard 5-field cron expression, empty for purely
	// reactive types.
	Schedule    string
	Eligibility EligibilityPolicy
	Enabled     bool
}

// Subscribed reports whether the type reacts to the given verb.
func (t AssistanceType) Subscribed(verb Verb) bool {
	for _, v := range t.Subscriptions {
		if v == verb {
			return true
		}
	}
	return false
}

// AssistanceDecision is a concrete assistance message produced by one
// evaluator invocation. Evaluators return nil when no assistance is due.
type AssistanceDecision struct {
	AssistanceTypeID string
	LearnerID        string
	// TemplateKey names the localizable content template; parameters are
	// substituted by the learner-facing surface, never rendered here.
	TemplateKey string
	Parameters  map[string]any
	// SuppressionKey identifies semantically duplicate assistance for
	// cooldown-window deduplication.
	SuppressionKey string
}
