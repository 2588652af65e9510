// Package domain defines the core model for the assistance backbone.
package domain

import "time"

// Verb enumerates the recognized xAPI interaction kinds.
type Verb string

const (
	VerbAnswered    Verb = "answered"
	VerbAssisted    Verb = "assisted"
	VerbCompleted   Verb = "completed"
	VerbExperienced Verb = "experienced"
	VerbInteracted  Verb = "interacted"
	VerbLoggedIn    Verb = "logged-in"
	VerbLoggedOut   Verb = "logged-out"
	VerbRead        Verb = "read"
	VerbUsed        Verb = "used"
)

// verbByURI maps the xAPI verb identifiers emitted by learning platforms to
// the internal enumeration. Short names are accepted too, for payloads that
// arrive pre-canonicalized.
var verbByURI = map[string]Verb{
	"http://adlnet.gov/expapi/verbs/answered":            VerbAnswered,
	"https://brindlewaye.com/xAPITerms/verbs/assisted/":  VerbAssisted,
	"http://adlnet.gov/expapi/verbs/completed":           VerbCompleted,
	"http://adlnet.gov/expapi/verbs/experienced":         VerbExperienced,
	"http://adlnet.gov/expapi/verbs/interacted":          VerbInteracted,
	"https://brindlewaye.com/xAPITerms/verbs/loggedin/":  VerbLoggedIn,
	"https://brindlewaye.com/xAPITerms/verbs/loggedout/": VerbLoggedOut,
	"http://adlnet.gov/expapi/verbs/read":                VerbRead,
	"http://adlnet.gov/expapi/verbs/used":                VerbUsed,

	string(VerbAnswered):    VerbAnswered,
	string(VerbAssisted):    VerbAssisted,
	string(VerbCompleted):   VerbCompleted,
	string(VerbExperienced): VerbExperienced,
	string(VerbInteracted):  VerbInteracted,
	string(VerbLoggedIn):    VerbLoggedIn,
	string(VerbLoggedOut):   VerbLoggedOut,
	string(VerbRead):        VerbRead,
	string(VerbUsed):        VerbUsed,
}

// ParseVerb resolves a verb identifier (URI or short name) to the internal enumeration.
func ParseVerb(id string) (Verb, bool) {
	verb, ok := verbByURI[id]
	return verb, ok
}

// ActivityEvent is one normalized learner interaction. Immutable once built
// by the normalizer; evaluators read it and never mutate it.
type ActivityEvent struct {
	ID        string
	LearnerID string
	Verb      Verb
	ObjectID  string
	// Timestamp is the statement time as reported by the learning platform.
	// Out-of-order arrival per learner is tolerated.
	Timestamp time.Time
	// Result carries the opaque result/context payload of the statement.
	Result map[string]any
}
