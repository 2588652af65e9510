// Package normalizer validates raw xAPI-style statements and canonicalizes
// them into the internal event model.
package normalizer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

// statement mirrors the subset of the xAPI statement shape the backbone needs.
type statement struct {
	ID    string `json:"id"`
	Actor struct {
		Account struct {
			Name string `json:"name"`
		} `json:"account"`
	} `json:"actor"`
	Verb struct {
		ID string `json:"id"`
	} `json:"verb"`
	Object struct {
		ID string `json:"id"`
	} `json:"object"`
	Timestamp string         `json:"timestamp"`
	Result    map[string]any `json:"result"`
}

// Normalize validates a raw statement payload and returns the immutable
// ActivityEvent. It is a pure function of its input: no side effects beyond
// validation.
func Normalize(payload []byte) (domain.ActivityEvent, error) {
	var stmt statement
	if err := json.Unmarshal(payload, &stmt); err != nil {
		return domain.ActivityEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	if stmt.Actor.Account.Name == "" {
		return domain.ActivityEvent{}, fmt.Errorf("%w: statement is not related to any user", domain.ErrMalformedEvent)
	}
	if stmt.Object.ID == "" {
		return domain.ActivityEvent{}, fmt.Errorf("%w: missing object id", domain.ErrMalformedEvent)
	}
	if stmt.Verb.ID == "" {
		return domain.ActivityEvent{}, fmt.Errorf("%w: missing verb id", domain.ErrMalformedEvent)
	}
	if stmt.Timestamp == "" {
		return domain.ActivityEvent{}, fmt.Errorf("%w: missing timestamp", domain.ErrMalformedEvent)
	}

	ts, err := time.Parse(time.RFC3339Nano, stmt.Timestamp)
	if err != nil {
		return domain.ActivityEvent{}, fmt.Errorf("%w: unparseable timestamp %q", domain.ErrMalformedEvent, stmt.Timestamp)
	}

	verb, ok := domain.ParseVerb(stmt.Verb.ID)
	if !ok {
		return domain.ActivityEvent{}, fmt.Errorf("%w: %q", domain.ErrUnknownVerb, stmt.Verb.ID)
	}

	id := stmt.ID
	if id == "" {
		id = uuid.NewString()
	}

	return domain.ActivityEvent{
		ID:        id,
		LearnerID: stmt.Actor.Account.Name,
		Verb:      verb,
		ObjectID:  stmt.Object.ID,
		Timestamp: ts.UTC(),
		Result:    stmt.Result,
	}, nil
}
