// Package classify derives a reversibility tier for an audited action. The
// classifier is a fixed decision table evaluated in priority order; it never
// consults the database, which keeps record-time classification deterministic
// and cheap.
package classify

import (
	"encoding/json"

	"github.com/domara/audit-engine/internal/db/models"
)

// DefaultRelatedThreshold is how many related entities a delete may touch
// before it is considered complex.
const DefaultRelatedThreshold = 5

// defaultDeepEntityTypes are entity types whose deletes cascade through deep
// ownership trees, making restoration complex regardless of the related count.
var defaultDeepEntityTypes = map[string]bool{
	"building":    true,
	"condominium": true,
}

// Classifier computes reversibility tiers. Construct it with NewClassifier and
// share one instance; it holds no mutable state.
type Classifier struct {
	relatedThreshold int
	deepEntityTypes  map[string]bool
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithRelatedThreshold overrides the related-entity count above which deletes
// are classified complex.
func WithRelatedThreshold(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.relatedThreshold = n
		}
	}
}

// WithDeepEntityTypes overrides the set of structurally deep entity types.
func WithDeepEntityTypes(types ...string) Option {
	return func(c *Classifier) {
		c.deepEntityTypes = make(map[string]bool, len(types))
		for _, t := range types {
			c.deepEntityTypes[t] = true
		}
	}
}

// NewClassifier creates a Classifier with the default decision table.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		relatedThreshold: DefaultRelatedThreshold,
		deepEntityTypes:  defaultDeepEntityTypes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Input carries everything the decision table looks at.
type Input struct {
	Action          models.ActionKind
	EntityType      string
	BeforeSnapshot  json.RawMessage
	AfterSnapshot   json.RawMessage
	RelatedEntities []models.RelatedEntityRef
}

// Classify returns the reversibility tier for an action. Rules are evaluated
// in order; the first match wins.
func (c *Classifier) Classify(in Input) models.Tier {
	related := len(in.RelatedEntities)

	switch {
	case !in.Action.IsMutation():
		return models.TierImpossible
	case in.Action == models.ActionUpdate && in.EntityType == "user":
		return models.TierSimple
	case in.Action == models.ActionDelete && related > c.relatedThreshold:
		return models.TierComplex
	case in.Action == models.ActionDelete && c.deepEntityTypes[in.EntityType]:
		return models.TierComplex
	case in.Action == models.ActionCreate && related > 0:
		return models.TierModerate
	default:
		return models.TierSimple
	}
}
