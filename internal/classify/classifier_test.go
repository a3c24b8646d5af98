package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/domara/audit-engine/internal/db/models"
)

func refs(n int) []models.RelatedEntityRef {
	out := make([]models.RelatedEntityRef, n)
	for i := range out {
		out[i] = models.RelatedEntityRef{EntityType: "attachment", EntityID: "a"}
	}
	return out
}

func TestClassify_NonMutationsAreImpossible(t *testing.T) {
	c := NewClassifier()

	for _, action := range []models.ActionKind{
		models.ActionRead, models.ActionLogin, models.ActionLogout, models.ActionAccessDenied,
	} {
		tier := c.Classify(Input{Action: action, EntityType: "user"})
		assert.Equal(t, models.TierImpossible, tier, "action %s", action)
	}
}

func TestClassify_UserUpdateIsSimple(t *testing.T) {
	c := NewClassifier()

	// Rule order matters: a user update stays simple even with many related
	// entities attached.
	tier := c.Classify(Input{
		Action:          models.ActionUpdate,
		EntityType:      "user",
		RelatedEntities: refs(10),
	})
	assert.Equal(t, models.TierSimple, tier)
}

func TestClassify_WideDeleteIsComplex(t *testing.T) {
	c := NewClassifier()

	tier := c.Classify(Input{
		Action:          models.ActionDelete,
		EntityType:      "lease",
		RelatedEntities: refs(6),
	})
	assert.Equal(t, models.TierComplex, tier)
}

func TestClassify_DeleteAtThresholdIsNotComplex(t *testing.T) {
	c := NewClassifier()

	tier := c.Classify(Input{
		Action:          models.ActionDelete,
		EntityType:      "lease",
		RelatedEntities: refs(5),
	})
	assert.Equal(t, models.TierSimple, tier)
}

func TestClassify_DeepEntityDeleteIsComplex(t *testing.T) {
	c := NewClassifier()

	for _, entityType := range []string{"building", "condominium"} {
		tier := c.Classify(Input{Action: models.ActionDelete, EntityType: entityType})
		assert.Equal(t, models.TierComplex, tier, "entity type %s", entityType)
	}
}

func TestClassify_CreateWithRelatedIsModerate(t *testing.T) {
	c := NewClassifier()

	tier := c.Classify(Input{
		Action:          models.ActionCreate,
		EntityType:      "apartment",
		RelatedEntities: refs(1),
	})
	assert.Equal(t, models.TierModerate, tier)
}

func TestClassify_Defaults(t *testing.T) {
	c := NewClassifier()

	assert.Equal(t, models.TierSimple, c.Classify(Input{Action: models.ActionCreate, EntityType: "apartment"}))
	assert.Equal(t, models.TierSimple, c.Classify(Input{Action: models.ActionUpdate, EntityType: "apartment"}))
	assert.Equal(t, models.TierSimple, c.Classify(Input{Action: models.ActionDelete, EntityType: "apartment"}))
}

func TestClassify_CustomThreshold(t *testing.T) {
	c := NewClassifier(WithRelatedThreshold(2))

	tier := c.Classify(Input{
		Action:          models.ActionDelete,
		EntityType:      "lease",
		RelatedEntities: refs(3),
	})
	assert.Equal(t, models.TierComplex, tier)
}

func TestClassify_CustomDeepEntityTypes(t *testing.T) {
	c := NewClassifier(WithDeepEntityTypes("portfolio"))

	assert.Equal(t, models.TierComplex, c.Classify(Input{Action: models.ActionDelete, EntityType: "portfolio"}))
	assert.Equal(t, models.TierSimple, c.Classify(Input{Action: models.ActionDelete, EntityType: "building"}))
}

// User-entity deletes with no related entities are the common account-removal
// path and must stay simple so support staff can reverse them.
func TestClassify_UserDeleteNoRelatedIsSimple(t *testing.T) {
	c := NewClassifier()

	tier := c.Classify(Input{Action: models.ActionDelete, EntityType: "user"})
	assert.Equal(t, models.TierSimple, tier)
}
