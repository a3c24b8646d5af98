// Package timeline assembles the administrative activity view: a user's audit
// records grouped by transaction group, each member annotated with what the
// calling administrator may do about it.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/domara/audit-engine/internal/db/models"
	"github.com/domara/audit-engine/internal/db/repositories"
	"github.com/domara/audit-engine/internal/undo"
)

// DefaultSinceDays bounds the timeline when the caller does not say how far back.
const DefaultSinceDays = 7

// Impact is the human-readable preview of what undoing a record would touch.
type Impact struct {
	Entity       string `json:"entity"`
	RelatedCount int    `json:"related_count"`
	RiskLevel    string `json:"risk_level"`
}

// RecordView is one audit record annotated for the calling administrator.
type RecordView struct {
	models.AuditRecord
	CanUndoByRole   bool   `json:"can_undo_by_role"`
	IsStillUndoable bool   `json:"is_still_undoable"`
	Impact          Impact `json:"impact"`
}

// GroupView is one transaction group with its annotated member records,
// newest member first.
type GroupView struct {
	Group   models.TransactionGroup `json:"group"`
	Records []RecordView            `json:"records"`
}

// Service builds timelines.
type Service struct {
	records  *repositories.AuditRecordRepository
	groups   *repositories.TransactionGroupRepository
	analyzer *undo.Analyzer
}

// NewService creates a timeline Service.
func NewService(
	records *repositories.AuditRecordRepository,
	groups *repositories.TransactionGroupRepository,
	analyzer *undo.Analyzer,
) *Service {
	return &Service{records: records, groups: groups, analyzer: analyzer}
}

// GetTimeline returns the user's activity for the last sinceDays days, grouped
// by transaction group. Groups are ordered by their most recent member,
// descending; members within a group are newest first. Records that are no
// longer undoable appear only when includeNonUndoable is set.
func (s *Service) GetTimeline(ctx context.Context, userID uuid.UUID, sinceDays int, includeNonUndoable bool, callerRole undo.Role) ([]GroupView, error) {
	if sinceDays <= 0 {
		sinceDays = DefaultSinceDays
	}
	since := time.Now().AddDate(0, 0, -sinceDays)

	recs, err := s.records.ListByUser(ctx, userID, since, includeNonUndoable)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return []GroupView{}, nil
	}

	// ListByUser returns newest first, so members land in each group already
	// ordered and the first member is the group's most recent activity.
	byGroup := make(map[uuid.UUID][]RecordView)
	var order []uuid.UUID
	for i := range recs {
		rec := &recs[i]
		view, err := s.annotate(ctx, rec, callerRole)
		if err != nil {
			return nil, err
		}
		if _, seen := byGroup[rec.GroupID]; !seen {
			order = append(order, rec.GroupID)
		}
		byGroup[rec.GroupID] = append(byGroup[rec.GroupID], view)
	}

	views := make([]GroupView, 0, len(order))
	for _, groupID := range order {
		group, err := s.groups.GetByID(ctx, groupID)
		if err != nil {
			return nil, err
		}
		if group == nil {
			// A record without its group row should not hide the records.
			group = &models.TransactionGroup{ID: groupID}
		}
		views = append(views, GroupView{Group: *group, Records: byGroup[groupID]})
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Records[0].CreatedAt.After(views[j].Records[0].CreatedAt)
	})
	return views, nil
}

// GetGroup returns one transaction group with its annotated member records, or
// nil when no such group exists.
func (s *Service) GetGroup(ctx context.Context, groupID uuid.UUID, callerRole undo.Role) (*GroupView, error) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, nil
	}

	recs, err := s.records.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	views := make([]RecordView, 0, len(recs))
	for i := range recs {
		view, err := s.annotate(ctx, &recs[i], callerRole)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return &GroupView{Group: *group, Records: views}, nil
}

func (s *Service) annotate(ctx context.Context, rec *models.AuditRecord, role undo.Role) (RecordView, error) {
	still, allowed, err := s.analyzer.Eligibility(ctx, rec, role)
	if err != nil {
		return RecordView{}, err
	}
	return RecordView{
		AuditRecord:     *rec,
		CanUndoByRole:   allowed,
		IsStillUndoable: still,
		Impact:          impactOf(rec),
	}, nil
}

func impactOf(rec *models.AuditRecord) Impact {
	entity := rec.EntityType
	if rec.EntityID != nil {
		entity = fmt.Sprintf("%s %s", rec.EntityType, *rec.EntityID)
	}
	return Impact{
		Entity:       entity,
		RelatedCount: len(rec.Related()),
		RiskLevel:    riskLevel(rec.Tier),
	}
}

// riskLevel translates a tier into the wording the admin UI shows.
func riskLevel(t models.Tier) string {
	switch t {
	case models.TierSimple:
		return "low"
	case models.TierModerate:
		return "medium"
	case models.TierComplex:
		return "high"
	default:
		return "irreversible"
	}
}
