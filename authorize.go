package server

import (
	"fmt"
	"sort"
	"strings"
)

// Eligible is the single authorization predicate shared by every destructive
// operation: (elevated OR unowned OR own-it) AND NOT locked. A lock blocks
// everyone, including the elevated role, until explicitly unlocked. The
// second return is the rejection reason when ok is false.
func Eligible(obj *SceneObject, uid string, elevated bool) (bool, string) {
	if obj.Locked {
		return false, RejectLocked
	}
	if elevated || obj.Owner == "" || obj.Owner == uid {
		return true, ""
	}
	return false, RejectNotOwner
}

// deleteEligible layers the delete-only rule on top of Eligible: the map
// background is never deletable.
func deleteEligible(obj *SceneObject, uid string, elevated bool) (bool, string) {
	if obj.Kind == ObjectKindMap {
		return false, RejectMapBackground
	}
	return Eligible(obj, uid, elevated)
}

// ConfirmFunc presents a prompt to the requester and reports acceptance. The
// interactive surface stays outside the core; tests and bots inject one.
type ConfirmFunc func(prompt string) bool

// DeleteRequest is a batch delete of the requester's selected objects.
type DeleteRequest struct {
	Selected []string
	UID      string
	Elevated bool
}

// DeleteHooks are the pipeline's side effects: one apply call per eligible id
// (so a single failure among N cannot stop the other N−1) and a selection
// clear once the batch is done.
type DeleteHooks struct {
	Confirm        ConfirmFunc
	Apply          func(id string) error
	ClearSelection func()
}

// DeleteOutcome reports what the pipeline did. Deleted holds the ids whose
// apply call succeeded; Declined is set when the requester refused the
// confirmation; Reason explains an empty outcome (all locked vs none owned).
type DeleteOutcome struct {
	Deleted  []string
	Declined bool
	Reason   string
}

type deletePlan struct {
	eligible   []string
	kindCounts map[ObjectKind]int
	resolved   int
	locked     int
	notOwned   int
	mapCount   int
}

func planDelete(snap *RoomSnapshot, req DeleteRequest) deletePlan {
	plan := deletePlan{kindCounts: make(map[ObjectKind]int)}
	for _, id := range req.Selected {
		obj, ok := snap.Object(id)
		if !ok {
			// Unresolvable ids are excluded silently; the object may have
			// been deleted by someone else since the selection was made.
			continue
		}
		plan.resolved++
		ok, reason := deleteEligible(obj, req.UID, req.Elevated)
		if !ok {
			switch reason {
			case RejectLocked:
				plan.locked++
			case RejectMapBackground:
				plan.mapCount++
			default:
				plan.notOwned++
			}
			continue
		}
		plan.eligible = append(plan.eligible, id)
		plan.kindCounts[obj.Kind]++
	}
	return plan
}

// DeleteSelection runs the permission-checked batch delete: resolve, filter
// through the eligibility predicate, confirm, then apply one delete per id
// and clear the selection. Exactly one confirmation is presented; when the
// eligible set is a strict subset it additionally names how many of the
// selection survive and why the rest were excluded. Declining aborts with
// zero mutations.
func DeleteSelection(snap *RoomSnapshot, req DeleteRequest, hooks DeleteHooks) DeleteOutcome {
	plan := planDelete(snap, req)

	if len(plan.eligible) == 0 {
		return DeleteOutcome{Reason: plan.emptyReason()}
	}

	if hooks.Confirm != nil && !hooks.Confirm(plan.prompt()) {
		return DeleteOutcome{Declined: true}
	}

	var deleted []string
	for _, id := range plan.eligible {
		if hooks.Apply == nil {
			continue
		}
		if err := hooks.Apply(id); err != nil {
			continue
		}
		deleted = append(deleted, id)
	}
	if hooks.ClearSelection != nil {
		hooks.ClearSelection()
	}
	return DeleteOutcome{Deleted: deleted}
}

func (p deletePlan) emptyReason() string {
	switch {
	case p.resolved == 0:
		return "nothing to delete"
	case p.locked > 0 && p.notOwned == 0:
		return "all selected objects are locked"
	case p.notOwned > 0 && p.locked == 0:
		return "none of the selected objects are owned by you"
	default:
		return "selected objects are locked or not owned by you"
	}
}

func (p deletePlan) prompt() string {
	var b strings.Builder
	b.WriteString("Delete ")
	b.WriteString(p.kindSummary())
	b.WriteString("?")

	if len(p.eligible) < p.resolved {
		b.WriteString(fmt.Sprintf(" (%d of %d selected", len(p.eligible), p.resolved))
		var excluded []string
		if p.locked > 0 {
			excluded = append(excluded, fmt.Sprintf("%d locked %s", p.locked, pluralize("object", p.locked)))
		}
		if p.notOwned > 0 {
			excluded = append(excluded, fmt.Sprintf("%d not owned by you", p.notOwned))
		}
		if p.mapCount > 0 {
			excluded = append(excluded, "the map background")
		}
		if len(excluded) > 0 {
			b.WriteString("; excluded: ")
			b.WriteString(strings.Join(excluded, ", "))
		}
		b.WriteString(")")
	}
	return b.String()
}

func (p deletePlan) kindSummary() string {
	kinds := make([]string, 0, len(p.kindCounts))
	for kind := range p.kindCounts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		count := p.kindCounts[ObjectKind(kind)]
		parts = append(parts, fmt.Sprintf("%d %s", count, pluralize(kind, count)))
	}
	return strings.Join(parts, ", ")
}

func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
