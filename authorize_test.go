package server

import (
	"strings"
	"testing"
)

func boardWith(objs ...SceneObject) *RoomSnapshot {
	snap := NewRoomSnapshot()
	for _, obj := range objs {
		snap.AddObject(obj)
	}
	return snap
}

func TestLockSupremacy(t *testing.T) {
	obj := &SceneObject{ID: "token:1", Kind: ObjectKindToken, Locked: true, Owner: "self"}

	cases := []struct {
		name     string
		uid      string
		elevated bool
	}{
		{"owner", "self", false},
		{"stranger", "other", false},
		{"elevated", "gm", true},
		{"elevated owner", "self", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := Eligible(obj, tc.uid, tc.elevated)
			if ok {
				t.Fatalf("locked object was eligible for %s", tc.name)
			}
			if reason != RejectLocked {
				t.Fatalf("reason = %q, want %q", reason, RejectLocked)
			}
		})
	}
}

func TestOwnershipEligibility(t *testing.T) {
	cases := []struct {
		name     string
		owner    string
		uid      string
		elevated bool
		want     bool
	}{
		{"unowned, anyone", "", "anyone", false, true},
		{"owned, owner", "alice", "alice", false, true},
		{"owned, stranger", "alice", "bob", false, false},
		{"owned, elevated stranger", "alice", "bob", true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj := &SceneObject{ID: "x", Kind: ObjectKindToken, Owner: tc.owner}
			ok, _ := Eligible(obj, tc.uid, tc.elevated)
			if ok != tc.want {
				t.Fatalf("eligible = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestMapBackgroundNeverDeletable(t *testing.T) {
	obj := &SceneObject{ID: "map:1", Kind: ObjectKindMap}
	ok, reason := deleteEligible(obj, "gm", true)
	if ok {
		t.Fatalf("map background was delete-eligible")
	}
	if reason != RejectMapBackground {
		t.Fatalf("reason = %q, want %q", reason, RejectMapBackground)
	}
}

func TestDeleteSelectionPartialBatch(t *testing.T) {
	snap := boardWith(
		SceneObject{ID: "token:1", Kind: ObjectKindToken},
		SceneObject{ID: "token:2", Kind: ObjectKindToken, Locked: true},
		SceneObject{ID: "drawing:3", Kind: ObjectKindDrawing, Owner: "self"},
	)

	var prompts []string
	var applied []string
	cleared := false
	outcome := DeleteSelection(snap, DeleteRequest{
		Selected: []string{"token:1", "token:2", "drawing:3"},
		UID:      "self",
	}, DeleteHooks{
		Confirm: func(prompt string) bool {
			prompts = append(prompts, prompt)
			return true
		},
		Apply: func(id string) error {
			applied = append(applied, id)
			return nil
		},
		ClearSelection: func() { cleared = true },
	})

	if len(prompts) != 1 {
		t.Fatalf("expected exactly one confirmation, got %d: %v", len(prompts), prompts)
	}
	if !strings.Contains(prompts[0], "2 of 3") {
		t.Fatalf("confirmation %q does not name the surviving count", prompts[0])
	}
	if !strings.Contains(prompts[0], "1 locked object") {
		t.Fatalf("confirmation %q does not name the locked exclusion", prompts[0])
	}
	if len(applied) != 2 || applied[0] != "token:1" || applied[1] != "drawing:3" {
		t.Fatalf("applied = %v, want [token:1 drawing:3]", applied)
	}
	if len(outcome.Deleted) != 2 {
		t.Fatalf("outcome.Deleted = %v", outcome.Deleted)
	}
	if !cleared {
		t.Fatalf("selection was not cleared after the batch")
	}
}

func TestDeleteSelectionDeclinedAbortsWithZeroMutations(t *testing.T) {
	snap := boardWith(
		SceneObject{ID: "token:1", Kind: ObjectKindToken},
		SceneObject{ID: "token:2", Kind: ObjectKindToken, Locked: true},
		SceneObject{ID: "drawing:3", Kind: ObjectKindDrawing, Owner: "self"},
	)

	applied := 0
	outcome := DeleteSelection(snap, DeleteRequest{
		Selected: []string{"token:1", "token:2", "drawing:3"},
		UID:      "self",
	}, DeleteHooks{
		Confirm: func(string) bool { return false },
		Apply: func(string) error {
			applied++
			return nil
		},
	})

	if !outcome.Declined {
		t.Fatalf("outcome did not record the decline")
	}
	if applied != 0 {
		t.Fatalf("declined confirmation still applied %d deletions", applied)
	}
}

func TestDeleteSelectionEmptyReasons(t *testing.T) {
	cases := []struct {
		name     string
		objects  []SceneObject
		selected []string
		wantPart string
	}{
		{
			name:     "all locked",
			objects:  []SceneObject{{ID: "a", Kind: ObjectKindToken, Locked: true}, {ID: "b", Kind: ObjectKindToken, Locked: true}},
			selected: []string{"a", "b"},
			wantPart: "locked",
		},
		{
			name:     "none owned",
			objects:  []SceneObject{{ID: "a", Kind: ObjectKindToken, Owner: "other"}},
			selected: []string{"a"},
			wantPart: "owned",
		},
		{
			name:     "nothing resolvable",
			objects:  nil,
			selected: []string{"gone"},
			wantPart: "nothing",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := boardWith(tc.objects...)
			confirmed := false
			outcome := DeleteSelection(snap, DeleteRequest{Selected: tc.selected, UID: "self"}, DeleteHooks{
				Confirm: func(string) bool {
					confirmed = true
					return true
				},
			})
			if confirmed {
				t.Fatalf("empty eligible set still asked for confirmation")
			}
			if !strings.Contains(outcome.Reason, tc.wantPart) {
				t.Fatalf("reason %q does not mention %q", outcome.Reason, tc.wantPart)
			}
		})
	}
}

func TestDeleteSelectionUnresolvableIDsExcludedSilently(t *testing.T) {
	snap := boardWith(SceneObject{ID: "token:1", Kind: ObjectKindToken})

	var applied []string
	outcome := DeleteSelection(snap, DeleteRequest{
		Selected: []string{"token:1", "long-gone"},
		UID:      "self",
	}, DeleteHooks{
		Confirm: func(prompt string) bool {
			// Only one id resolved, so the eligible set is not a strict
			// subset of the resolvable selection; no exclusion is named.
			if strings.Contains(prompt, "of") {
				t.Fatalf("prompt %q counts unresolvable ids", prompt)
			}
			return true
		},
		Apply: func(id string) error {
			applied = append(applied, id)
			return nil
		},
	})

	if len(applied) != 1 || applied[0] != "token:1" {
		t.Fatalf("applied = %v, want [token:1]", applied)
	}
	if len(outcome.Deleted) != 1 {
		t.Fatalf("outcome.Deleted = %v", outcome.Deleted)
	}
}

func TestDeleteSelectionApplyFailureDoesNotStopBatch(t *testing.T) {
	snap := boardWith(
		SceneObject{ID: "a", Kind: ObjectKindToken},
		SceneObject{ID: "b", Kind: ObjectKindToken},
		SceneObject{ID: "c", Kind: ObjectKindToken},
	)

	outcome := DeleteSelection(snap, DeleteRequest{Selected: []string{"a", "b", "c"}, UID: "self"}, DeleteHooks{
		Confirm: func(string) bool { return true },
		Apply: func(id string) error {
			if id == "b" {
				return errWriteRefused
			}
			return nil
		},
	})

	if len(outcome.Deleted) != 2 {
		t.Fatalf("one failing apply stopped the batch: deleted=%v", outcome.Deleted)
	}
}
