package confirm

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"tabletavern/server"
)

var errClosed = errors.New("connection closed")

func characterFields(room server.RoomSnapshot, targetID string) (Fields, bool) {
	ch, ok := room.CharacterByID(targetID)
	if !ok {
		return nil, false
	}
	return Fields{"name": ch.Name, "hp": ch.HP, "maxHp": ch.MaxHP}, true
}

func roomWith(chars ...server.Character) server.RoomSnapshot {
	return server.RoomSnapshot{Characters: chars}
}

type sendRecorder struct {
	commands []server.Command
	err      error
}

func (s *sendRecorder) send(cmd server.Command) error {
	if s.err != nil {
		return s.err
	}
	s.commands = append(s.commands, cmd)
	return nil
}

func TestConfirmRequiresAllTrackedFieldsSimultaneously(t *testing.T) {
	var results []Result
	sender := &sendRecorder{}
	tracker := NewTracker("character", sender.send, characterFields,
		OnResult(func(r Result) { results = append(results, r) }))

	room := roomWith(server.Character{ID: "c1", Name: "Old Name", HP: 10, MaxHP: 10})
	err := tracker.Begin(room, "c1", Fields{"name": "Mira", "hp": 7}, &server.UpdateCharacterCommand{ID: "c1"})
	assert.Equal(t, err, nil)
	assert.Equal(t, len(sender.commands), 1)
	assert.Equal(t, tracker.Pending("c1"), true)

	// Name landed but hp is still stale: not confirmed.
	tracker.Observe(roomWith(server.Character{ID: "c1", Name: "Mira", HP: 10, MaxHP: 10}))
	assert.Equal(t, tracker.Pending("c1"), true)
	assert.Equal(t, len(results), 0)

	// hp landed but the name reverted: still not confirmed.
	tracker.Observe(roomWith(server.Character{ID: "c1", Name: "Old Name", HP: 7, MaxHP: 10}))
	assert.Equal(t, tracker.Pending("c1"), true)

	tracker.Observe(roomWith(server.Character{ID: "c1", Name: "Mira", HP: 7, MaxHP: 10}))
	assert.Equal(t, tracker.Pending("c1"), false)
	assert.Equal(t, len(results), 1)
	assert.Equal(t, results[0].Status, StatusConfirmed)
	assert.Equal(t, results[0].TargetID, "c1")
}

func TestConfirmIgnoresUntrackedFields(t *testing.T) {
	sender := &sendRecorder{}
	done := make(chan Result, 1)
	tracker := NewTracker("character", sender.send, characterFields,
		OnResult(func(r Result) { done <- r }))

	room := roomWith(server.Character{ID: "npc:1", Name: "Bandit", NPC: true, HP: 10, MaxHP: 10})
	hp := 7
	err := tracker.Begin(room, "npc:1", Fields{"hp": hp}, &server.UpdateCharacterCommand{ID: "npc:1", HP: &hp})
	assert.Equal(t, err, nil)

	// hp arrives alongside an unrelated maxHp edit from another player; only
	// the tracked hp field decides.
	tracker.Observe(roomWith(server.Character{ID: "npc:1", Name: "Bandit", NPC: true, HP: 7, MaxHP: 12}))

	select {
	case r := <-done:
		assert.Equal(t, r.Status, StatusConfirmed)
		assert.Equal(t, r.Expected["hp"], 7)
	default:
		t.Fatalf("tracked-field-only match did not confirm")
	}
}

func TestConfirmHPWithLaggingMaxHP(t *testing.T) {
	sender := &sendRecorder{}
	var results []Result
	tracker := NewTracker("character", sender.send, characterFields,
		OnResult(func(r Result) { results = append(results, r) }))

	room := roomWith(server.Character{ID: "npc:1", Name: "Bandit", NPC: true, HP: 10, MaxHP: 10})
	hp, maxHP := 7, 12
	err := tracker.Begin(room, "npc:1", Fields{"hp": hp, "maxHp": maxHP},
		&server.UpdateCharacterCommand{ID: "npc:1", HP: &hp, MaxHP: &maxHP})
	assert.Equal(t, err, nil)

	// hp landed first; the tracked maxHp is still at its old value.
	tracker.Observe(roomWith(server.Character{ID: "npc:1", Name: "Bandit", NPC: true, HP: 7, MaxHP: 10}))
	assert.Equal(t, tracker.Pending("npc:1"), true)
	assert.Equal(t, len(results), 0)

	tracker.Observe(roomWith(server.Character{ID: "npc:1", Name: "Bandit", NPC: true, HP: 7, MaxHP: 12}))
	assert.Equal(t, tracker.Pending("npc:1"), false)
	assert.Equal(t, len(results), 1)
	assert.Equal(t, results[0].Status, StatusConfirmed)
}

func TestConfirmUnrelatedChangeLeavesPending(t *testing.T) {
	sender := &sendRecorder{}
	tracker := NewTracker("character", sender.send, characterFields)

	room := roomWith(server.Character{ID: "c1", Name: "Mira", HP: 10, MaxHP: 10})
	hp := 7
	err := tracker.Begin(room, "c1", Fields{"hp": hp}, &server.UpdateCharacterCommand{ID: "c1", HP: &hp})
	assert.Equal(t, err, nil)

	// Someone renamed the character; our hp update has not landed.
	tracker.Observe(roomWith(server.Character{ID: "c1", Name: "Miranda", HP: 10, MaxHP: 10}))
	assert.Equal(t, tracker.Pending("c1"), true)
}

func TestSecondRequestForSameTargetRejected(t *testing.T) {
	sender := &sendRecorder{}
	tracker := NewTracker("character", sender.send, characterFields)

	room := roomWith(server.Character{ID: "c1", Name: "Mira", HP: 10, MaxHP: 10})
	hp := 7
	assert.Equal(t, tracker.Begin(room, "c1", Fields{"hp": hp}, &server.UpdateCharacterCommand{ID: "c1", HP: &hp}), nil)

	hp2 := 3
	err := tracker.Begin(room, "c1", Fields{"hp": hp2}, &server.UpdateCharacterCommand{ID: "c1", HP: &hp2})
	assert.Equal(t, err, ErrRequestPending)

	// The rejection must not disturb the original: one send, still pending,
	// and the original expectation still confirms.
	assert.Equal(t, len(sender.commands), 1)
	assert.Equal(t, tracker.Pending("c1"), true)
	tracker.Observe(roomWith(server.Character{ID: "c1", Name: "Mira", HP: 7, MaxHP: 10}))
	assert.Equal(t, tracker.Pending("c1"), false)
}

func TestUnknownTargetRejectedWithoutSend(t *testing.T) {
	sender := &sendRecorder{}
	tracker := NewTracker("character", sender.send, characterFields)

	err := tracker.Begin(roomWith(), "ghost", Fields{"hp": 7}, &server.UpdateCharacterCommand{ID: "ghost"})
	assert.Equal(t, err, ErrUnknownTarget)
	assert.Equal(t, len(sender.commands), 0)
	assert.Equal(t, tracker.Pending("ghost"), false)
}

func TestSendFailureClearsRecord(t *testing.T) {
	sender := &sendRecorder{err: errClosed}
	tracker := NewTracker("character", sender.send, characterFields)

	room := roomWith(server.Character{ID: "c1", Name: "Mira", HP: 10, MaxHP: 10})
	err := tracker.Begin(room, "c1", Fields{"hp": 7}, &server.UpdateCharacterCommand{ID: "c1"})
	assert.Equal(t, err, errClosed)
	assert.Equal(t, tracker.Pending("c1"), false)
}

func TestTimeoutIsFinal(t *testing.T) {
	sender := &sendRecorder{}
	results := make(chan Result, 2)
	tracker := NewTracker("character", sender.send, characterFields,
		WithTimeout(20*time.Millisecond),
		OnResult(func(r Result) { results <- r }))

	room := roomWith(server.Character{ID: "c1", Name: "Mira", HP: 10, MaxHP: 10})
	hp := 7
	assert.Equal(t, tracker.Begin(room, "c1", Fields{"hp": hp}, &server.UpdateCharacterCommand{ID: "c1", HP: &hp}), nil)

	var timedOut Result
	select {
	case timedOut = <-results:
	case <-time.After(time.Second):
		t.Fatalf("timeout never fired")
	}
	assert.Equal(t, timedOut.Status, StatusTimedOut)
	assert.Equal(t, tracker.Pending("c1"), false)

	// A snapshot that matches after the timeout must not resurrect the
	// record or emit a second result.
	tracker.Observe(roomWith(server.Character{ID: "c1", Name: "Mira", HP: 7, MaxHP: 10}))
	select {
	case r := <-results:
		t.Fatalf("late snapshot emitted a second result: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConfirmationBeatsTimeout(t *testing.T) {
	sender := &sendRecorder{}
	results := make(chan Result, 2)
	tracker := NewTracker("character", sender.send, characterFields,
		WithTimeout(time.Hour),
		OnResult(func(r Result) { results <- r }))

	room := roomWith(server.Character{ID: "c1", Name: "Mira", HP: 10, MaxHP: 10})
	hp := 7
	assert.Equal(t, tracker.Begin(room, "c1", Fields{"hp": hp}, &server.UpdateCharacterCommand{ID: "c1", HP: &hp}), nil)

	tracker.Observe(roomWith(server.Character{ID: "c1", Name: "Mira", HP: 7, MaxHP: 10}))

	r := <-results
	assert.Equal(t, r.Status, StatusConfirmed)
	if r.Elapsed < 0 {
		t.Fatalf("negative elapsed %v", r.Elapsed)
	}
}
