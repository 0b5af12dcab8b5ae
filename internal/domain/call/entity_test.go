package call

import (
	"testing"
	"time"
)

func TestFinishComputesDurationFromAnswerTime(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewOutbound("c-1", "+15551234567", start)
	c.State = StateInCall
	c.MarkAnswered(start.Add(5 * time.Second))
	c.MarkAnswered(start.Add(50 * time.Second))

	c.Finish(DispositionCompleted, start.Add(95*time.Second))
	if c.DurationSeconds != 90 {
		t.Fatalf("expected 90s duration, got %d", c.DurationSeconds)
	}
	if c.State != StateEnded {
		t.Fatalf("expected ENDED, got %s", c.State)
	}
	if c.EndedAt == nil || !c.EndedAt.Equal(start.Add(95*time.Second)) {
		t.Fatalf("expected end time to be stamped")
	}
}

func TestFinishWithoutAnswerHasZeroDuration(t *testing.T) {
	t.Parallel()

	start := time.Now()
	c := NewInbound("c-2", "+15550001111", "Reception", start)
	c.Finish(DispositionTimeout, start.Add(30*time.Second))
	if c.DurationSeconds != 0 {
		t.Fatalf("expected zero duration, got %d", c.DurationSeconds)
	}
	if !c.Disposition.Missed() {
		t.Fatalf("expected timeout to count as missed")
	}
}

func TestFinishKeepsErrorState(t *testing.T) {
	t.Parallel()

	c := NewOutbound("c-3", "200", time.Now())
	c.State = StateError
	c.Finish("", time.Now())
	if c.State != StateError {
		t.Fatalf("expected ERROR to stay terminal, got %s", c.State)
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	if !StateDialing.CanTransition(StateRingingOut) {
		t.Fatalf("DIALING -> RINGING_OUT must be allowed")
	}
	if StateRingingOut.CanTransition(StateOnHold) {
		t.Fatalf("RINGING_OUT -> ON_HOLD must not be allowed")
	}
	if StateEnded.CanTransition(StateInCall) {
		t.Fatalf("terminal states must not transition")
	}
	if !CanAnswer(StateRingingIn) || CanAnswer(StateConnecting) {
		t.Fatalf("answer guard is wrong")
	}
	if !CanHold(StateOnHold) || CanHold(StateTransferring) {
		t.Fatalf("hold guard is wrong")
	}
	if CanTransfer(StateOnHold) || !CanTransfer(StateInCall) {
		t.Fatalf("transfer guard is wrong")
	}
}

func TestCloneDetachesTimestamps(t *testing.T) {
	t.Parallel()

	c := NewOutbound("c-4", "300", time.Now())
	c.MarkAnswered(time.Now())
	clone := c.Clone()
	*clone.AnsweredAt = clone.AnsweredAt.Add(time.Hour)
	if c.AnsweredAt.Equal(*clone.AnsweredAt) {
		t.Fatalf("clone must not share the answer timestamp")
	}
}
