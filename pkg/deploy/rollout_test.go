package deploy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPhasesFor(t *testing.T) {
	tests := []struct {
		strategy    RolloutStrategy
		names       []string
		percentages []int
	}{
		{RolloutImmediate, []string{"full"}, []int{100}},
		{RolloutStaged, []string{"stage-1", "stage-2", "stage-3"}, []int{25, 50, 100}},
		{RolloutCanary, []string{"canary", "full"}, []int{5, 100}},
		{RolloutBlueGreen, []string{"green-standup", "cutover"}, []int{0, 100}},
		{RolloutStrategy("unknown"), []string{"full"}, []int{100}},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			phases := phasesFor(tt.strategy)
			if len(phases) != len(tt.names) {
				t.Fatalf("got %d phases, want %d", len(phases), len(tt.names))
			}
			for i, phase := range phases {
				if phase.Name != tt.names[i] || phase.Percentage != tt.percentages[i] {
					t.Errorf("phase %d = %s/%d, want %s/%d",
						i, phase.Name, phase.Percentage, tt.names[i], tt.percentages[i])
				}
			}
			if phases[len(phases)-1].Percentage != 100 {
				t.Error("every strategy must end at 100 percent")
			}
		})
	}
}

func TestExecuteRolloutRecordsPhases(t *testing.T) {
	svc, _ := newTestService(t)
	record := &Record{RolloutStrategy: RolloutCanary}

	if err := svc.executeRollout(context.Background(), record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(record.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(record.Phases))
	}
	for _, phase := range record.Phases {
		if phase.Status != "completed" {
			t.Errorf("phase %s status = %s", phase.Name, phase.Status)
		}
		if phase.CompletedAt == nil {
			t.Errorf("phase %s has no completion timestamp", phase.Name)
		}
	}
}

func TestExecuteRolloutAlreadyCancelled(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record := &Record{RolloutStrategy: RolloutStaged}
	err := svc.executeRollout(ctx, record)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(record.Phases) != 0 {
		t.Errorf("cancelled before the first phase, got %d phases", len(record.Phases))
	}
}

func TestExecuteRolloutCancelledMidPhase(t *testing.T) {
	svc, _ := newTestService(t)
	svc.phasePause = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	record := &Record{RolloutStrategy: RolloutImmediate}

	err := svc.executeRollout(ctx, record)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if len(record.Phases) != 1 || record.Phases[0].Status != "failed" {
		t.Errorf("phases = %v, want one failed phase", record.Phases)
	}
}

func TestRunPhaseWithoutPauseReturnsImmediately(t *testing.T) {
	svc, _ := newTestService(t)

	started := time.Now()
	if err := svc.runPhase(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Errorf("runPhase without pause took %v", elapsed)
	}
}

func TestRunPhaseWaitsForPause(t *testing.T) {
	svc, _ := newTestService(t)
	svc.phasePause = 20 * time.Millisecond

	started := time.Now()
	if err := svc.runPhase(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 20*time.Millisecond {
		t.Errorf("runPhase returned after %v, before the pause elapsed", elapsed)
	}
}
