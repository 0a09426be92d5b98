package deploy

import (
	"context"
	"time"

	"github.com/machshop/extension-orchestrator/pkg/telemetry"
)

// phaseSpec is one planned step of a rollout strategy.
type phaseSpec struct {
	Name       string
	Percentage int
}

// phasesFor expands a rollout strategy into its ordered phases. Every
// strategy ends at 100 percent; blue_green stands up the green side at
// zero traffic before cutting over.
func phasesFor(strategy RolloutStrategy) []phaseSpec {
	switch strategy {
	case RolloutStaged:
		return []phaseSpec{
			{Name: "stage-1", Percentage: 25},
			{Name: "stage-2", Percentage: 50},
			{Name: "stage-3", Percentage: 100},
		}
	case RolloutCanary:
		return []phaseSpec{
			{Name: "canary", Percentage: 5},
			{Name: "full", Percentage: 100},
		}
	case RolloutBlueGreen:
		return []phaseSpec{
			{Name: "green-standup", Percentage: 0},
			{Name: "cutover", Percentage: 100},
		}
	default:
		return []phaseSpec{{Name: "full", Percentage: 100}}
	}
}

// executeRollout runs every phase of the record's strategy in order,
// appending a PhaseRecord per phase. Context cancellation aborts the
// rollout mid-phase and surfaces as the deployment failure.
func (s *Service) executeRollout(ctx context.Context, record *Record) error {
	for _, spec := range phasesFor(record.RolloutStrategy) {
		if err := ctx.Err(); err != nil {
			return err
		}

		phaseStarted := s.now()
		phase := PhaseRecord{
			Name:       spec.Name,
			Percentage: spec.Percentage,
			Status:     "running",
			StartedAt:  phaseStarted,
		}

		var err error
		if s.tracer != nil {
			_, span := s.tracer.StartRolloutPhaseSpan(ctx, string(record.RolloutStrategy), spec.Name, spec.Percentage)
			err = s.runPhase(ctx)
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		} else {
			err = s.runPhase(ctx)
		}

		completed := s.now()
		phase.CompletedAt = &completed
		if err != nil {
			phase.Status = "failed"
			record.Phases = append(record.Phases, phase)
			return err
		}
		phase.Status = "completed"
		record.Phases = append(record.Phases, phase)
		s.metrics.RecordRolloutPhase(string(record.RolloutStrategy), spec.Name, completed.Sub(phaseStarted))
	}
	return nil
}

// runPhase holds the phase open for the configured pause, watching for
// cancellation. The pause models bake time between traffic increments.
func (s *Service) runPhase(ctx context.Context) error {
	if s.phasePause <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.phasePause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
