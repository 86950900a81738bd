package service

import (
	"context"
	"fmt"

	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
)

type sequenceStep struct {
	name string
	run  func(ctx context.Context) error
}

// sequence runs ordered workflow steps. The first failure stops it and nothing is rolled back.
// A failure after at least one completed step is reported as PARTIAL_SEQUENCE.
type sequence struct {
	operation string
	steps     []sequenceStep
	created   map[string]string
	completed []string
}

func newSequence(operation string) *sequence {
	return &sequence{operation: operation, created: make(map[string]string)}
}

func (s *sequence) step(name string, run func(ctx context.Context) error) *sequence {
	s.steps = append(s.steps, sequenceStep{name: name, run: run})
	return s
}

// recordCreated remembers an id created by a step so a partial failure can name it.
func (s *sequence) recordCreated(key, id string) {
	s.created[key] = id
}

// mutated reports whether any step completed.
func (s *sequence) mutated() bool {
	return len(s.completed) > 0
}

func (s *sequence) run(ctx context.Context) error {
	for _, st := range s.steps {
		err := ctx.Err()
		if err == nil {
			err = st.run(ctx)
		}
		if err != nil {
			if len(s.completed) == 0 {
				return err
			}
			return s.partial(st.name, err)
		}
		s.completed = append(s.completed, st.name)
	}
	return nil
}

func (s *sequence) partial(failed string, cause error) error {
	details := map[string]interface{}{
		"operation":      s.operation,
		"failedStep":     failed,
		"completedSteps": append([]string(nil), s.completed...),
	}
	if len(s.created) > 0 {
		created := make(map[string]string, len(s.created))
		for k, v := range s.created {
			created[k] = v
		}
		details["createdIds"] = created
	}
	if appErr := appErrors.FromError(cause); appErr != nil {
		details["cause"] = appErr.Code
	}
	msg := fmt.Sprintf("%s stopped at step %q after %d completed steps", s.operation, failed, len(s.completed))
	wrapped := appErrors.Wrap(cause, appErrors.ErrPartialSequence.Code, appErrors.ErrPartialSequence.Status, msg)
	return appErrors.WithDetails(wrapped, details)
}
