package saga_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cassiomorais/pos-payments/pkg/saga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaga_AllStepsSucceed(t *testing.T) {
	var executed []string

	s := saga.New("test-saga").
		AddStep(saga.Step{
			Name:    "step1",
			Execute: func(ctx context.Context) error { executed = append(executed, "exec1"); return nil },
		}).
		AddStep(saga.Step{
			Name:    "step2",
			Execute: func(ctx context.Context) error { executed = append(executed, "exec2"); return nil },
		})

	require.NoError(t, s.Execute(context.Background()))
	assert.Equal(t, []string{"exec1", "exec2"}, executed)
}

func TestSaga_SecondStepFails_CompensatesFirst(t *testing.T) {
	var executed []string
	errStep2 := errors.New("step2 failed")

	s := saga.New("test-saga").
		AddStep(saga.Step{
			Name:       "step1",
			Execute:    func(ctx context.Context) error { executed = append(executed, "exec1"); return nil },
			Compensate: func(ctx context.Context) error { executed = append(executed, "comp1"); return nil },
		}).
		AddStep(saga.Step{
			Name:    "step2",
			Execute: func(ctx context.Context) error { return errStep2 },
			Compensate: func(ctx context.Context) error {
				executed = append(executed, "comp2")
				return nil
			},
		}).
		AddStep(saga.Step{
			Name:    "step3",
			Execute: func(ctx context.Context) error { executed = append(executed, "exec3"); return nil },
		})

	err := s.Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errStep2)

	var stepErr *saga.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, "step2", stepErr.Step)
	assert.Equal(t, 1, stepErr.Compensated)
	assert.NoError(t, stepErr.CompensationErr)
	assert.Equal(t, []string{"exec1", "comp1"}, executed)
}

func TestSaga_ThirdStepFails_CompensatesInReverse(t *testing.T) {
	var compensated []string

	s := saga.New("test-saga").
		AddStep(saga.Step{
			Name:       "step1",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { compensated = append(compensated, "comp1"); return nil },
		}).
		AddStep(saga.Step{
			Name:       "step2",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { compensated = append(compensated, "comp2"); return nil },
		}).
		AddStep(saga.Step{
			Name:    "step3",
			Execute: func(ctx context.Context) error { return errors.New("step3 failed") },
		})

	err := s.Execute(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"comp2", "comp1"}, compensated)
}

func TestSaga_NoSteps(t *testing.T) {
	assert.NoError(t, saga.New("empty").Execute(context.Background()))
}

func TestSaga_CompensationErrorsAreCollected(t *testing.T) {
	s := saga.New("test-saga").
		AddStep(saga.Step{
			Name:       "step1",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { return errors.New("comp1 failed") },
		}).
		AddStep(saga.Step{
			Name:       "step2",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { return errors.New("comp2 failed") },
		}).
		AddStep(saga.Step{
			Name:    "step3",
			Execute: func(ctx context.Context) error { return errors.New("step3 failed") },
		})

	err := s.Execute(context.Background())
	require.Error(t, err)

	var stepErr *saga.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 0, stepErr.Compensated)
	assert.Contains(t, stepErr.CompensationErr.Error(), "comp1 failed")
	assert.Contains(t, stepErr.CompensationErr.Error(), "comp2 failed")
	assert.Contains(t, err.Error(), "compensation also failed")
}

func TestSaga_NilCompensate(t *testing.T) {
	s := saga.New("test-saga").
		AddStep(saga.Step{
			Name:    "step1",
			Execute: func(ctx context.Context) error { return nil },
		}).
		AddStep(saga.Step{
			Name:    "step2",
			Execute: func(ctx context.Context) error { return errors.New("fail") },
		})

	err := s.Execute(context.Background())
	var stepErr *saga.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, 0, stepErr.Compensated)
}
