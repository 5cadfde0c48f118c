package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Step is one provisioning action. Steps run strictly one after another.
type Step interface {
	Name() string
	Run(ctx context.Context) error
}

type funcStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (s funcStep) Name() string                  { return s.name }
func (s funcStep) Run(ctx context.Context) error { return s.fn(ctx) }

// StepFunc wraps fn as a named Step.
func StepFunc(name string, fn func(ctx context.Context) error) Step {
	return funcStep{name: name, fn: fn}
}

// StepError reports which step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type Pipeline struct {
	steps []Step
}

func New(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Add appends steps to the end of the pipeline.
func (p *Pipeline) Add(steps ...Step) *Pipeline {
	p.steps = append(p.steps, steps...)
	return p
}

// Names returns the step names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		names = append(names, s.Name())
	}
	return names
}

// Run executes every step in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: step.Name(), Err: err}
		}
		logrus.Infof("[%d/%d] %s", i+1, len(p.steps), step.Name())
		start := time.Now()
		if err := step.Run(ctx); err != nil {
			logrus.Errorf("Step %s failed after %s: %v", step.Name(), time.Since(start).Round(time.Millisecond), err)
			return &StepError{Step: step.Name(), Err: err}
		}
		logrus.Debugf("Step %s finished in %s", step.Name(), time.Since(start).Round(time.Millisecond))
	}
	return nil
}
