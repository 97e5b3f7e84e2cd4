package agent

import (
	"context"
	"fmt"
)

// DefaultMaxRetries is the retry budget of tasks built with NewTask.
const DefaultMaxRetries = 3

// Predicate checks a produced value. A non-nil error, or a panic, marks the
// value as rejected; the message is fed back into the next attempt.
type Predicate func(ctx context.Context, value any) error

// Task asks for Input, a value of StartType, to be turned into a value of
// EndType.
type Task struct {
	StartType string
	EndType   string
	Input     any
	// Verify replaces schema-based verification when set.
	Verify Predicate
	// MaxRetries bounds additional attempts after the first. Negative
	// values count as zero.
	MaxRetries int
}

// NewTask builds a task with the default retry budget.
func NewTask(startType, endType string, input any) Task {
	return Task{
		StartType:  startType,
		EndType:    endType,
		Input:      input,
		MaxRetries: DefaultMaxRetries,
	}
}

func (t Task) String() string {
	return fmt.Sprintf("%s->%s", t.StartType, t.EndType)
}

func (t Task) retries() int {
	if t.MaxRetries < 0 {
		return 0
	}
	return t.MaxRetries
}

// Result is a successful solve.
type Result struct {
	Value any
	// Code is the payload that produced Value.
	Code string
	// Attempts counts synthesis attempts, including the successful one.
	Attempts int
}

// attempt is one pass through synthesize, execute and verify.
type attempt struct {
	index int
	code  string
	err   error
}
