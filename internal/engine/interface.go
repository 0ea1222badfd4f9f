package engine

import (
	"context"

	"github.com/mattjoyce/clirelay/internal/audit"
	"github.com/mattjoyce/clirelay/internal/events"
	"github.com/mattjoyce/clirelay/internal/runner"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks github.com/mattjoyce/clirelay/internal/engine Runner,Recorder

// Runner spawns one process and waits for it. *runner.Runner implements it.
type Runner interface {
	Run(ctx context.Context, spec runner.Spec) (*runner.Completion, error)
}

// Recorder persists finished invocations. *audit.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) (string, error)
}

// Publisher fans out lifecycle events. *events.Hub implements it.
type Publisher interface {
	Publish(eventType string, data any) events.Event
}
