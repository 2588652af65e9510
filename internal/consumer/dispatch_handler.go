package consumer

import (
	"context"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
)

// Dispatcher is the reactive dispatch entry point the handler forwards to.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.ActivityEvent) error
}

// DispatchHandler forwards normalized events into the reactive dispatcher. A
// returned error means the statement must not be committed; per-type
// evaluation failures are contained inside the dispatcher and never surface
// here.
type DispatchHandler struct {
	dispatcher Dispatcher
}

// NewDispatchHandler constructs a handler backed by the provided dispatcher.
func NewDispatchHandler(dispatcher Dispatcher) *DispatchHandler {
	return &DispatchHandler{dispatcher: dispatcher}
}

// Handle implements Handler.
func (h *DispatchHandler) Handle(ctx context.Context, event domain.ActivityEvent) error {
	return h.dispatcher.Dispatch(ctx, event)
}
