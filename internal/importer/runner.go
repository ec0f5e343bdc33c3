package importer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"

	"github.com/google/uuid"
)

// Runner processes accepted submissions as long-lived background units of
// work so the initiating request does not block. Progress is observed by
// polling the submission record; Cancel stops a run between rows.
type Runner struct {
	service *Service
	logger  *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
}

// NewRunner creates a runner over the service.
func NewRunner(service *Service) *Runner {
	return &Runner{
		service: service,
		logger:  slog.Default(),
		active:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start accepts the upload, creates the submission, and processes it in the
// background. The returned submission is in its initial state.
func (r *Runner) Start(ctx context.Context, req Request) (domain.Submission, error) {
	sub, err := r.service.Begin(ctx, req)
	if err != nil {
		return domain.Submission{}, err
	}

	// The run outlives the originating request; an external scheduler owns
	// timeouts and signals them through Cancel.
	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.active[sub.ID] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.active, sub.ID)
			r.mu.Unlock()
		}()

		if _, err := r.service.Process(runCtx, sub, req); err != nil {
			r.logger.Warn("submission failed", "submission", sub.ID, "error", err)
		}
	}()

	return sub, nil
}

// Cancel signals a running submission to stop between rows. Already
// committed rows remain committed. Reports whether the submission was
// still running.
func (r *Runner) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
