package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"
	"github.com/davidstormer/fdp-app-sub000/internal/keystore"
	"github.com/davidstormer/fdp-app-sub000/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrReversalRefused is returned instead of performing a reversal whose
// submission contains any update outcome: blindly deleting an update target
// is unsafe without a prior-state snapshot.
var ErrReversalRefused = errors.New("reversal refused: submission contains update outcomes")

// ReversalPolicy decides what to do with submissions containing updates.
type ReversalPolicy string

const (
	// ReversalRefuse refuses the whole reversal with zero side effects.
	ReversalRefuse ReversalPolicy = "refuse"
	// ReversalSkipUpdates reverses creations only and leaves updates alone.
	ReversalSkipUpdates ReversalPolicy = "skip"
)

// Options tunes the engine.
type Options struct {
	// Workers bounds parallel row processing within one record-type pass.
	Workers int
	// ReversalPolicy defaults to ReversalRefuse.
	ReversalPolicy ReversalPolicy
}

// Request describes one import input. The payload is held in memory so a
// background run can replay it after the originating HTTP request returns.
type Request struct {
	FileName string
	Mode     domain.Mode
	DryRun   bool
	Payload  []byte
}

// ReversalResult summarizes a completed reversal.
type ReversalResult struct {
	SubmissionID   uuid.UUID `json:"submissionId"`
	Deleted        int       `json:"deleted"`
	SkippedUpdates int       `json:"skippedUpdates"`
}

// Service is the bulk import engine: it plans, validates, commits, and
// reverses submissions against the consumed persistence collaborators.
type Service struct {
	registry    *domain.Registry
	records     repository.RecordRepository
	submissions repository.SubmissionRepository
	keys        *keystore.Store
	natural     repository.NaturalKeyService
	opts        Options
	logger      *slog.Logger
}

// NewService wires the engine.
func NewService(
	registry *domain.Registry,
	records repository.RecordRepository,
	submissions repository.SubmissionRepository,
	keys *keystore.Store,
	natural repository.NaturalKeyService,
	opts Options,
) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ReversalPolicy == "" {
		opts.ReversalPolicy = ReversalRefuse
	}
	return &Service{
		registry:    registry,
		records:     records,
		submissions: submissions,
		keys:        keys,
		natural:     natural,
		opts:        opts,
		logger:      slog.Default(),
	}
}

// Registry exposes the schema catalog the engine was built with.
func (s *Service) Registry() *domain.Registry {
	return s.registry
}

// RegistryCounts returns the stored record total per registered type.
func (s *Service) RegistryCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(s.registry.Types()))
	for _, name := range s.registry.Types() {
		count, err := s.records.CountByType(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s records: %w", name, err)
		}
		counts[name] = count
	}
	return counts, nil
}

// Plan maps the file's headers and fixes a processing order without
// creating a submission or writing anything.
func (s *Service) Plan(ctx context.Context, fileName string, payload []byte) (Plan, error) {
	sheet, err := ReadSheet(fileName, payload)
	if err != nil {
		return Plan{}, err
	}
	return BuildPlan(s.registry, sheet)
}

// Validate runs a full dry run: resolution and validation execute against
// the committed store state, but no record, mapping, or natural-key
// creation is persisted.
func (s *Service) Validate(ctx context.Context, req Request) (Report, error) {
	req.DryRun = true
	sub, err := s.Begin(ctx, req)
	if err != nil {
		return Report{}, err
	}
	return s.Process(ctx, sub, req)
}

// Commit imports the file.
func (s *Service) Commit(ctx context.Context, req Request) (Report, error) {
	req.DryRun = false
	sub, err := s.Begin(ctx, req)
	if err != nil {
		return Report{}, err
	}
	return s.Process(ctx, sub, req)
}

// Begin accepts the upload and creates the durable submission record. The
// caller then runs Process, typically in a background worker.
func (s *Service) Begin(ctx context.Context, req Request) (domain.Submission, error) {
	mode := req.Mode
	if mode == "" {
		mode = domain.ModeCreate
	}
	if mode != domain.ModeCreate && mode != domain.ModeUpdate {
		return domain.Submission{}, fmt.Errorf("unknown mode %q", req.Mode)
	}

	sub := domain.NewSubmission(req.FileName, mode, req.DryRun)
	return s.submissions.Create(ctx, sub)
}

// Process runs one accepted submission to completion. Row-scoped errors are
// folded into outcomes; only planning-scoped errors propagate as a hard
// failure of the whole submission.
func (s *Service) Process(ctx context.Context, sub domain.Submission, req Request) (Report, error) {
	// Ledger writes and status transitions run on a detached context: row
	// work obeys cancellation, but a cancelled run must still persist the
	// outcomes of rows that finished and land in a durable terminal status.
	ledger := context.WithoutCancel(ctx)

	started := time.Now()
	sub.StartedAt = &started
	if err := s.transition(ledger, &sub, domain.StatusPlanning); err != nil {
		return Report{}, err
	}

	plan, err := s.planSubmission(req)
	if err != nil {
		sub.Errors = append(sub.Errors, err.Error())
		s.complete(ledger, &sub, domain.StatusPlanningFailed)
		return BuildReport(sub, nil), err
	}

	if err := s.transition(ledger, &sub, domain.StatusValidating); err != nil {
		return Report{}, err
	}

	var store recordStore
	if sub.DryRun {
		store = newDryStore(s.registry, s.records, s.keys, s.natural)
	} else {
		store = newLiveStore(s.records, s.keys, s.natural, sub.ID)
		if err := s.transition(ledger, &sub, domain.StatusCommitting); err != nil {
			return Report{}, err
		}
	}

	outcomes, cancelled := s.runPasses(ctx, ledger, &sub, plan, store)

	status := s.terminalStatus(sub, outcomes, cancelled)
	s.complete(ledger, &sub, status)

	s.logger.Info("submission processed",
		"submission", sub.ID,
		"status", sub.Status,
		"dry_run", sub.DryRun,
		"rows", len(outcomes),
	)

	return BuildReport(sub, outcomes), nil
}

func (s *Service) planSubmission(req Request) (Plan, error) {
	sheet, err := ReadSheet(req.FileName, req.Payload)
	if err != nil {
		return Plan{}, err
	}
	return BuildPlan(s.registry, sheet)
}

// runPasses processes the record types in topological order. Rows within a
// pass run in parallel on a bounded group; the results snapshot handed to
// resolvers only ever contains rows of completed passes, so implicit tokens
// cannot observe a concurrently processed row.
func (s *Service) runPasses(ctx, ledger context.Context, sub *domain.Submission, plan Plan, store recordStore) ([]domain.RowOutcome, bool) {
	processor := newRowProcessor(s.registry, store, sub.Mode)
	results := make(map[int]rowResult)
	var outcomes []domain.RowOutcome

	syntheticRow := 0
	allowCreate := sub.Mode == domain.ModeCreate

	for _, pass := range plan.Passes {
		if ctx.Err() != nil {
			return outcomes, true
		}

		passOutcomes := make([]domain.RowOutcome, len(pass.Rows))
		var mu sync.Mutex
		var stubOutcomes []domain.RowOutcome

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.Workers)

		for i, row := range pass.Rows {
			i, row := i, row
			g.Go(func() error {
				// Cancellation takes effect between rows: rows already in
				// flight finish, unstarted rows are skipped.
				if gctx.Err() != nil {
					return gctx.Err()
				}

				resolver := newReferenceResolver(store, results, allowCreate)
				outcome := processor.Process(gctx, pass, row, resolver, plan.RowErrors[row.Number])
				outcome.SubmissionID = sub.ID
				passOutcomes[i] = outcome

				if stubs := resolver.Stubs(); len(stubs) > 0 {
					mu.Lock()
					for _, stub := range stubs {
						syntheticRow--
						id := stub.RecordID
						stubOutcomes = append(stubOutcomes, domain.RowOutcome{
							SubmissionID: sub.ID,
							RowNumber:    syntheticRow,
							RecordType:   stub.RecordType,
							RecordID:     &id,
							Outcome:      domain.OutcomeCreated,
						})
					}
					mu.Unlock()
				}
				return nil
			})
		}

		cancelled := g.Wait() != nil

		for _, outcome := range passOutcomes {
			if outcome.Outcome == "" {
				continue // row skipped by cancellation
			}
			s.recordOutcome(ledger, sub, outcome)
			outcomes = append(outcomes, outcome)
			result := rowResult{RecordType: outcome.RecordType, Failed: outcome.Outcome == domain.OutcomeErrored}
			if outcome.RecordID != nil {
				result.ID = *outcome.RecordID
			}
			results[outcome.RowNumber] = result
		}
		for _, outcome := range stubOutcomes {
			s.recordOutcome(ledger, sub, outcome)
			outcomes = append(outcomes, outcome)
		}

		if cancelled {
			return outcomes, true
		}
	}

	return outcomes, false
}

func (s *Service) recordOutcome(ctx context.Context, sub *domain.Submission, outcome domain.RowOutcome) {
	sub.AddOutcomeToCounts(outcome)
	if err := s.submissions.AddOutcome(ctx, outcome); err != nil {
		s.logger.Error("failed to record row outcome",
			"submission", sub.ID,
			"row", outcome.RowNumber,
			"error", err,
		)
	}
}

func (s *Service) terminalStatus(sub domain.Submission, outcomes []domain.RowOutcome, cancelled bool) domain.Status {
	if cancelled {
		return domain.StatusCancelled
	}

	total, errored := 0, 0
	for _, outcome := range outcomes {
		if outcome.Synthetic() {
			continue
		}
		total++
		if outcome.Outcome == domain.OutcomeErrored {
			errored++
		}
	}

	if sub.DryRun {
		if total > 0 && errored == total {
			return domain.StatusValidationFailed
		}
		return domain.StatusValidating
	}

	// A committing run only ends committed or partially committed; even a
	// run where every row errored has already passed validation.
	if errored > 0 {
		return domain.StatusPartiallyCommitted
	}
	return domain.StatusCommitted
}

func (s *Service) transition(ctx context.Context, sub *domain.Submission, next domain.Status) error {
	if sub.Status != next && !sub.Status.CanTransitionTo(next) {
		return fmt.Errorf("invalid submission transition %s -> %s", sub.Status, next)
	}
	sub.Status = next
	updated, err := s.submissions.Update(ctx, *sub)
	if err != nil {
		return fmt.Errorf("failed to persist submission: %w", err)
	}
	*sub = updated
	return nil
}

// complete moves the submission to its terminal status and stamps the
// completion time. Dry runs legitimately end at StatusValidating.
func (s *Service) complete(ctx context.Context, sub *domain.Submission, status domain.Status) {
	completed := time.Now()
	sub.CompletedAt = &completed
	if err := s.transition(ctx, sub, status); err != nil {
		s.logger.Error("failed to finalize submission", "submission", sub.ID, "error", err)
	}
}

// Submission returns the durable submission record for polling.
func (s *Service) Submission(ctx context.Context, id uuid.UUID) (domain.Submission, error) {
	return s.submissions.Get(ctx, id)
}

// Submissions lists recent submissions, newest first.
func (s *Service) Submissions(ctx context.Context, limit, offset int) ([]domain.Submission, error) {
	return s.submissions.List(ctx, limit, offset)
}

// Report rebuilds the detail report of a stored submission.
func (s *Service) Report(ctx context.Context, id uuid.UUID) (Report, error) {
	sub, err := s.submissions.Get(ctx, id)
	if err != nil {
		return Report{}, err
	}
	outcomes, err := s.submissions.ListOutcomes(ctx, id)
	if err != nil {
		return Report{}, err
	}
	return BuildReport(sub, outcomes), nil
}

// Reverse deletes every record a completed submission created, in reverse
// processing order, and never touches records it updated. Under the default
// refuse policy a submission containing any update outcome is refused with
// zero side effects.
func (s *Service) Reverse(ctx context.Context, submissionID uuid.UUID) (ReversalResult, error) {
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return ReversalResult{}, err
	}

	if sub.DryRun {
		return ReversalResult{}, fmt.Errorf("submission %s was a dry run; nothing to reverse", submissionID)
	}
	switch sub.Status {
	case domain.StatusCommitted, domain.StatusPartiallyCommitted, domain.StatusCancelled:
	default:
		return ReversalResult{}, fmt.Errorf("submission %s in status %s cannot be reversed", submissionID, sub.Status)
	}

	outcomes, err := s.submissions.ListOutcomes(ctx, submissionID)
	if err != nil {
		return ReversalResult{}, err
	}

	updates := 0
	for _, outcome := range outcomes {
		if outcome.Outcome == domain.OutcomeUpdated {
			updates++
		}
	}
	if updates > 0 && s.opts.ReversalPolicy == ReversalRefuse {
		return ReversalResult{}, fmt.Errorf("%w: submission %s has %d update outcome(s)", ErrReversalRefused, submissionID, updates)
	}

	// Outcomes were appended in processing order, so walking them backwards
	// deletes referencing records before their referents.
	deleted := 0
	for i := len(outcomes) - 1; i >= 0; i-- {
		outcome := outcomes[i]
		if outcome.Outcome != domain.OutcomeCreated || outcome.RecordID == nil {
			continue
		}
		if err := s.records.Delete(ctx, outcome.RecordType, *outcome.RecordID); err != nil {
			return ReversalResult{}, fmt.Errorf("failed to delete %s %s: %w", outcome.RecordType, outcome.RecordID, err)
		}
		deleted++
	}

	if err := s.keys.DeleteBySubmission(ctx, submissionID); err != nil {
		return ReversalResult{}, fmt.Errorf("failed to remove external id mappings: %w", err)
	}

	s.complete(ctx, &sub, domain.StatusReversed)

	s.logger.Info("submission reversed", "submission", submissionID, "deleted", deleted, "skipped_updates", updates)

	return ReversalResult{SubmissionID: submissionID, Deleted: deleted, SkippedUpdates: updates}, nil
}
