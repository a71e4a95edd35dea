// Package ingest drives a source's record stream through normalization and
// reconciliation under a run budget.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"propertyfeed/internal/errs"
	"propertyfeed/internal/models"
	"propertyfeed/internal/ratelimit"
	"propertyfeed/internal/reconcile"
	"propertyfeed/internal/sources"
)

// recordTimeout bounds persisting a summary after the run context has ended.
const recordTimeout = 10 * time.Second

// Budget limits one run. Zero values mean no limit.
type Budget struct {
	MaxRecords  int
	MaxDuration time.Duration
}

// Plan maps each source to the selectors it should walk.
type Plan map[models.Source][]string

type Normalizer interface {
	Normalize(raw models.RawRecord) (*models.Property, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, candidate *models.Property) (reconcile.Outcome, error)
}

// RunRecorder persists run summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary *models.RunSummary) error
}

type Runner struct {
	sources    map[models.Source]sources.Source
	normalizer Normalizer
	reconciler Reconciler
	recorder   RunRecorder
	governor   *ratelimit.Governor
	logger     *logrus.Logger
	now        func() time.Time
}

func NewRunner(srcs []sources.Source, normalizer Normalizer, reconciler Reconciler, recorder RunRecorder, governor *ratelimit.Governor, logger *logrus.Logger) *Runner {
	bySource := make(map[models.Source]sources.Source, len(srcs))
	for _, src := range srcs {
		bySource[src.Name()] = src
	}
	return &Runner{
		sources:    bySource,
		normalizer: normalizer,
		reconciler: reconciler,
		recorder:   recorder,
		governor:   governor,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sources lists the sources this runner can ingest, in name order.
func (r *Runner) Sources() []models.Source {
	names := make([]models.Source, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Run ingests one source. It always returns the (possibly partial) summary; the error is
// non-nil only when the store failed or the source is unknown.
func (r *Runner) Run(ctx context.Context, source models.Source, selectors []string, budget Budget) (*models.RunSummary, error) {
	src, ok := r.sources[source]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", source)
	}

	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		Source:    source,
		StartedAt: r.now(),
	}
	log := r.logger.WithFields(logrus.Fields{
		"run_id": summary.RunID,
		"source": source,
	})
	log.WithField("selectors", len(selectors)).Info("Starting ingestion run")

	runCtx := ctx
	if budget.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, budget.MaxDuration)
		defer cancel()
	}
	limit := recordLimit(budget.MaxRecords, r.governor.RecordCap(source))

	runErr := r.consume(runCtx, src, selectors, limit, summary, log)

	summary.FinishedAt = r.now()
	if err := r.record(ctx, summary); err != nil {
		log.WithError(err).Error("Failed to record ingestion run")
		if runErr == nil {
			runErr = err
		}
	}

	log.WithFields(logrus.Fields{
		"attempted":         summary.Attempted,
		"inserted":          summary.Inserted,
		"updated":           summary.Updated,
		"unchanged":         summary.Unchanged,
		"failed":            summary.Failed,
		"skipped":           summary.Skipped,
		"skipped_selectors": summary.SkippedSelectors,
		"stop_reason":       summary.StopReason,
		"duration":          summary.FinishedAt.Sub(summary.StartedAt).String(),
	}).Info("Ingestion run finished")

	return summary, runErr
}

func (r *Runner) consume(ctx context.Context, src sources.Source, selectors []string, limit int, summary *models.RunSummary, log *logrus.Entry) error {
	for raw, err := range src.Records(ctx, selectors) {
		if err != nil {
			if reason, done := stopReason(ctx); done {
				summary.StopReason = reason
				return nil
			}
			summary.AddError(err.Error())
			var selErr *errs.SelectorError
			if errors.Is(err, errs.ErrSourceUnavailable) && !errors.As(err, &selErr) {
				log.WithError(err).Warn("Source unavailable, skipping it for this run")
				summary.StopReason = models.StopSourceUnavailable
				return nil
			}
			summary.SkippedSelectors++
			log.WithError(err).Warn("Skipping selector")
			continue
		}

		summary.Attempted++
		if err := r.ingestOne(ctx, raw, summary, log); err != nil {
			summary.StopReason = models.StopStoreUnavailable
			summary.AddError(err.Error())
			return err
		}
		if reason, done := stopReason(ctx); done {
			summary.StopReason = reason
			return nil
		}

		if limit > 0 && summary.Attempted >= limit {
			summary.StopReason = models.StopRecordBudget
			return nil
		}
	}

	if reason, done := stopReason(ctx); done {
		summary.StopReason = reason
	} else {
		summary.StopReason = models.StopCompleted
	}
	return nil
}

// ingestOne returns an error only when the store is gone.
func (r *Runner) ingestOne(ctx context.Context, raw models.RawRecord, summary *models.RunSummary, log *logrus.Entry) error {
	candidate, err := r.normalizer.Normalize(raw)
	if err != nil {
		summary.Skipped++
		log.WithFields(logrus.Fields{
			"external_id": raw.ExternalID,
			"reason":      errs.RejectionReason(err),
		}).Info("Record rejected")
		return nil
	}

	outcome, err := r.reconciler.Reconcile(ctx, candidate)
	if _, done := stopReason(ctx); done && err != nil {
		// Cut off because the run ended; the record is left for the next run
		summary.Attempted--
		return nil
	}
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrStoreUnavailable):
		summary.Failed++
		return err
	default:
		summary.Failed++
		summary.AddError(err.Error())
		log.WithError(err).WithField("external_id", candidate.ExternalID).Warn("Failed to reconcile record")
		return nil
	}

	switch outcome {
	case reconcile.Inserted:
		summary.Inserted++
	case reconcile.Updated:
		summary.Updated++
	default:
		summary.Unchanged++
	}
	return nil
}

func (r *Runner) record(ctx context.Context, summary *models.RunSummary) error {
	if r.recorder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	return r.recorder.RecordRun(ctx, summary)
}

// RunAll runs every source in plan concurrently, one goroutine per source. Summaries come
// back in source order. Store failures from any source are joined into the error.
func (r *Runner) RunAll(ctx context.Context, plan Plan, budget Budget) ([]*models.RunSummary, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		summaries []*models.RunSummary
		failures  []error
	)

	for source, selectors := range plan {
		wg.Add(1)
		go func(source models.Source, selectors []string) {
			defer wg.Done()

			summary, err := r.Run(ctx, source, selectors, budget)

			mu.Lock()
			defer mu.Unlock()
			if summary != nil {
				summaries = append(summaries, summary)
			}
			if err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", source, err))
			}
		}(source, selectors)
	}
	wg.Wait()

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Source < summaries[j].Source })
	return summaries, errors.Join(failures...)
}

func recordLimit(budget, sourceCap int) int {
	switch {
	case budget <= 0:
		return sourceCap
	case sourceCap <= 0 || budget < sourceCap:
		return budget
	default:
		return sourceCap
	}
}

func stopReason(ctx context.Context) (models.StopReason, bool) {
	switch {
	case ctx.Err() == nil:
		return "", false
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return models.StopTimeBudget, true
	default:
		return models.StopCanceled, true
	}
}
