package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"propertyfeed/internal/ingest"
	"propertyfeed/internal/models"
)

// JobType represents the kinds of scheduled work
type JobType int

const (
	JobTypeIngest JobType = iota
	JobTypeEnrich
)

// String returns the string representation of a JobType
func (j JobType) String() string {
	switch j {
	case JobTypeIngest:
		return "ingest"
	case JobTypeEnrich:
		return "enrich"
	default:
		return "unknown"
	}
}

type Ingester interface {
	RunAll(ctx context.Context, plan ingest.Plan, budget ingest.Budget) ([]*models.RunSummary, error)
}

type Enricher interface {
	Run(ctx context.Context, cursor models.EnrichCursor, limit int, budget time.Duration) (*models.EnrichSummary, error)
}

// Options configures job intervals and per-pass budgets. A zero interval disables the job.
type Options struct {
	IngestInterval time.Duration
	EnrichInterval time.Duration
	IngestBudget   ingest.Budget
	EnrichLimit    int
	EnrichBudget   time.Duration
}

// Scheduler runs ingestion and image enrichment on their intervals, never two jobs at once.
type Scheduler struct {
	ingester Ingester
	enricher Enricher
	plan     ingest.Plan
	opts     Options
	logger   *logrus.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	jobMutex sync.Mutex // Ensures sequential job execution
	cursor   models.EnrichCursor
}

// NewScheduler creates a new scheduler
func NewScheduler(ingester Ingester, enricher Enricher, plan ingest.Plan, opts Options, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		ingester: ingester,
		enricher: enricher,
		plan:     plan,
		opts:     opts,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start runs an ingestion pass immediately, then the jobs on their intervals until Stop
// or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		if s.opts.IngestInterval > 0 {
			s.logger.Info("Running startup ingestion")
			s.RunIngest(ctx)
		}

		ingestTick := ticker(s.opts.IngestInterval)
		enrichTick := ticker(s.opts.EnrichInterval)
		defer stopTicker(ingestTick)
		defer stopTicker(enrichTick)

		for {
			select {
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			case <-tickC(ingestTick):
				s.RunIngest(ctx)
			case <-tickC(enrichTick):
				s.RunEnrich(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler, waiting for a running job to finish its pass.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// RunIngest runs one ingestion pass over every planned source.
func (s *Scheduler) RunIngest(ctx context.Context) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	log := s.logger.WithField("job_type", JobTypeIngest.String())
	log.Info("Starting scheduled job")

	summaries, err := s.ingester.RunAll(ctx, s.plan, s.opts.IngestBudget)
	for _, summary := range summaries {
		log.WithFields(logrus.Fields{
			"run_id":      summary.RunID,
			"source":      summary.Source,
			"stop_reason": summary.StopReason,
		}).Debug("Source run finished")
	}
	if err != nil {
		log.WithError(err).Error("Scheduled job failed")
		return
	}
	log.WithField("runs", len(summaries)).Info("Scheduled job completed successfully")
}

// RunEnrich runs one enrichment pass from the held cursor. A pass that reaches the end
// rewinds the cursor so the next pass revisits properties still lacking an image.
func (s *Scheduler) RunEnrich(ctx context.Context) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	log := s.logger.WithFields(logrus.Fields{
		"job_type": JobTypeEnrich.String(),
		"after_id": s.cursor.AfterID,
	})
	log.Info("Starting scheduled job")

	summary, err := s.enricher.Run(ctx, s.cursor, s.opts.EnrichLimit, s.opts.EnrichBudget)
	if err != nil {
		log.WithError(err).Error("Scheduled job failed")
		return
	}

	if summary.StopReason == models.StopCompleted {
		s.cursor = models.EnrichCursor{}
	} else {
		s.cursor = summary.NextCursor
	}
	log.WithField("resolved", summary.Resolved).Info("Scheduled job completed successfully")
}

// Cursor returns the enrichment cursor the next pass will start from.
func (s *Scheduler) Cursor() models.EnrichCursor {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()
	return s.cursor
}

func ticker(interval time.Duration) *time.Ticker {
	if interval <= 0 {
		return nil
	}
	return time.NewTicker(interval)
}

// tickC returns a nil channel for a disabled ticker, which blocks forever in select.
func tickC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTicker(t *time.Ticker) {
	if t != nil {
		t.Stop()
	}
}
