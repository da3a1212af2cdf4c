package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
)

type stubJobsRepository struct {
	mismatches  []domain.LedgerMismatch
	findErr     error
	purgeCutoff time.Time
	purged      int64
}

func (s *stubJobsRepository) FindLedgerMismatches(ctx context.Context, limit int) ([]domain.LedgerMismatch, error) {
	return s.mismatches, s.findErr
}

func (s *stubJobsRepository) PurgePublishedOutbox(ctx context.Context, olderThan time.Time) (int64, error) {
	s.purgeCutoff = olderThan
	return s.purged, nil
}

func newTestJobs(repo JobsRepository, retention time.Duration) *Jobs {
	jobs := NewJobs(repo, retention, quietLogger())
	jobs.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return jobs
}

func TestJobs_ReconcileLedgerReportsMismatches(t *testing.T) {
	repo := &stubJobsRepository{mismatches: []domain.LedgerMismatch{
		{HolderID: "h1", Balance: amount("10"), LedgerBalance: amount("9")},
		{HolderID: "h2", Balance: amount("0"), LedgerBalance: amount("1")},
	}}
	newTestJobs(repo, time.Hour).ReconcileLedger()
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.LedgerMismatches))

	repo.mismatches = nil
	newTestJobs(repo, time.Hour).ReconcileLedger()
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.LedgerMismatches))
}

func TestJobs_ReconcileLedgerKeepsGaugeOnError(t *testing.T) {
	metrics.LedgerMismatches.Set(3)
	repo := &stubJobsRepository{findErr: errors.New("db down")}
	newTestJobs(repo, time.Hour).ReconcileLedger()
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.LedgerMismatches))
	metrics.LedgerMismatches.Set(0)
}

func TestJobs_PurgeOutboxUsesRetention(t *testing.T) {
	repo := &stubJobsRepository{purged: 4}
	newTestJobs(repo, 48*time.Hour).PurgeOutbox()
	assert.Equal(t, time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC), repo.purgeCutoff)

	disabled := &stubJobsRepository{}
	newTestJobs(disabled, 0).PurgeOutbox()
	assert.True(t, disabled.purgeCutoff.IsZero())
}

func TestJobs_ReconcileAgainstMemoryStore(t *testing.T) {
	svc := newTestServices(t)
	svc.fund(t, instructor.ID, "12.50")
	newTestJobs(svc.repo, time.Hour).ReconcileLedger()
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.LedgerMismatches))
}

func TestScheduler_StartCountsValidSchedules(t *testing.T) {
	jobs := newTestJobs(&stubJobsRepository{}, time.Hour)

	scheduler := NewScheduler(jobs, quietLogger(), "@every 1h", "")
	assert.Equal(t, 1, scheduler.Start())
	<-scheduler.Stop().Done()

	scheduler = NewScheduler(jobs, quietLogger(), "not a schedule", "@daily")
	assert.Equal(t, 1, scheduler.Start())
	<-scheduler.Stop().Done()
}
