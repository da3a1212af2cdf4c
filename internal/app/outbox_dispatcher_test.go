package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/app/mock"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
	"go.uber.org/mock/gomock"
)

func enqueue(t *testing.T, repo *store.MemoryRepository, eventType string, payload interface{}) {
	t.Helper()
	require.NoError(t, repo.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.EnqueueEvent(ctx, eventType, payload)
	}))
}

func TestOutboxDispatcher_DeliversWorkflowEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mock.NewMockNotifier(ctrl)

	svc := newTestServices(t)
	ctx := context.Background()
	svc.fund(t, instructor.ID, "500")

	req, err := svc.withdrawals.Create(ctx, instructor, domain.CreateWithdrawalInput{Amount: amount("100")})
	require.NoError(t, err)
	_, err = svc.withdrawals.Review(ctx, admin, req.ID, approve())
	require.NoError(t, err)

	gomock.InOrder(
		notifier.EXPECT().NotifyAdminsOfNewRequest(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, event domain.WithdrawalEvent) error {
				assert.Equal(t, domain.EventWithdrawalRequested, event.Type)
				assert.Equal(t, req.ID, event.Request.ID)
				assert.Equal(t, domain.WithdrawalStatusPending, event.Request.Status)
				return nil
			}),
		notifier.EXPECT().NotifyRequesterOfDecision(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, event domain.WithdrawalEvent) error {
				assert.Equal(t, domain.WithdrawalStatusApproved, event.Request.Status)
				require.NotNil(t, event.Request.ReviewerID)
				assert.Equal(t, admin.ID, *event.Request.ReviewerID)
				return nil
			}),
	)

	dispatcher := NewOutboxDispatcher(svc.repo, notifier, quietLogger())
	delivered, err := dispatcher.flushOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Zero(t, svc.repo.PendingOutboxCount())

	delivered, err = dispatcher.flushOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestOutboxDispatcher_FailedDeliveryIsRetriedLater(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mock.NewMockNotifier(ctrl)
	repo := store.NewMemoryRepository()
	ctx := context.Background()

	enqueue(t, repo, domain.EventWithdrawalRequested, domain.WithdrawalEvent{Type: domain.EventWithdrawalRequested})
	notifier.EXPECT().NotifyAdminsOfNewRequest(gomock.Any(), gomock.Any()).Return(errors.New("broker unavailable")).Times(1)

	dispatcher := NewOutboxDispatcher(repo, notifier, quietLogger())
	delivered, err := dispatcher.flushOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Equal(t, 1, repo.PendingOutboxCount())

	// Backed off: not due yet, so the notifier is not called again.
	delivered, err = dispatcher.flushOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestOutboxDispatcher_DropsUndeliverableMessages(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mock.NewMockNotifier(ctrl)
	repo := store.NewMemoryRepository()
	ctx := context.Background()

	enqueue(t, repo, "withdrawal.unknown", domain.WithdrawalEvent{Type: "withdrawal.unknown"})
	enqueue(t, repo, domain.EventWithdrawalReviewed, []string{"not", "an", "event"})

	dispatcher := NewOutboxDispatcher(repo, notifier, quietLogger())
	delivered, err := dispatcher.flushOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Zero(t, repo.PendingOutboxCount(), "undeliverable rows are not retried")
}

func TestOutboxDispatcher_RunStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := NewOutboxDispatcher(store.NewMemoryRepository(), mock.NewMockNotifier(ctrl), quietLogger())
	dispatcher.Configure(10, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
	assert.Equal(t, 10, dispatcher.batchSize)
}

func TestRetryDelaySeconds(t *testing.T) {
	tests := []struct {
		attempt int
		want    int
	}{
		{0, 1},
		{1, 2},
		{3, 8},
		{8, 256},
		{9, 256},
		{50, 256},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryDelaySeconds(tt.attempt), "attempt %d", tt.attempt)
	}
}
