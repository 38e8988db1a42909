package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/transport"
	"github.com/ignite/outreach/internal/worker"
)

type memBounceStore struct {
	mu         sync.Mutex
	accounts   []*domain.EmailAccount
	leadsByKey map[string][]string // userID+"/"+email -> lead IDs
	flagged    []string
	activities []*domain.Activity
	markErr    error
}

func (m *memBounceStore) ActiveAccounts(context.Context) ([]*domain.EmailAccount, error) {
	return m.accounts, nil
}

func (m *memBounceStore) MarkLeadsBounced(_ context.Context, userID, email string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return nil, m.markErr
	}
	ids := m.leadsByKey[userID+"/"+email]
	m.flagged = append(m.flagged, ids...)
	return ids, nil
}

func (m *memBounceStore) RecordActivity(_ context.Context, a *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, a)
	return nil
}

type bounceTransport struct {
	byAccount map[string][]transport.BounceMessage
	listErr   map[string]error
}

func (t *bounceTransport) RefreshIfExpired(_ context.Context, a *domain.EmailAccount) (*domain.EmailAccount, error) {
	return a, nil
}

func (t *bounceTransport) ListBounceCandidates(_ context.Context, a *domain.EmailAccount, _ int) ([]transport.BounceMessage, error) {
	if err := t.listErr[a.ID]; err != nil {
		return nil, err
	}
	return t.byAccount[a.ID], nil
}

func TestBounceCheckerFlagsLeads(t *testing.T) {
	store := &memBounceStore{
		accounts: []*domain.EmailAccount{
			{ID: "acct-1", UserID: "user-1", IsActive: true},
		},
		leadsByKey: map[string][]string{
			"user-1/dead@example.com": {"lead-1", "lead-9"},
		},
	}
	tr := &bounceTransport{
		byAccount: map[string][]transport.BounceMessage{
			"acct-1": {
				{ID: "m1", Subject: "Delivery Status Notification (Failure) <dead@example.com>"},
				{ID: "m2", Subject: "Weekly digest"},
			},
		},
	}

	checker := worker.NewBounceChecker(store, tr, 10)
	require.NoError(t, checker.Run(context.Background()))

	assert.ElementsMatch(t, []string{"lead-1", "lead-9"}, store.flagged)
	require.Len(t, store.activities, 2)
	for _, a := range store.activities {
		assert.Equal(t, domain.ActivityBounce, a.Type)
		assert.Equal(t, "m1", a.Metadata["messageId"])
	}
}

func TestBounceCheckerSurvivesAccountFailure(t *testing.T) {
	store := &memBounceStore{
		accounts: []*domain.EmailAccount{
			{ID: "acct-1", UserID: "user-1", IsActive: true},
			{ID: "acct-2", UserID: "user-2", IsActive: true},
		},
		leadsByKey: map[string][]string{
			"user-2/gone@example.org": {"lead-3"},
		},
	}
	tr := &bounceTransport{
		byAccount: map[string][]transport.BounceMessage{
			"acct-2": {{ID: "m1", Subject: "Undelivered Mail Returned to Sender <gone@example.org>"}},
		},
		listErr: map[string]error{"acct-1": errors.New("gmail list failed: status 500")},
	}

	checker := worker.NewBounceChecker(store, tr, 10)
	require.NoError(t, checker.Run(context.Background()))

	assert.Equal(t, []string{"lead-3"}, store.flagged)
}

func TestBounceCheckerStopsOnContextCancel(t *testing.T) {
	store := &memBounceStore{
		accounts: []*domain.EmailAccount{{ID: "acct-1", UserID: "user-1"}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checker := worker.NewBounceChecker(store, &bounceTransport{}, 10)
	assert.ErrorIs(t, checker.Run(ctx), context.Canceled)
}

func TestExtractBouncedAddress(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{"Delivery Status Notification (Failure) <Dead@Example.com>", "dead@example.com"},
		{"Undelivered Mail Returned to Sender bounce-47@mail.example.org", "bounce-47@mail.example.org"},
		{"Mail delivery failed: returning message to sender <a@b.co> extra <c@d.co>", "a@b.co"},
		{"Your order has shipped", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, worker.ExtractBouncedAddress(tc.subject), tc.subject)
	}
}

func TestLimiterDailySlot(t *testing.T) {
	f := newFixture(t)
	limiter := worker.NewLimiter(redisClient(t, f))

	ctx := context.Background()
	ok, err := limiter.ReserveDailySlot(ctx, "acct-1", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = limiter.ReserveDailySlot(ctx, "acct-1", 2)
	assert.True(t, ok)
	ok, _ = limiter.ReserveDailySlot(ctx, "acct-1", 2)
	assert.False(t, ok)

	// The rejected reservation rolls back, so raising the limit frees
	// exactly one slot.
	ok, _ = limiter.ReserveDailySlot(ctx, "acct-1", 3)
	assert.True(t, ok)
	ok, _ = limiter.ReserveDailySlot(ctx, "acct-1", 3)
	assert.False(t, ok)
}

func TestLimiterUnlimitedWhenZero(t *testing.T) {
	f := newFixture(t)
	limiter := worker.NewLimiter(redisClient(t, f))

	for i := 0; i < 50; i++ {
		ok, err := limiter.ReserveDailySlot(context.Background(), "acct-1", 0)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}
