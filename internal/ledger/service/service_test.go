package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"patron/internal/events"
	"patron/internal/ledger/models"
	"patron/internal/ledger/service/mocks"
	"patron/internal/ledger/store"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
)

type LedgerServiceSuite struct {
	suite.Suite
	store    *store.InMemory
	recorder *events.Recorder
	service  *Service
	customer id.CustomerID
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func (s *LedgerServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.recorder = &events.Recorder{}
	s.service = New(s.store, WithPublisher(s.recorder), WithStampsTarget(5))
	s.customer = id.NewCustomerID()
}

func (s *LedgerServiceSuite) enroll() *models.Account {
	acct, err := s.service.Enroll(context.Background(), s.customer)
	s.Require().NoError(err)
	return acct
}

func (s *LedgerServiceSuite) TestEnrollIsIdempotent() {
	first := s.enroll()
	second := s.enroll()

	s.Equal(first.ID, second.ID)
	s.Equal(models.TierBronze, second.Tier)
	s.Equal(5, second.StampsTarget)
	s.Len(s.recorder.OfType(events.LoyaltyEnrolled), 1)
}

func (s *LedgerServiceSuite) TestNotEnrolled() {
	ctx := context.Background()

	balance, err := s.service.Balance(ctx, s.customer)
	s.Require().NoError(err)
	s.Zero(balance)

	_, err = s.service.Earn(ctx, s.customer, 10, models.EntryOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.Account(ctx, s.customer)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *LedgerServiceSuite) TestBalanceIsSumOfDeltas() {
	ctx := context.Background()
	s.enroll()

	_, err := s.service.Earn(ctx, s.customer, 300, models.EntryOptions{Reference: "order-1"})
	s.Require().NoError(err)
	_, err = s.service.Redeem(ctx, s.customer, 120, models.EntryOptions{})
	s.Require().NoError(err)
	_, err = s.service.Adjust(ctx, s.customer, -30, models.EntryOptions{CreatedBy: "staff"})
	s.Require().NoError(err)
	res, err := s.service.Expire(ctx, s.customer, 50, models.EntryOptions{})
	s.Require().NoError(err)
	s.EqualValues(100, res.Account.PointsBalance)
	s.EqualValues(300, res.Account.LifetimePoints)

	log := s.store.Transactions(res.Account.ID)
	s.Require().Len(log, 4)
	var running int64
	for _, txn := range log {
		running += txn.Points
		s.Equal(running, txn.BalanceAfter, "running balance for %s", txn.Type)
	}
	s.Equal(res.Account.PointsBalance, running)

	history, err := s.service.Transactions(ctx, s.customer, 2)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(models.TransactionExpire, history[0].Type)
	s.Equal(models.TransactionAdjust, history[1].Type)
	s.Equal("points expired", history[0].Description)
}

func (s *LedgerServiceSuite) TestFailedRedeemLeavesStateUnchanged() {
	ctx := context.Background()
	s.enroll()
	_, err := s.service.Earn(ctx, s.customer, 40, models.EntryOptions{})
	s.Require().NoError(err)
	before, err := s.service.Account(ctx, s.customer)
	s.Require().NoError(err)

	_, err = s.service.Redeem(ctx, s.customer, 41, models.EntryOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
	_, err = s.service.Adjust(ctx, s.customer, -41, models.EntryOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))

	after, err := s.service.Account(ctx, s.customer)
	s.Require().NoError(err)
	s.Equal(before, after)
	s.Len(s.store.Transactions(after.ID), 1)
	s.Empty(s.recorder.OfType(events.LoyaltyPointsRedeemed))
}

func (s *LedgerServiceSuite) TestValidation() {
	ctx := context.Background()
	s.enroll()

	_, err := s.service.Earn(ctx, s.customer, 0, models.EntryOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = s.service.Redeem(ctx, s.customer, -5, models.EntryOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	_, err = s.service.Adjust(ctx, s.customer, 0, models.EntryOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *LedgerServiceSuite) TestOverflowIsRejectedWithoutMutation() {
	ctx := context.Background()
	s.enroll()

	_, err := s.service.Adjust(ctx, s.customer, math.MinInt64, models.EntryOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.Earn(ctx, s.customer, math.MaxInt64, models.EntryOptions{})
	s.Require().NoError(err)
	_, err = s.service.Earn(ctx, s.customer, 1, models.EntryOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	acct, err := s.service.Account(ctx, s.customer)
	s.Require().NoError(err)
	s.EqualValues(math.MaxInt64, acct.PointsBalance)
	s.EqualValues(math.MaxInt64, acct.LifetimePoints)
	s.Len(s.store.Transactions(acct.ID), 1)
}

func (s *LedgerServiceSuite) TestStampCardResets() {
	ctx := context.Background()
	s.enroll()

	var last *models.Result
	for i := 1; i <= 5; i++ {
		res, err := s.service.AddStamp(ctx, s.customer, models.EntryOptions{})
		s.Require().NoError(err)
		if i < 5 {
			s.False(res.CardCompleted)
			s.EqualValues(i, res.Transaction.BalanceAfter)
		}
		last = res
	}
	s.True(last.CardCompleted)
	s.Zero(last.Account.StampsCurrent)
	s.Equal(1, last.Account.StampsCompleted)
	s.Zero(last.Transaction.BalanceAfter)
	s.Len(s.recorder.OfType(events.LoyaltyCardCompleted), 1)
}

func (s *LedgerServiceSuite) TestTierUpgradesOnce() {
	ctx := context.Background()
	s.enroll()

	res, err := s.service.Earn(ctx, s.customer, 600, models.EntryOptions{})
	s.Require().NoError(err)
	s.True(res.TierChanged)
	s.Equal(models.TierBronze, res.PreviousTier)
	s.Equal(models.TierSilver, res.Account.Tier)

	res, err = s.service.Redeem(ctx, s.customer, 600, models.EntryOptions{})
	s.Require().NoError(err)
	s.False(res.TierChanged)
	s.Equal(models.TierSilver, res.Account.Tier)
	s.Len(s.recorder.OfType(events.LoyaltyTierChanged), 1)
}

func (s *LedgerServiceSuite) TestConcurrentEarnsKeepTierMonotonic() {
	ctx := context.Background()
	s.enroll()

	const workers = 60
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Earn(ctx, s.customer, 100, models.EntryOptions{})
			s.NoError(err)
		}()
	}
	wg.Wait()

	acct, err := s.service.Account(ctx, s.customer)
	s.Require().NoError(err)
	s.EqualValues(workers*100, acct.PointsBalance)
	s.Equal(models.TierPlatinum, acct.Tier)

	var reached []string
	for _, e := range s.recorder.OfType(events.LoyaltyTierChanged) {
		reached = append(reached, e.Payload["tier"].(string))
	}
	s.ElementsMatch([]string{"silver", "gold", "platinum"}, reached)
}

func (s *LedgerServiceSuite) TestConcurrentEarnAndRedeemFromZero() {
	ctx := context.Background()

	for range 25 {
		s.customer = id.NewCustomerID()
		s.enroll()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.service.Earn(ctx, s.customer, 100, models.EntryOptions{})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.service.Redeem(ctx, s.customer, 50, models.EntryOptions{})
		}()
		wg.Wait()

		balance, err := s.service.Balance(ctx, s.customer)
		s.Require().NoError(err)
		s.Contains([]int64{50, 100}, balance)
	}
}

func TestNotificationRequiresConsent(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	consent := mocks.NewMockConsentChecker(ctrl)
	recorder := &events.Recorder{}
	svc := New(store.NewInMemory(), WithPublisher(recorder), WithConsentChecker(consent, ""))

	opted, declined := id.NewCustomerID(), id.NewCustomerID()
	consent.EXPECT().HasConsent(gomock.Any(), opted, DefaultNotificationChannel).Return(true, nil)
	consent.EXPECT().HasConsent(gomock.Any(), declined, DefaultNotificationChannel).Return(false, nil)

	for _, c := range []id.CustomerID{opted, declined} {
		_, err := svc.Enroll(ctx, c)
		require.NoError(t, err)
		_, err = svc.Earn(ctx, c, 10, models.EntryOptions{})
		require.NoError(t, err)
	}

	notes := recorder.OfType(events.LoyaltyNotificationRequested)
	require.Len(t, notes, 1)
	assert.Equal(t, opted, notes[0].CustomerID)
	assert.Equal(t, "points_earned", notes[0].Payload["kind"])
	assert.Len(t, recorder.OfType(events.LoyaltyPointsEarned), 2)
}

func TestInactiveCustomerCannotUseLedger(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	customers := mocks.NewMockCustomerStatus(ctrl)
	svc := New(store.NewInMemory(), WithCustomerStatus(customers))

	active, merged, unknown := id.NewCustomerID(), id.NewCustomerID(), id.NewCustomerID()
	customers.EXPECT().IsActiveCustomer(gomock.Any(), active).Return(true, nil).AnyTimes()
	customers.EXPECT().IsActiveCustomer(gomock.Any(), unknown).Return(false, nil)

	_, err := svc.Enroll(ctx, active)
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, unknown)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	t.Run("deactivated after enrolling", func(t *testing.T) {
		gomock.InOrder(
			customers.EXPECT().IsActiveCustomer(gomock.Any(), merged).Return(true, nil),
			customers.EXPECT().IsActiveCustomer(gomock.Any(), merged).Return(false, nil),
		)
		_, err := svc.Enroll(ctx, merged)
		require.NoError(t, err)

		_, err = svc.Earn(ctx, merged, 10, models.EntryOptions{})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
		balance, err := svc.Balance(ctx, merged)
		require.NoError(t, err)
		assert.Zero(t, balance)
	})

	t.Run("status lookup failure is internal", func(t *testing.T) {
		failing := id.NewCustomerID()
		customers.EXPECT().IsActiveCustomer(gomock.Any(), failing).Return(false, errors.New("db down"))
		_, err := svc.Enroll(ctx, failing)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})

	_, err = svc.Earn(ctx, active, 10, models.EntryOptions{})
	require.NoError(t, err)
}
