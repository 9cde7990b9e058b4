package service

import (
	"context"
	"time"

	"patron/internal/events"
	"patron/internal/ledger/models"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
)

// step applies one domain mutation to the locked account.
type step func(acct *models.Account) (models.Entry, models.Effects, error)

func (s *Service) Earn(ctx context.Context, customerID id.CustomerID, points int64, opts models.EntryOptions) (*models.Result, error) {
	return s.apply(ctx, "ledger.earn", models.TransactionEarn, customerID, opts, func(a *models.Account) (models.Entry, models.Effects, error) {
		return a.Earn(points)
	})
}

func (s *Service) Redeem(ctx context.Context, customerID id.CustomerID, points int64, opts models.EntryOptions) (*models.Result, error) {
	return s.apply(ctx, "ledger.redeem", models.TransactionRedeem, customerID, opts, func(a *models.Account) (models.Entry, models.Effects, error) {
		e, err := a.Redeem(points)
		return e, models.Effects{}, err
	})
}

func (s *Service) Expire(ctx context.Context, customerID id.CustomerID, points int64, opts models.EntryOptions) (*models.Result, error) {
	return s.apply(ctx, "ledger.expire", models.TransactionExpire, customerID, opts, func(a *models.Account) (models.Entry, models.Effects, error) {
		e, err := a.Expire(points)
		return e, models.Effects{}, err
	})
}

func (s *Service) Adjust(ctx context.Context, customerID id.CustomerID, delta int64, opts models.EntryOptions) (*models.Result, error) {
	return s.apply(ctx, "ledger.adjust", models.TransactionAdjust, customerID, opts, func(a *models.Account) (models.Entry, models.Effects, error) {
		return a.Adjust(delta)
	})
}

func (s *Service) AddStamp(ctx context.Context, customerID id.CustomerID, opts models.EntryOptions) (*models.Result, error) {
	return s.apply(ctx, "ledger.stamp", models.TransactionStamp, customerID, opts, func(a *models.Account) (models.Entry, models.Effects, error) {
		e, fx := a.AddStamp()
		return e, fx, nil
	})
}

// apply runs fn inside the store's per-account lock, then records metrics
// and emits events for the committed entry.
func (s *Service) apply(ctx context.Context, spanName string, txType models.TransactionType, customerID id.CustomerID, opts models.EntryOptions, fn step) (res *models.Result, err error) {
	ctx, span := s.startSpan(ctx, spanName, customerID)
	defer func() { endSpan(span, err) }()

	if opts.Description == "" {
		opts.Description = defaultDescription(txType)
	}
	var fx models.Effects
	start := time.Now()
	acct, txn, err := s.store.Mutate(ctx, customerID, func(a *models.Account) (*models.Transaction, error) {
		if !a.IsActive {
			return nil, dErrors.New(dErrors.CodeInvalidTransition, "loyalty account is inactive")
		}
		if err := s.requireActive(ctx, customerID); err != nil {
			return nil, err
		}
		entry, effects, err := fn(a)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		a.UpdatedAt = now
		fx = effects
		return models.NewTransaction(a.ID, entry, opts, now), nil
	})
	s.metrics.ObserveMutateLatency(time.Since(start))
	if err != nil {
		err = accountErr(err)
		s.metrics.RecordRejection(string(txType), string(dErrors.CodeOf(err)))
		return nil, err
	}

	s.metrics.RecordEntry(string(txn.Type), txn.Points)
	res = &models.Result{
		Account:       acct,
		Transaction:   txn,
		CardCompleted: fx.CardCompleted,
		TierChanged:   fx.TierChanged,
		PreviousTier:  fx.PreviousTier,
	}
	s.emit(ctx, s.eventsFor(ctx, res)...)
	return res, nil
}

func (s *Service) eventsFor(ctx context.Context, res *models.Result) []events.Event {
	acct, txn := res.Account, res.Transaction
	base := map[string]any{
		"account_id":     acct.ID.String(),
		"transaction_id": txn.ID,
		"points":         txn.Points,
		"balance_after":  txn.BalanceAfter,
		"reference":      txn.Reference,
	}
	var out []events.Event
	switch txn.Type {
	case models.TransactionEarn:
		out = append(out, events.New(events.LoyaltyPointsEarned, acct.CustomerID, txn.CreatedAt, base))
	case models.TransactionRedeem:
		out = append(out, events.New(events.LoyaltyPointsRedeemed, acct.CustomerID, txn.CreatedAt, base))
	}
	if res.CardCompleted {
		s.metrics.RecordCardCompleted()
		out = append(out, events.New(events.LoyaltyCardCompleted, acct.CustomerID, txn.CreatedAt, map[string]any{
			"account_id":       acct.ID.String(),
			"stamps_completed": acct.StampsCompleted,
		}))
	}
	if res.TierChanged {
		s.metrics.RecordTierUpgrade(string(acct.Tier))
		out = append(out, events.New(events.LoyaltyTierChanged, acct.CustomerID, txn.CreatedAt, map[string]any{
			"account_id":    acct.ID.String(),
			"previous_tier": string(res.PreviousTier),
			"tier":          string(acct.Tier),
		}))
	}
	if note, ok := s.notification(ctx, res); ok {
		out = append(out, note)
	}
	return out
}

// notification builds the customer-facing message request for the entry,
// only when the customer consented on the notification channel.
func (s *Service) notification(ctx context.Context, res *models.Result) (events.Event, bool) {
	if s.consent == nil {
		return events.Event{}, false
	}
	var kind string
	switch {
	case res.CardCompleted:
		kind = "card_completed"
	case res.TierChanged:
		kind = "tier_changed"
	case res.Transaction.Type == models.TransactionEarn:
		kind = "points_earned"
	case res.Transaction.Type == models.TransactionRedeem:
		kind = "points_redeemed"
	default:
		return events.Event{}, false
	}

	acct := res.Account
	ok, err := s.consent.HasConsent(ctx, acct.CustomerID, s.channel)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "consent check failed, notification skipped",
				"customer_id", acct.CustomerID.String(), "channel", s.channel, "error", err)
		}
		return events.Event{}, false
	}
	if !ok {
		return events.Event{}, false
	}
	return events.New(events.LoyaltyNotificationRequested, acct.CustomerID, res.Transaction.CreatedAt, map[string]any{
		"channel":          s.channel,
		"kind":             kind,
		"points_balance":   acct.PointsBalance,
		"stamps_current":   acct.StampsCurrent,
		"stamps_remaining": acct.StampsRemaining(),
		"tier":             string(acct.Tier),
	}), true
}

func defaultDescription(t models.TransactionType) string {
	switch t {
	case models.TransactionEarn:
		return "points earned"
	case models.TransactionRedeem:
		return "points redeemed"
	case models.TransactionExpire:
		return "points expired"
	case models.TransactionAdjust:
		return "manual adjustment"
	case models.TransactionStamp:
		return "stamp added"
	default:
		return ""
	}
}
