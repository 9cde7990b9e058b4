package models

import (
	"fmt"
	"math"
	"time"

	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
)

// DefaultStampsTarget is the number of stamps that completes a card.
const DefaultStampsTarget = 10

// Account is the loyalty projection of a customer's transaction log. Every
// field is derived from the entries appended through the mutation methods.
type Account struct {
	ID              id.AccountID  `json:"id"`
	CustomerID      id.CustomerID `json:"customer_id"`
	PointsBalance   int64         `json:"points_balance"`
	LifetimePoints  int64         `json:"lifetime_points"`
	StampsCurrent   int           `json:"stamps_current"`
	StampsTarget    int           `json:"stamps_target"`
	StampsCompleted int           `json:"stamps_completed"`
	Tier            Tier          `json:"tier"`
	IsActive        bool          `json:"is_active"`
	EnrolledAt      time.Time     `json:"enrolled_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NewAccount opens a bronze account with an empty card.
func NewAccount(customerID id.CustomerID, stampsTarget int, now time.Time) *Account {
	if stampsTarget <= 0 {
		stampsTarget = DefaultStampsTarget
	}
	return &Account{
		ID:           id.NewAccountID(),
		CustomerID:   customerID,
		StampsTarget: stampsTarget,
		Tier:         TierBronze,
		IsActive:     true,
		EnrolledAt:   now,
		UpdatedAt:    now,
	}
}

func (a *Account) StampsRemaining() int {
	return max(a.StampsTarget-a.StampsCurrent, 0)
}

func (a *Account) StampsProgressPercent() int {
	if a.StampsTarget <= 0 {
		return 0
	}
	return min(a.StampsCurrent*100/a.StampsTarget, 100)
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// Entry is the log line produced by one mutation, before it is stamped with
// an id and metadata.
type Entry struct {
	Type         TransactionType
	Points       int64
	BalanceAfter int64
}

// Effects reports the side effects of one mutation.
type Effects struct {
	CardCompleted bool
	TierChanged   bool
	PreviousTier  Tier
}

// Earn credits points and upgrades the tier when lifetime crosses a threshold.
//
// This is pure domain logic - no I/O, no side effects.
func (a *Account) Earn(points int64) (Entry, Effects, error) {
	if points <= 0 {
		return Entry{}, Effects{}, dErrors.New(dErrors.CodeValidation, "points must be positive")
	}
	if err := a.credit(points); err != nil {
		return Entry{}, Effects{}, err
	}
	fx := a.upgradeTier()
	return Entry{Type: TransactionEarn, Points: points, BalanceAfter: a.PointsBalance}, fx, nil
}

// Redeem debits points, failing without change when the balance is short.
func (a *Account) Redeem(points int64) (Entry, error) {
	if points <= 0 {
		return Entry{}, dErrors.New(dErrors.CodeValidation, "points must be positive")
	}
	if err := a.ensureBalance(points); err != nil {
		return Entry{}, err
	}
	a.PointsBalance -= points
	return Entry{Type: TransactionRedeem, Points: -points, BalanceAfter: a.PointsBalance}, nil
}

// Expire removes points that aged out. Lifetime points are untouched.
func (a *Account) Expire(points int64) (Entry, error) {
	if points <= 0 {
		return Entry{}, dErrors.New(dErrors.CodeValidation, "points must be positive")
	}
	if err := a.ensureBalance(points); err != nil {
		return Entry{}, err
	}
	a.PointsBalance -= points
	return Entry{Type: TransactionExpire, Points: -points, BalanceAfter: a.PointsBalance}, nil
}

// Adjust applies a signed manual correction. Positive adjustments count
// toward lifetime points and may upgrade the tier.
func (a *Account) Adjust(delta int64) (Entry, Effects, error) {
	if delta == 0 {
		return Entry{}, Effects{}, dErrors.New(dErrors.CodeValidation, "adjustment must be non-zero")
	}
	if delta == math.MinInt64 {
		return Entry{}, Effects{}, dErrors.New(dErrors.CodeValidation, "adjustment out of range")
	}
	var fx Effects
	if delta < 0 {
		if err := a.ensureBalance(-delta); err != nil {
			return Entry{}, Effects{}, err
		}
		a.PointsBalance += delta
	} else {
		if err := a.credit(delta); err != nil {
			return Entry{}, Effects{}, err
		}
		fx = a.upgradeTier()
	}
	return Entry{Type: TransactionAdjust, Points: delta, BalanceAfter: a.PointsBalance}, fx, nil
}

// AddStamp punches the card. Reaching the target resets the card and counts
// a completion; the entry's BalanceAfter is the stamp count after reset.
func (a *Account) AddStamp() (Entry, Effects) {
	a.StampsCurrent++
	var fx Effects
	if a.StampsCurrent >= a.StampsTarget {
		a.StampsCurrent = 0
		a.StampsCompleted++
		fx.CardCompleted = true
	}
	return Entry{Type: TransactionStamp, Points: 1, BalanceAfter: int64(a.StampsCurrent)}, fx
}

// credit adds points to the balance and lifetime total, refusing amounts
// that would overflow either.
func (a *Account) credit(points int64) error {
	if points > math.MaxInt64-a.PointsBalance || points > math.MaxInt64-a.LifetimePoints {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("crediting %d points exceeds the maximum balance", points))
	}
	a.PointsBalance += points
	a.LifetimePoints += points
	return nil
}

func (a *Account) ensureBalance(points int64) error {
	if a.PointsBalance < points {
		return dErrors.New(dErrors.CodeInsufficientBalance,
			fmt.Sprintf("insufficient points: available %d, requested %d", a.PointsBalance, points))
	}
	return nil
}

func (a *Account) upgradeTier() Effects {
	next := TierFor(a.LifetimePoints)
	if next.Rank() <= a.Tier.Rank() {
		return Effects{}
	}
	prev := a.Tier
	a.Tier = next
	return Effects{TierChanged: true, PreviousTier: prev}
}
