package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		lifetime int64
		want     Tier
	}{
		{0, TierBronze},
		{499, TierBronze},
		{500, TierSilver},
		{1999, TierSilver},
		{2000, TierGold},
		{5000, TierPlatinum},
		{90000, TierPlatinum},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.lifetime), "lifetime %d", tt.lifetime)
	}
}

func TestAccount_AdjustCountsPositiveTowardLifetime(t *testing.T) {
	a := NewAccount(id.NewCustomerID(), 0, time.Now())
	assert.Equal(t, DefaultStampsTarget, a.StampsTarget)

	_, fx, err := a.Adjust(2500)
	require.NoError(t, err)
	assert.True(t, fx.TierChanged)
	assert.Equal(t, TierGold, a.Tier)

	e, _, err := a.Adjust(-500)
	require.NoError(t, err)
	assert.EqualValues(t, -500, e.Points)
	assert.EqualValues(t, 2000, a.PointsBalance)
	assert.EqualValues(t, 2500, a.LifetimePoints)
}

func TestAccount_ExpireNeverExceedsBalance(t *testing.T) {
	a := NewAccount(id.NewCustomerID(), 10, time.Now())
	_, err := a.Expire(1)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
	assert.Zero(t, a.PointsBalance)
}

func TestAccount_StampProgress(t *testing.T) {
	a := NewAccount(id.NewCustomerID(), 4, time.Now())
	a.AddStamp()
	assert.Equal(t, 3, a.StampsRemaining())
	assert.Equal(t, 25, a.StampsProgressPercent())
}

func TestAccount_RejectsOverflow(t *testing.T) {
	t.Run("adjust by the minimum int64", func(t *testing.T) {
		a := NewAccount(id.NewCustomerID(), 0, time.Now())
		_, _, err := a.Adjust(math.MinInt64)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Zero(t, a.PointsBalance)
	})

	t.Run("earn past the maximum balance", func(t *testing.T) {
		a := NewAccount(id.NewCustomerID(), 0, time.Now())
		_, _, err := a.Earn(math.MaxInt64)
		require.NoError(t, err)

		_, _, err = a.Earn(1)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.EqualValues(t, math.MaxInt64, a.PointsBalance)
		assert.EqualValues(t, math.MaxInt64, a.LifetimePoints)
	})

	t.Run("positive adjust past lifetime maximum", func(t *testing.T) {
		a := NewAccount(id.NewCustomerID(), 0, time.Now())
		_, _, err := a.Earn(math.MaxInt64)
		require.NoError(t, err)
		_, err = a.Redeem(math.MaxInt64)
		require.NoError(t, err)

		_, _, err = a.Adjust(1)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "lifetime would wrap even though balance is zero")
		assert.Zero(t, a.PointsBalance)
	})
}
