package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patron/internal/identity/models"
	id "patron/pkg/domain"
	"patron/pkg/platform/sentinel"
)

func newCustomer(t *testing.T, code string) *models.Customer {
	t.Helper()
	c, err := models.NewCustomer(id.NewCustomerID(), code, "Ana", time.Now())
	require.NoError(t, err)
	return c
}

func TestInMemory_CustomerCodeIsUnique(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	require.NoError(t, s.CreateCustomer(ctx, newCustomer(t, "C-1")))
	err := s.CreateCustomer(ctx, newCustomer(t, "C-1"))
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestInMemory_ContactConstraints(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	a, b := newCustomer(t, "A"), newCustomer(t, "B")
	require.NoError(t, s.CreateCustomer(ctx, a))
	require.NoError(t, s.CreateCustomer(ctx, b))

	first, err := models.NewContactPoint(a.ID, models.ContactPhone, "+5511999990001", "BR", time.Now())
	require.NoError(t, err)
	first.IsPrimary = true
	require.NoError(t, s.CreateContactPoint(ctx, first))

	t.Run("same value for another customer conflicts", func(t *testing.T) {
		dup, err := models.NewContactPoint(b.ID, models.ContactPhone, "+5511999990001", "BR", time.Now())
		require.NoError(t, err)
		err = s.CreateContactPoint(ctx, dup)
		assert.ErrorIs(t, err, sentinel.ErrConflict)
		assert.Equal(t, models.ConstraintContactValue, sentinel.ConstraintOf(err))
	})

	t.Run("second primary of the same type conflicts", func(t *testing.T) {
		second, err := models.NewContactPoint(a.ID, models.ContactPhone, "+5511999990002", "BR", time.Now())
		require.NoError(t, err)
		second.IsPrimary = true
		err = s.CreateContactPoint(ctx, second)
		assert.ErrorIs(t, err, sentinel.ErrConflict)
		assert.Equal(t, models.ConstraintContactPrimary, sentinel.ConstraintOf(err))
	})

	t.Run("same value under another type is allowed", func(t *testing.T) {
		wa, err := models.NewContactPoint(b.ID, models.ContactWhatsApp, "+5511999990001", "BR", time.Now())
		require.NoError(t, err)
		assert.NoError(t, s.CreateContactPoint(ctx, wa))
	})
}

func TestInMemory_WithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	c := newCustomer(t, "ROLLBACK")

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.CreateCustomer(ctx, c))
		_, err := s.FindCustomerByCode(ctx, "ROLLBACK")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.FindCustomerByCode(ctx, "ROLLBACK")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	c := newCustomer(t, "COPY")
	require.NoError(t, s.CreateCustomer(ctx, c))

	got, err := s.FindCustomerByCode(ctx, "COPY")
	require.NoError(t, err)
	got.FirstName = "mutated"

	again, err := s.FindCustomerByCode(ctx, "COPY")
	require.NoError(t, err)
	assert.Equal(t, "Ana", again.FirstName)
}

func TestInMemory_FindActiveCustomerByPhoneTriesFormsInOrder(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	legacy := newCustomer(t, "LEGACY")
	legacy.Phone = "11999998888"
	require.NoError(t, s.CreateCustomer(ctx, legacy))

	got, err := s.FindActiveCustomerByPhone(ctx, "+5511999998888", "5511999998888", "11999998888")
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, got.ID)

	legacy.IsActive = false
	require.NoError(t, s.UpdateCustomer(ctx, legacy))
	_, err = s.FindActiveCustomerByPhone(ctx, "11999998888")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemory_ReassignIdentifiers(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	src, dst := newCustomer(t, "SRC"), newCustomer(t, "DST")
	require.NoError(t, s.CreateCustomer(ctx, src))
	require.NoError(t, s.CreateCustomer(ctx, dst))
	ident := &models.CustomerIdentifier{
		ID: id.NewIdentifierID(), CustomerID: src.ID, Type: models.IdentifierInstagram, Value: "ana", CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateIdentifier(ctx, ident))

	n, err := s.ReassignIdentifiers(ctx, []id.IdentifierID{ident.ID}, dst.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.FindIdentifier(ctx, models.IdentifierInstagram, "ana")
	require.NoError(t, err)
	assert.Equal(t, dst.ID, got.CustomerID)
}
