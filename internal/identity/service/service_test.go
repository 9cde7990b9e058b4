package service_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"patron/internal/events"
	"patron/internal/gates"
	"patron/internal/identity/models"
	"patron/internal/identity/service"
	"patron/internal/identity/store"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
	"patron/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	store    *store.InMemory
	recorder *events.Recorder
	svc      *service.Service
	ctx      context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.recorder = &events.Recorder{}
	s.svc = service.New(s.store, s.store, service.WithPublisher(s.recorder))
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func (s *ServiceSuite) create(code, phone, email string) *models.Customer {
	c, err := s.svc.CreateCustomer(s.ctx, &models.CreateCustomerRequest{
		Code: code, FirstName: "Ana", Phone: phone, Email: email,
	})
	s.Require().NoError(err)
	return c
}

func (s *ServiceSuite) TestCreateCustomer() {
	s.Run("normalizes and mirrors phone and email as primary contacts", func() {
		c := s.create("C-100", "(11) 99999-0001", " Ana@Example.COM ")
		s.Equal("+5511999990001", c.Phone)
		s.Equal("ana@example.com", c.Email)

		contacts, err := s.svc.ListContactPoints(s.ctx, "C-100")
		s.Require().NoError(err)
		s.Len(contacts, 2)
		for _, cp := range contacts {
			s.True(cp.IsPrimary)
		}
		s.Len(s.recorder.OfType(events.CustomerCreated), 1)
	})

	s.Run("phone owned by another customer fails G1 and leaves nothing behind", func() {
		owner, err := s.svc.GetByCode(s.ctx, "C-100")
		s.Require().NoError(err)

		_, err = s.svc.CreateCustomer(s.ctx, &models.CreateCustomerRequest{
			Code: "C-101", FirstName: "Bia", Phone: "+55 11 99999-0001",
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		ge, ok := gates.AsError(err)
		s.Require().True(ok)
		s.Equal(gates.GateContactPointUniqueness, ge.Gate)
		s.Equal(owner.ID, ge.ConflictingCustomerID)

		_, err = s.svc.GetByCode(s.ctx, "C-101")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("duplicate code is a conflict", func() {
		_, err := s.svc.CreateCustomer(s.ctx, &models.CreateCustomerRequest{Code: "C-100", FirstName: "X"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("missing first name is a validation error", func() {
		_, err := s.svc.CreateCustomer(s.ctx, &models.CreateCustomerRequest{Code: "C-102"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestConcurrentCreatesWithSamePhone() {
	const writers = 20
	var wg sync.WaitGroup
	var ok, conflicts atomic.Int32
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.CreateCustomer(s.ctx, &models.CreateCustomerRequest{
				Code: "RACE-" + string(rune('A'+i)), FirstName: "Racer", Phone: "+5511988887777",
			})
			switch {
			case err == nil:
				ok.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), ok.Load())
	s.Equal(int32(writers-1), conflicts.Load())
}

func (s *ServiceSuite) TestIsActiveCustomer() {
	c := s.create("ACT-1", "", "act@example.com")

	active, err := s.svc.IsActiveCustomer(s.ctx, c.ID)
	s.Require().NoError(err)
	s.True(active)

	_, err = s.svc.DeactivateCustomer(s.ctx, "ACT-1")
	s.Require().NoError(err)
	active, err = s.svc.IsActiveCustomer(s.ctx, c.ID)
	s.Require().NoError(err)
	s.False(active)

	active, err = s.svc.IsActiveCustomer(s.ctx, id.NewCustomerID())
	s.Require().NoError(err, "unknown customers are inactive, not errors")
	s.False(active)
}

func (s *ServiceSuite) TestWritesRejectDeactivatedCustomer() {
	s.create("GONE-1", "", "gone@example.com")
	contacts, err := s.svc.ListContactPoints(s.ctx, "GONE-1")
	s.Require().NoError(err)
	_, err = s.svc.DeactivateCustomer(s.ctx, "GONE-1")
	s.Require().NoError(err)

	_, _, err = s.svc.UpsertContactPoint(s.ctx, "GONE-1", &models.ContactInput{Type: "email", Value: "late@example.com"})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "upsert: %v", err)
	_, err = s.svc.LinkExternalIdentity(s.ctx, "GONE-1", models.ProviderManychat, "mc-late", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "link: %v", err)
	_, err = s.svc.AddIdentifier(s.ctx, "GONE-1", service.AddIdentifierInput{Type: models.IdentifierManychat, Value: "mc-late"})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "identifier: %v", err)
	_, err = s.svc.MarkVerified(s.ctx, contacts[0].ID, models.VerificationEmailLink, "link-late")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "verify: %v", err)

	_, err = s.store.FindContactPointByValue(s.ctx, models.ContactEmail, "late@example.com")
	s.Error(err)
}

func (s *ServiceSuite) TestGroups() {
	s.Run("new customers join the default group", func() {
		_, err := s.svc.SaveGroup(s.ctx, &models.CreateGroupRequest{Code: "retail", Name: "Retail", IsDefault: true})
		s.Require().NoError(err)
		c := s.create("GRP-1", "", "")
		s.Equal("retail", c.GroupCode)
	})

	s.Run("only one group stays default", func() {
		_, err := s.svc.SaveGroup(s.ctx, &models.CreateGroupRequest{
			Code: "wholesale", Name: "Wholesale", PriceListCode: "atacado", IsDefault: true, Priority: 10,
		})
		s.Require().NoError(err)
		groups, err := s.svc.ListGroups(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(groups, 2)
		s.Equal("wholesale", groups[0].Code, "higher priority first")
		s.True(groups[0].IsDefault)
		s.False(groups[1].IsDefault)
	})

	s.Run("unknown group is rejected", func() {
		_, err := s.svc.CreateCustomer(s.ctx, &models.CreateCustomerRequest{Code: "GRP-X", FirstName: "Ana", GroupCode: "vip"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "create: %v", err)
		_, err = s.svc.GetByCode(s.ctx, "GRP-X")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		vip := "vip"
		_, _, err = s.svc.UpdateCustomer(s.ctx, "GRP-1", &models.UpdateCustomerRequest{GroupCode: &vip})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "update: %v", err)
	})

	s.Run("explicit group and price list", func() {
		c, err := s.svc.CreateCustomer(s.ctx, &models.CreateCustomerRequest{Code: "GRP-2", FirstName: "Bia", GroupCode: " Wholesale "})
		s.Require().NoError(err)
		s.Equal("wholesale", c.GroupCode)

		priceList, err := s.svc.PriceList(s.ctx, "GRP-2")
		s.Require().NoError(err)
		s.Equal("atacado", priceList)

		priceList, err = s.svc.PriceList(s.ctx, "GRP-1")
		s.Require().NoError(err)
		s.Empty(priceList, "retail has no price list")
	})

	s.Run("bad group input", func() {
		_, err := s.svc.SaveGroup(s.ctx, &models.CreateGroupRequest{Code: "not a slug", Name: "X"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.svc.SaveGroup(s.ctx, &models.CreateGroupRequest{Code: "nameless"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestValidateCustomer() {
	_, err := s.svc.SaveGroup(s.ctx, &models.CreateGroupRequest{Code: "staff", Name: "Staff", PriceListCode: "staff-prices"})
	s.Require().NoError(err)
	c, err := s.svc.CreateCustomer(s.ctx, &models.CreateCustomerRequest{
		Code: "VAL-1", FirstName: "Ana", LastName: "Souza", GroupCode: "staff",
	})
	s.Require().NoError(err)

	v, err := s.svc.ValidateCustomer(s.ctx, "VAL-1")
	s.Require().NoError(err)
	s.True(v.Valid)
	s.Equal(c.ID.String(), v.CustomerID)
	s.Equal("Ana Souza", v.Name)
	s.Equal("staff", v.GroupCode)
	s.Equal("staff-prices", v.PriceListCode)

	_, err = s.svc.DeactivateCustomer(s.ctx, "VAL-1")
	s.Require().NoError(err)
	v, err = s.svc.ValidateCustomer(s.ctx, "VAL-1")
	s.Require().NoError(err)
	s.False(v.Valid)
	s.Equal(models.ValidationCustomerNotFound, v.ErrorCode)
}

// primaryRaceStore loses every contact insert to a concurrent primary.
type primaryRaceStore struct {
	*store.InMemory
}

func (f primaryRaceStore) CreateContactPoint(context.Context, *models.ContactPoint) error {
	return fmt.Errorf("create contact point: %w", &sentinel.ConflictError{Constraint: models.ConstraintContactPrimary})
}

func (s *ServiceSuite) TestContactConflictsNameTheirCause() {
	s.create("CF-1", "", "taken@example.com")
	s.create("CF-2", "", "")

	_, _, err := s.svc.UpsertContactPoint(s.ctx, "CF-2", &models.ContactInput{Type: "email", Value: "taken@example.com"})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	racing := primaryRaceStore{InMemory: s.store}
	svc := service.New(racing, s.store)
	_, _, err = svc.UpsertContactPoint(s.ctx, "CF-2", &models.ContactInput{Type: "email", Value: "fresh@example.com", IsPrimary: true})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Contains(err.Error(), "primary contact of this type was set concurrently")
	s.NotContains(err.Error(), "another customer")
}

func (s *ServiceSuite) TestLookups() {
	c := s.create("L-1", "11999990002", "lookup@example.com")
	_, _, err := s.svc.UpdateCustomer(s.ctx, "L-1", &models.UpdateCustomerRequest{Document: ptr("123.456.789-00")})
	s.Require().NoError(err)

	byPhone, err := s.svc.GetByPhone(s.ctx, "+55 (11) 99999-0002")
	s.Require().NoError(err)
	s.Equal(c.ID, byPhone.ID)

	byEmail, err := s.svc.GetByEmail(s.ctx, "LOOKUP@example.com")
	s.Require().NoError(err)
	s.Equal(c.ID, byEmail.ID)

	byDoc, err := s.svc.GetByDocument(s.ctx, "12345678900")
	s.Require().NoError(err)
	s.Equal(c.ID, byDoc.ID)

	byID, err := s.svc.GetByUUID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal("L-1", byID.Code)

	found, err := s.svc.Search(s.ctx, "lookup", 10)
	s.Require().NoError(err)
	s.Len(found, 1)

	_, err = s.svc.DeactivateCustomer(s.ctx, "L-1")
	s.Require().NoError(err)
	_, err = s.svc.GetByPhone(s.ctx, "11999990002")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.svc.GetByCode(s.ctx, "L-1")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.svc.DeactivateCustomer(s.ctx, "L-1")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *ServiceSuite) TestUpdateCustomerRecordsChanges() {
	s.create("U-1", "", "")
	updated, changes, err := s.svc.UpdateCustomer(s.ctx, "U-1", &models.UpdateCustomerRequest{
		LastName: ptr("Souza"),
		Phone:    ptr("11 97777-6666"),
		Metadata: map[string]any{"tier": "vip"},
	})
	s.Require().NoError(err)
	s.Equal("Souza", updated.LastName)
	s.Equal("+5511977776666", updated.Phone)
	s.Contains(changes, "last_name")
	s.Contains(changes, "phone")
	s.Contains(changes, "metadata")

	contacts, err := s.svc.ListContactPoints(s.ctx, "U-1")
	s.Require().NoError(err)
	s.Require().Len(contacts, 1)
	s.True(contacts[0].IsPrimary)

	evs := s.recorder.OfType(events.CustomerUpdated)
	s.Require().Len(evs, 1)
	s.Contains(evs[0].Payload, "changes")

	_, changes, err = s.svc.UpdateCustomer(s.ctx, "U-1", &models.UpdateCustomerRequest{LastName: ptr("Souza")})
	s.Require().NoError(err)
	s.Empty(changes)
	s.Len(s.recorder.OfType(events.CustomerUpdated), 1)
}

func (s *ServiceSuite) TestUpsertContactPoint() {
	s.create("CP-1", "", "")
	s.create("CP-2", "", "")

	s.Run("first contact of a type becomes primary", func() {
		cp, created, err := s.svc.UpsertContactPoint(s.ctx, "CP-1", &models.ContactInput{Type: "whatsapp", Value: "11 90000-0001"})
		s.Require().NoError(err)
		s.True(created)
		s.True(cp.IsPrimary)
		s.Equal("+5511900000001", cp.ValueNormalized)
	})

	s.Run("second contact is not primary unless asked", func() {
		cp, _, err := s.svc.UpsertContactPoint(s.ctx, "CP-1", &models.ContactInput{Type: "whatsapp", Value: "11 90000-0002"})
		s.Require().NoError(err)
		s.False(cp.IsPrimary)
	})

	s.Run("primary request demotes the current primary", func() {
		cp, _, err := s.svc.UpsertContactPoint(s.ctx, "CP-1", &models.ContactInput{Type: "whatsapp", Value: "11 90000-0003", IsPrimary: true})
		s.Require().NoError(err)
		s.True(cp.IsPrimary)
		n, err := s.store.CountPrimaryContacts(s.ctx, cp.CustomerID, models.ContactWhatsApp)
		s.Require().NoError(err)
		s.Equal(1, n)
	})

	s.Run("upserting an owned value updates in place", func() {
		cp, created, err := s.svc.UpsertContactPoint(s.ctx, "CP-1", &models.ContactInput{
			Type: "whatsapp", Value: "+55 11 90000-0002", VerificationMethod: "otp_whatsapp",
		})
		s.Require().NoError(err)
		s.False(created)
		s.True(cp.IsVerified)
		s.Equal(models.VerificationOTPWhatsApp, cp.VerificationMethod)
	})

	s.Run("value owned by another customer is rejected by G1", func() {
		_, _, err := s.svc.UpsertContactPoint(s.ctx, "CP-2", &models.ContactInput{Type: "whatsapp", Value: "11 90000-0001"})
		ge, ok := gates.AsError(err)
		s.Require().True(ok)
		s.Equal(gates.ReasonDuplicateContact, ge.Reason)
	})

	s.Run("unknown verification method is rejected by G3", func() {
		_, _, err := s.svc.UpsertContactPoint(s.ctx, "CP-1", &models.ContactInput{
			Type: "email", Value: "x@example.com", VerificationMethod: "carrier_pigeon",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("unknown contact type is invalid input", func() {
		_, _, err := s.svc.UpsertContactPoint(s.ctx, "CP-1", &models.ContactInput{Type: "fax", Value: "1"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestPromoteToPrimaryConcurrently() {
	c := s.create("P-1", "", "")
	var contacts []*models.ContactPoint
	for _, v := range []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"} {
		cp, _, err := s.svc.UpsertContactPoint(s.ctx, "P-1", &models.ContactInput{Type: "email", Value: v})
		s.Require().NoError(err)
		contacts = append(contacts, cp)
	}

	var wg sync.WaitGroup
	for _, cp := range contacts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.PromoteToPrimary(s.ctx, "P-1", models.ContactEmail, cp.ID)
			s.NoError(err)
		}()
	}
	wg.Wait()

	n, err := s.store.CountPrimaryContacts(s.ctx, c.ID, models.ContactEmail)
	s.Require().NoError(err)
	s.Equal(1, n)

	refreshed, err := s.svc.GetByCode(s.ctx, "P-1")
	s.Require().NoError(err)
	list, err := s.svc.ListContactPoints(s.ctx, "P-1")
	s.Require().NoError(err)
	s.True(list[0].IsPrimary)
	s.Equal(list[0].ValueNormalized, refreshed.Email)
}

func (s *ServiceSuite) TestPromoteToPrimaryUnknownContact() {
	s.create("P-2", "", "x@example.com")
	other := s.create("P-3", "", "y@example.com")
	contacts, err := s.svc.ListContactPoints(s.ctx, "P-3")
	s.Require().NoError(err)

	_, err = s.svc.PromoteToPrimary(s.ctx, "P-2", models.ContactEmail, contacts[0].ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.NotNil(other)
}

func (s *ServiceSuite) TestMarkVerified() {
	s.create("V-1", "", "v@example.com")
	contacts, err := s.svc.ListContactPoints(s.ctx, "V-1")
	s.Require().NoError(err)

	_, err = s.svc.MarkVerified(s.ctx, contacts[0].ID, models.VerificationUnverified, "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	cp, err := s.svc.MarkVerified(s.ctx, contacts[0].ID, models.VerificationEmailLink, "link-123")
	s.Require().NoError(err)
	s.True(cp.IsVerified)
	s.Equal("link-123", cp.VerificationRef)
	s.NotNil(cp.VerifiedAt)
	s.Len(s.recorder.OfType(events.ContactPointVerified), 1)
}

func (s *ServiceSuite) TestLinkExternalIdentity() {
	s.create("E-1", "", "")
	s.create("E-2", "", "")

	first, err := s.svc.LinkExternalIdentity(s.ctx, "E-1", models.ProviderManychat, "sub-1", map[string]any{"a": 1})
	s.Require().NoError(err)

	again, err := s.svc.LinkExternalIdentity(s.ctx, "E-1", models.ProviderManychat, "sub-1", map[string]any{"b": 2})
	s.Require().NoError(err)
	s.Equal(first.ID, again.ID)
	s.Equal(2, len(again.ProviderMeta))
	s.Len(s.recorder.OfType(events.ExternalIdentityLinked), 1)

	_, err = s.svc.LinkExternalIdentity(s.ctx, "E-2", models.ProviderManychat, "sub-1", nil)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	owner, err := s.svc.FindByExternalIdentity(s.ctx, models.ProviderManychat, "sub-1")
	s.Require().NoError(err)
	s.Equal("E-1", owner.Code)
}

func (s *ServiceSuite) TestIdentifiers() {
	s.create("I-1", "", "")
	s.create("I-2", "", "")

	ident, err := s.svc.AddIdentifier(s.ctx, "I-1", service.AddIdentifierInput{Type: models.IdentifierInstagram, Value: "@Ana.Shop", IsPrimary: true})
	s.Require().NoError(err)
	s.Equal("ana.shop", ident.Value)

	same, err := s.svc.AddIdentifier(s.ctx, "I-1", service.AddIdentifierInput{Type: models.IdentifierInstagram, Value: "ana.shop"})
	s.Require().NoError(err)
	s.Equal(ident.ID, same.ID)

	_, err = s.svc.AddIdentifier(s.ctx, "I-2", service.AddIdentifierInput{Type: models.IdentifierInstagram, Value: "ana.shop"})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	second, err := s.svc.AddIdentifier(s.ctx, "I-1", service.AddIdentifierInput{Type: models.IdentifierInstagram, Value: "ana.store", IsPrimary: true})
	s.Require().NoError(err)
	list, err := s.svc.ListIdentifiers(s.ctx, "I-1")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(second.ID, list[0].ID)
	s.False(list[1].IsPrimary)

	resolved, err := s.svc.ResolveByIdentifier(s.ctx, models.IdentifierInstagram, "@ANA.SHOP")
	s.Require().NoError(err)
	s.Equal("I-1", resolved.Code)
}

func (s *ServiceSuite) TestResolveByIdentifierFallsBackToNativeFields() {
	legacy, err := models.NewCustomer(mustID(), "LEG-1", "Old", time.Now())
	s.Require().NoError(err)
	legacy.Phone = "11912345678"
	legacy.Email = "Old@Example.com"
	s.Require().NoError(s.store.CreateCustomer(s.ctx, legacy))

	byPhone, err := s.svc.ResolveByIdentifier(s.ctx, models.IdentifierPhone, "+55 11 91234-5678")
	s.Require().NoError(err)
	s.Require().NotNil(byPhone)
	s.Equal(legacy.ID, byPhone.ID)

	byEmail, err := s.svc.ResolveByIdentifier(s.ctx, models.IdentifierEmail, "old@example.com")
	s.Require().NoError(err)
	s.Require().NotNil(byEmail)

	none, err := s.svc.ResolveByIdentifier(s.ctx, models.IdentifierTelegram, "nobody")
	s.Require().NoError(err)
	s.Nil(none)
}

func (s *ServiceSuite) TestFindOrCreateByIdentifier() {
	c, created, err := s.svc.FindOrCreateByIdentifier(s.ctx, models.IdentifierEmail, "new@example.com",
		&models.CreateCustomerRequest{FirstName: "Nova", SourceSystem: "manychat"})
	s.Require().NoError(err)
	s.True(created)
	s.Equal(service.GenerateCode("email", "new@example.com"), c.Code)
	s.Regexp(`^CUST-[0-9A-F]{8}$`, c.Code)

	again, created, err := s.svc.FindOrCreateByIdentifier(s.ctx, models.IdentifierEmail, "NEW@example.com", nil)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(c.ID, again.ID)
}

func (s *ServiceSuite) TestFindOrCreateConcurrently() {
	var wg sync.WaitGroup
	var createdCount atomic.Int32
	ids := make(chan string, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, created, err := s.svc.FindOrCreateByIdentifier(s.ctx, models.IdentifierTelegram, "racer", nil)
			if !s.NoError(err) {
				return
			}
			if created {
				createdCount.Add(1)
			}
			ids <- c.ID.String()
		}()
	}
	wg.Wait()
	close(ids)
	s.Equal(int32(1), createdCount.Load())
	seen := map[string]bool{}
	for v := range ids {
		seen[v] = true
	}
	s.Len(seen, 1)
}

func ptr[T any](v T) *T { return &v }

func mustID() id.CustomerID { return id.NewCustomerID() }
