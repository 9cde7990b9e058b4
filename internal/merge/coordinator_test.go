package merge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"patron/internal/events"
	"patron/internal/gates"
	"patron/internal/identity/models"
	"patron/internal/identity/service"
	"patron/internal/identity/store"
	"patron/internal/merge"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/requestcontext"
)

var staff = requestcontext.Staff{Subject: "ops@example.com", Roles: []string{"staff"}}

type CoordinatorSuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.InMemory
	identity *service.Service
	recorder *events.Recorder
	merger   *merge.Coordinator
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	s.store = store.NewInMemory()
	s.identity = service.New(s.store, s.store)
	s.recorder = &events.Recorder{}
	s.merger = merge.New(s.store, s.store, merge.WithPublisher(s.recorder))

	s.create("TGT", "11999990001", "target@example.com")
	s.create("SRC", "11999990002", "")
	_, _, err := s.identity.UpsertContactPoint(s.ctx, "SRC", &models.ContactInput{Type: "whatsapp", Value: "11999990003", IsPrimary: true})
	s.Require().NoError(err)
	_, _, err = s.identity.UpsertContactPoint(s.ctx, "SRC", &models.ContactInput{Type: "email", Value: "second@example.com"})
	s.Require().NoError(err)
	_, err = s.identity.LinkExternalIdentity(s.ctx, "SRC", models.ProviderManychat, "mc-src", nil)
	s.Require().NoError(err)
	for code, value := range map[string]string{"TGT": "mc-tgt", "SRC": "mc-src"} {
		_, err = s.identity.AddIdentifier(s.ctx, code, service.AddIdentifierInput{
			Type: models.IdentifierManychat, Value: value, IsPrimary: true,
		})
		s.Require().NoError(err)
	}
}

func (s *CoordinatorSuite) create(code, phone, email string) {
	_, err := s.identity.CreateCustomer(s.ctx, &models.CreateCustomerRequest{
		Code: code, FirstName: code, Phone: phone, Email: email,
	})
	s.Require().NoError(err)
}

func (s *CoordinatorSuite) TestMergeMovesEverythingToTarget() {
	res, err := s.merger.Merge(s.ctx, merge.Request{
		SourceCode: "SRC",
		TargetCode: "TGT",
		Evidence:   []gates.Evidence{gates.EvidenceSameVerifiedPhone},
		Actor:      staff,
	})
	s.Require().NoError(err)
	s.Equal(3, res.ContactsMoved)
	s.Equal(1, res.ExternalsMoved)
	s.Equal(1, res.IdentifiersMoved)
	s.Equal([]string{"same_verified_phone"}, res.Evidence)

	s.Run("source is deactivated and points at target", func() {
		_, err := s.identity.GetByCode(s.ctx, "SRC")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		src, err := s.store.FindCustomerByCode(s.ctx, "SRC")
		s.Require().NoError(err)
		s.False(src.IsActive)
		s.Equal("TGT", src.Metadata["merged_into"])
		s.Equal("ops@example.com", src.Metadata["merged_by"])

		left, err := s.store.ListContactPoints(s.ctx, src.ID)
		s.Require().NoError(err)
		s.Empty(left)
	})

	s.Run("target keeps one primary per type", func() {
		profile, err := s.identity.Profile(s.ctx, "TGT")
		s.Require().NoError(err)
		s.Len(profile.ContactPoints, 5)

		primaries := map[models.ContactType][]string{}
		for _, cp := range profile.ContactPoints {
			if cp.IsPrimary {
				primaries[cp.Type] = append(primaries[cp.Type], cp.ValueNormalized)
			}
		}
		s.Equal(map[models.ContactType][]string{
			models.ContactPhone:    {"+5511999990001"},
			models.ContactEmail:    {"target@example.com"},
			models.ContactWhatsApp: {"+5511999990003"},
		}, primaries)

		s.Len(profile.ExternalIdentities, 1)
		s.Len(profile.Identifiers, 2)
		primaryIdents := 0
		for _, ident := range profile.Identifiers {
			if ident.IsPrimary {
				primaryIdents++
				s.Equal("mc-tgt", ident.Value)
			}
		}
		s.Equal(1, primaryIdents)
	})

	s.Run("relocated values resolve to target", func() {
		c, err := s.identity.GetByPhone(s.ctx, "11999990002")
		s.Require().NoError(err)
		s.Equal("TGT", c.Code)
		c, err = s.identity.FindByExternalIdentity(s.ctx, models.ProviderManychat, "mc-src")
		s.Require().NoError(err)
		s.Equal("TGT", c.Code)
	})

	s.Run("emits customer.merged", func() {
		merged := s.recorder.OfType(events.CustomerMerged)
		s.Require().Len(merged, 1)
		s.Equal("SRC", merged[0].Payload["source_code"])
		s.Equal("ops@example.com", merged[0].Actor)
		s.Equal(3, merged[0].Payload["contacts_moved"])
		s.NotContains(merged[0].Payload, "duplicates_dropped")
	})
}

func (s *CoordinatorSuite) TestEvidenceRules() {
	cases := []struct {
		name     string
		source   string
		evidence []gates.Evidence
		actor    requestcontext.Staff
		reason   gates.Reason
	}{
		{"no evidence", "SRC", nil, staff, gates.ReasonInsufficientEvidence},
		{"unknown evidence only", "SRC", []gates.Evidence{"same_name"}, staff, gates.ReasonInsufficientEvidence},
		{"staff override without staff role", "SRC", []gates.Evidence{gates.EvidenceStaffOverride},
			requestcontext.Staff{Subject: "viewer@example.com", Roles: []string{"viewer"}}, gates.ReasonInsufficientEvidence},
		{"self merge", "TGT", []gates.Evidence{gates.EvidenceStaffOverride}, staff, gates.ReasonSelfMerge},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.merger.Merge(s.ctx, merge.Request{
				SourceCode: tc.source, TargetCode: "TGT", Evidence: tc.evidence, Actor: tc.actor,
			})
			ge, ok := gates.AsError(err)
			s.Require().True(ok, "expected gate error, got %v", err)
			s.Equal(gates.GateMergeSafety, ge.Gate)
			s.Equal(tc.reason, ge.Reason)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		})
	}
	s.Empty(s.recorder.OfType(events.CustomerMerged))

	_, err := s.merger.Merge(s.ctx, merge.Request{
		SourceCode: "SRC", TargetCode: "TGT", Evidence: []gates.Evidence{" STAFF_OVERRIDE "}, Actor: staff,
	})
	s.NoError(err)
}

func (s *CoordinatorSuite) TestMissingCustomers() {
	_, err := s.merger.Merge(s.ctx, merge.Request{
		SourceCode: "NOPE", TargetCode: "TGT", Evidence: []gates.Evidence{gates.EvidenceStaffOverride}, Actor: staff,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.merger.Merge(s.ctx, merge.Request{TargetCode: "TGT"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

// failingStore breaks the last step of a merge.
type failingStore struct {
	*store.InMemory
}

func (f failingStore) ReassignIdentifiers(context.Context, []id.IdentifierID, id.CustomerID) (int, error) {
	return 0, errors.New("connection reset")
}

func (s *CoordinatorSuite) TestFailureRollsBack() {
	merger := merge.New(failingStore{s.store}, s.store, merge.WithPublisher(s.recorder))
	_, err := merger.Merge(s.ctx, merge.Request{
		SourceCode: "SRC", TargetCode: "TGT", Evidence: []gates.Evidence{gates.EvidenceStaffOverride}, Actor: staff,
	})
	s.Require().Error(err)
	s.Equal(dErrors.CodeInternal, dErrors.CodeOf(err))

	src, err := s.identity.GetByCode(s.ctx, "SRC")
	s.Require().NoError(err)
	s.True(src.IsActive)
	contacts, err := s.identity.ListContactPoints(s.ctx, "SRC")
	s.Require().NoError(err)
	s.Len(contacts, 3)
	owner, err := s.identity.FindByExternalIdentity(s.ctx, models.ProviderManychat, "mc-src")
	s.Require().NoError(err)
	s.Equal("SRC", owner.Code)
	s.Empty(s.recorder.OfType(events.CustomerMerged))
}
