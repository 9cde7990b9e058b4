//go:build integration

package merge_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"patron/internal/gates"
	"patron/internal/identity/models"
	"patron/internal/identity/service"
	"patron/internal/identity/store"
	"patron/internal/merge"
	"patron/internal/platform/postgres"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/requestcontext"
	"patron/pkg/testutil/containers"
)

// PostgresMergeSuite runs merges against concurrent identity writes on real
// row locks.
type PostgresMergeSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	identity *service.Service
	merger   *merge.Coordinator
}

func TestPostgresMergeSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresMergeSuite))
}

func (s *PostgresMergeSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	tx := postgres.NewTransactor(s.postgres.DB)
	s.identity = service.New(s.store, tx)
	s.merger = merge.New(s.store, tx)
}

func (s *PostgresMergeSuite) SetupTest() {
	s.Require().NoError(s.postgres.ResetRegistry(context.Background()))
}

func (s *PostgresMergeSuite) TestContactWritesNeverLandOnMergedSource() {
	ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	const writers = 20

	for round := range 3 {
		sourceCode, targetCode := fmt.Sprintf("SRC-%d", round), fmt.Sprintf("TGT-%d", round)
		source, err := s.identity.CreateCustomer(ctx, &models.CreateCustomerRequest{Code: sourceCode, FirstName: "Src"})
		s.Require().NoError(err)
		target, err := s.identity.CreateCustomer(ctx, &models.CreateCustomerRequest{Code: targetCode, FirstName: "Tgt"})
		s.Require().NoError(err)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			written  []id.ContactPointID
			mergeErr error
		)
		start := make(chan struct{})
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				cp, _, err := s.identity.UpsertContactPoint(ctx, sourceCode, &models.ContactInput{
					Type: "email", Value: fmt.Sprintf("r%d-w%d@example.com", round, i),
				})
				if err != nil {
					s.True(dErrors.HasCode(err, dErrors.CodeNotFound), "unexpected error: %v", err)
					return
				}
				mu.Lock()
				written = append(written, cp.ID)
				mu.Unlock()
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, mergeErr = s.merger.Merge(ctx, merge.Request{
				SourceCode: sourceCode,
				TargetCode: targetCode,
				Evidence:   []gates.Evidence{gates.EvidenceStaffOverride},
				Actor:      staff,
			})
		}()
		close(start)
		wg.Wait()
		s.Require().NoError(mergeErr)

		left, err := s.store.ListContactPoints(ctx, source.ID)
		s.Require().NoError(err)
		s.Empty(left, "round %d: merged source still owns contacts", round)

		for _, contactID := range written {
			cp, err := s.store.FindContactPoint(ctx, contactID)
			s.Require().NoError(err)
			s.Equal(target.ID, cp.CustomerID)
		}
		n, err := s.store.CountPrimaryContacts(ctx, target.ID, models.ContactEmail)
		s.Require().NoError(err)
		s.LessOrEqual(n, 1)
	}
}
