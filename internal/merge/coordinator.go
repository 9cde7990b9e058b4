// Package merge folds a duplicate customer into a surviving one. Every row
// the source owns moves to the target inside one identity transaction.
package merge

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"patron/internal/events"
	"patron/internal/gates"
	"patron/internal/identity/models"
	"patron/internal/identity/service"
	"patron/internal/platform/staffauth"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
	pstrings "patron/pkg/platform/strings"
	"patron/pkg/requestcontext"
)

// Request names the duplicate (source) and the survivor (target).
type Request struct {
	SourceCode string
	TargetCode string
	Evidence   []gates.Evidence
	Actor      requestcontext.Staff
}

// Result summarizes a committed merge.
type Result struct {
	Source            *models.Customer `json:"source"`
	Target            *models.Customer `json:"target"`
	Evidence          []string         `json:"evidence"`
	ContactsMoved     int              `json:"contacts_moved"`
	ExternalsMoved    int              `json:"external_identities_moved"`
	IdentifiersMoved  int              `json:"identifiers_moved"`
}

type Coordinator struct {
	store     service.Store
	tx        service.Transactor
	publisher events.Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// New builds a coordinator over the identity store. tx must be the
// transactor the identity service writes through.
func New(store service.Store, tx service.Transactor, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		tx:        tx,
		publisher: events.Nop{},
		tracer:    otel.Tracer("patron/merge"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Merge runs G6 and then moves contacts, external identities and
// identifiers from source to target, deactivating source. Any failure rolls
// the whole merge back.
func (c *Coordinator) Merge(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := c.tracer.Start(ctx, "merge.Merge", trace.WithAttributes(
		attribute.String("merge.source_code", req.SourceCode),
		attribute.String("merge.target_code", req.TargetCode),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
	}()

	sourceCode, targetCode := strings.TrimSpace(req.SourceCode), strings.TrimSpace(req.TargetCode)
	if sourceCode == "" || targetCode == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "source_code and target_code are required")
	}
	now := requestcontext.Now(ctx)
	evidence := honouredEvidence(req.Evidence, req.Actor)
	res = &Result{}

	err = c.tx.WithinTx(ctx, func(ctx context.Context) error {
		source, err := c.activeByCode(ctx, sourceCode, "source")
		if err != nil {
			return err
		}
		target, err := c.activeByCode(ctx, targetCode, "target")
		if err != nil {
			return err
		}
		g6 := gates.MergeSafety(source.ID, target.ID, evidence)
		if err := g6.Err(); err != nil {
			return err
		}
		res.Evidence, _ = g6.Details["evidence"].([]string)
		if source, target, err = c.lockPair(ctx, source, target); err != nil {
			return err
		}

		if err := c.moveContacts(ctx, source, target, now, res); err != nil {
			return err
		}
		if err := c.moveExternals(ctx, source, target, res); err != nil {
			return err
		}
		if err := c.moveIdentifiers(ctx, source, target, res); err != nil {
			return err
		}

		source.ApplyDeactivation(now)
		source.MergeMetadata(map[string]any{
			"merged_into": target.Code,
			"merged_at":   now.UTC().Format(time.RFC3339),
			"merged_by":   req.Actor.Subject,
		})
		if err := c.store.UpdateCustomer(ctx, source); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate source customer")
		}
		target.UpdatedAt = now
		if err := c.store.UpdateCustomer(ctx, target); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update target customer")
		}
		res.Source, res.Target = source, target
		return nil
	})
	if err != nil {
		if c.logger != nil && dErrors.CodeOf(err) == dErrors.CodeInternal {
			c.logger.ErrorContext(ctx, "merge failed", "source_code", sourceCode, "target_code", targetCode, "error", err)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("merge.contacts_moved", res.ContactsMoved),
		attribute.Int("merge.identifiers_moved", res.IdentifiersMoved),
	)
	if c.logger != nil {
		c.logger.InfoContext(ctx, "customers merged",
			"source_code", res.Source.Code,
			"target_code", res.Target.Code,
			"evidence", res.Evidence,
			"actor", req.Actor.Subject,
		)
	}
	c.emit(ctx, events.New(events.CustomerMerged, res.Target.ID, now, map[string]any{
		"source_code":        res.Source.Code,
		"source_id":          res.Source.ID.String(),
		"target_code":        res.Target.Code,
		"evidence":           res.Evidence,
		"contacts_moved":     res.ContactsMoved,
		"externals_moved":    res.ExternalsMoved,
		"identifiers_moved":  res.IdentifiersMoved,
	}), req.Actor.Subject)
	return res, nil
}

// honouredEvidence drops staff_override unless the actor carries the staff
// role.
func honouredEvidence(in []gates.Evidence, actor requestcontext.Staff) []gates.Evidence {
	out := make([]gates.Evidence, 0, len(in))
	for _, e := range pstrings.Fold(in) {
		if e == gates.EvidenceStaffOverride && !actor.HasRole(staffauth.RoleStaff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (c *Coordinator) activeByCode(ctx context.Context, code, role string) (*models.Customer, error) {
	cust, err := c.store.FindCustomerByCode(ctx, code)
	if errors.Is(err, sentinel.ErrNotFound) || (err == nil && !cust.IsActive) {
		return nil, dErrors.New(dErrors.CodeNotFound, role+" customer not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+role+" customer")
	}
	return cust, nil
}

// lockPair row-locks both customers in UUID order and re-checks that each
// is still active. Identity writes lock the same rows, so none of them can
// attach records to the source once the merge holds its lock.
func (c *Coordinator) lockPair(ctx context.Context, source, target *models.Customer) (*models.Customer, *models.Customer, error) {
	first, second := source, target
	if bytes.Compare(first.ID[:], second.ID[:]) > 0 {
		first, second = second, first
	}
	locked := map[id.CustomerID]*models.Customer{}
	for _, cust := range []*models.Customer{first, second} {
		role := "source"
		if cust.ID == target.ID {
			role = "target"
		}
		l, err := c.store.LockCustomer(ctx, cust.ID)
		if errors.Is(err, sentinel.ErrNotFound) || (err == nil && !l.IsActive) {
			return nil, nil, dErrors.New(dErrors.CodeNotFound, role+" customer not found")
		}
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock "+role+" customer")
		}
		locked[cust.ID] = l
	}
	return locked[source.ID], locked[target.ID], nil
}

// moveContacts relocates the source's contact points. A relocated contact
// stays primary only when the target has no primary of its type. Values are
// globally unique, so the target can never already hold one of them. Source
// primaries are demoted first so no intermediate state holds two primaries.
func (c *Coordinator) moveContacts(ctx context.Context, source, target *models.Customer, now time.Time, res *Result) error {
	moving, err := c.store.ListContactPoints(ctx, source.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list source contact points")
	}
	existing, err := c.store.ListContactPoints(ctx, target.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list target contact points")
	}
	hasPrimary := map[models.ContactType]bool{}
	for _, cp := range existing {
		if cp.IsPrimary {
			hasPrimary[cp.Type] = true
		}
	}

	wasPrimary := map[id.ContactPointID]bool{}
	for _, cp := range moving {
		if !cp.IsPrimary {
			continue
		}
		wasPrimary[cp.ID] = true
		cp.IsPrimary = false
		cp.UpdatedAt = now
		if err := c.store.UpdateContactPoint(ctx, cp); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to demote source contact point")
		}
	}

	touched := map[models.ContactType]bool{}
	for _, cp := range moving {
		cp.CustomerID = target.ID
		if wasPrimary[cp.ID] && !hasPrimary[cp.Type] {
			cp.IsPrimary = true
			hasPrimary[cp.Type] = true
		}
		cp.UpdatedAt = now
		if err := c.store.UpdateContactPoint(ctx, cp); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "contact point conflicts with an existing record")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to move contact point")
		}
		if err := gateErr(gates.ContactPointUniqueness(ctx, c.store, cp.Type, cp.ValueNormalized, target.ID)); err != nil {
			return err
		}
		touched[cp.Type] = true
		res.ContactsMoved++

		if cp.IsPrimary {
			fillNative(target, cp)
		}
	}
	for t := range touched {
		if err := gateErr(gates.PrimaryInvariant(ctx, c.store, target.ID, t)); err != nil {
			return err
		}
	}
	return nil
}

// fillNative copies a relocated primary phone or email into the target's
// empty native field.
func fillNative(target *models.Customer, cp *models.ContactPoint) {
	switch cp.Type {
	case models.ContactPhone:
		if target.Phone == "" {
			target.Phone = cp.ValueNormalized
		}
	case models.ContactEmail:
		if target.Email == "" {
			target.Email = cp.ValueNormalized
		}
	}
}

func (c *Coordinator) moveExternals(ctx context.Context, source, target *models.Customer, res *Result) error {
	externals, err := c.store.ListExternalIdentities(ctx, source.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list source external identities")
	}
	if len(externals) == 0 {
		return nil
	}
	ids := make([]id.ExternalIdentityID, 0, len(externals))
	for _, e := range externals {
		ids = append(ids, e.ID)
	}
	n, err := c.store.ReassignExternalIdentities(ctx, ids, target.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to move external identities")
	}
	res.ExternalsMoved = n
	return nil
}

// moveIdentifiers reassigns the source's identifiers. A source primary is
// demoted first when the target already has a primary of that type.
func (c *Coordinator) moveIdentifiers(ctx context.Context, source, target *models.Customer, res *Result) error {
	moving, err := c.store.ListIdentifiers(ctx, source.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list source identifiers")
	}
	if len(moving) == 0 {
		return nil
	}
	existing, err := c.store.ListIdentifiers(ctx, target.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list target identifiers")
	}
	var primaries []models.IdentifierType
	for _, ident := range existing {
		if ident.IsPrimary {
			primaries = append(primaries, ident.Type)
		}
	}

	ids := make([]id.IdentifierID, 0, len(moving))
	for _, ident := range moving {
		if ident.IsPrimary && slices.Contains(primaries, ident.Type) {
			ident.IsPrimary = false
			if err := c.store.UpdateIdentifier(ctx, ident); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to demote source identifier")
			}
		}
		ids = append(ids, ident.ID)
	}
	n, err := c.store.ReassignIdentifiers(ctx, ids, target.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "identifier conflicts with an existing record")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to move identifiers")
	}
	res.IdentifiersMoved = n
	return nil
}

func (c *Coordinator) emit(ctx context.Context, e events.Event, actor string) {
	e.Actor = actor
	if err := c.publisher.Publish(ctx, e); err != nil && c.logger != nil {
		c.logger.ErrorContext(ctx, "failed to publish merge event", "event_type", e.Type, "error", err)
	}
}

func gateErr(r gates.Result, err error) error {
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "gate lookup failed")
	}
	return r.Err()
}
