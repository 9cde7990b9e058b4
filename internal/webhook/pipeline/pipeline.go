// Package pipeline runs webhook deliveries through authenticity (G4),
// replay protection (G5) and the provider dispatcher, in that order.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/qmuntal/stateless"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"patron/internal/gates"
	"patron/internal/webhook/metrics"
	"patron/internal/webhook/provider"
	dErrors "patron/pkg/domain-errors"
)

// Delivery is one inbound webhook request.
type Delivery struct {
	Provider  string
	Body      []byte
	Signature string
	// Timestamp is the raw signed-timestamp header in unix seconds; empty
	// skips the freshness check.
	Timestamp string
	// Nonce is the header-supplied event id. When empty the body's "id" or
	// "event_id" is used.
	Nonce      string
	ReceivedAt time.Time
}

// Outcome reports where a delivery stopped and why.
type Outcome struct {
	State State
	Nonce string
	// Gate is set when G4 or G5 rejected the delivery.
	Gate *gates.Result
	// Dispatch is set once the provider dispatcher succeeded.
	Dispatch *provider.Result
	// Err is set for rejections that are not gate failures.
	Err error
}

// Duplicate reports whether the delivery was a replay.
func (o Outcome) Duplicate() bool {
	return o.Gate != nil && o.Gate.Gate == gates.GateReplayProtection && o.Gate.Reason == gates.ReasonReplay
}

// SecretSource returns the shared secret for a provider, or "" when none is
// configured.
type SecretSource interface {
	Secret(provider string) string
}

// Releaser lets a recorder give back a nonce whose dispatch failed.
type Releaser interface {
	Forget(ctx context.Context, nonce string) error
}

type Pipeline struct {
	secrets   SecretSource
	recorder  gates.NonceRecorder
	dispatch  provider.Registry
	freshness time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func WithFreshnessWindow(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.freshness = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

func New(secrets SecretSource, recorder gates.NonceRecorder, dispatchers provider.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		secrets:   secrets,
		recorder:  recorder,
		dispatch:  dispatchers,
		freshness: gates.DefaultMaxEventAge,
		logger:    slog.Default(),
		tracer:    otel.Tracer("patron/webhook"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Supports reports whether a dispatcher is registered for name.
func (p *Pipeline) Supports(name string) bool {
	_, ok := p.dispatch.Lookup(name)
	return ok
}

// Process advances d through the pipeline. The returned error is non-nil
// only for infrastructure failures; gate and payload rejections are reported
// through the Outcome.
func (p *Pipeline) Process(ctx context.Context, d Delivery) (out Outcome, err error) {
	name := strings.ToLower(strings.TrimSpace(d.Provider))
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = time.Now()
	}
	ctx, span := p.tracer.Start(ctx, "webhook.Process", trace.WithAttributes(
		attribute.String("webhook.provider", name),
	))
	defer func() {
		span.SetAttributes(attribute.String("webhook.state", string(out.State)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		p.metrics.RecordDelivery(name, string(out.State), time.Since(d.ReceivedAt))
	}()

	m := newMachine()
	dispatcher, ok := p.dispatch.Lookup(name)
	if !ok {
		return p.reject(ctx, m, out, nil, dErrors.New(dErrors.CodeNotFound, "unknown provider: "+d.Provider))
	}

	// G4 runs on the raw body before anything is parsed.
	secret := p.secrets.Secret(name)
	auth := gates.ProviderEventAuthenticity(gates.EventAuthenticity{
		Body:      d.Body,
		Signature: d.Signature,
		Secret:    secret,
		Timestamp: parseUnix(d.Timestamp),
		Now:       d.ReceivedAt,
		MaxAge:    p.freshness,
	})
	if !auth.Passed {
		p.metrics.RecordGateFailure(name, string(auth.Gate), string(auth.Reason))
		p.logger.WarnContext(ctx, "webhook authenticity check failed",
			"provider", name, "reason", auth.Reason, "message", auth.Message)
		return p.reject(ctx, m, out, &auth, nil)
	}
	if auth.Skipped {
		p.metrics.RecordAuthSkipped(name)
		p.logger.WarnContext(ctx, "webhook secret not configured, signature validation skipped", "provider", name)
	}
	if err := m.FireCtx(ctx, triggerAuthenticate); err != nil {
		return out, err
	}

	var body map[string]any
	if err := json.Unmarshal(d.Body, &body); err != nil {
		return p.reject(ctx, m, out, nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON"))
	}
	out.Nonce = nonceOf(d.Nonce, body)
	span.SetAttributes(attribute.String("webhook.nonce", out.Nonce))

	replay, err := gates.ReplayProtection(ctx, p.recorder, name, out.Nonce, d.ReceivedAt)
	if err != nil {
		out.State = stateOf(m)
		return out, dErrors.Wrap(err, dErrors.CodeInternal, "replay check failed")
	}
	if !replay.Passed {
		p.metrics.RecordGateFailure(name, string(replay.Gate), string(replay.Reason))
		p.logger.DebugContext(ctx, "webhook delivery rejected by replay protection",
			"provider", name, "nonce", out.Nonce, "reason", replay.Reason)
		return p.reject(ctx, m, out, &replay, nil)
	}
	if err := m.FireCtx(ctx, triggerDedupe); err != nil {
		return out, err
	}

	result, err := dispatcher.Dispatch(ctx, d.Body)
	if err != nil {
		p.release(ctx, name, out.Nonce, err)
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			out.State = stateOf(m)
			return out, err
		}
		return p.reject(ctx, m, out, nil, err)
	}
	if err := m.FireCtx(ctx, triggerDispatch); err != nil {
		return out, err
	}
	out.State = stateOf(m)
	out.Dispatch = &result
	span.SetAttributes(
		attribute.String("customer.code", result.CustomerCode),
		attribute.Bool("customer.created", result.Created),
	)
	p.logger.InfoContext(ctx, "webhook delivery dispatched",
		"provider", name, "nonce", out.Nonce, "customer_code", result.CustomerCode, "status", result.Status())
	return out, nil
}

func (p *Pipeline) reject(ctx context.Context, m *stateless.StateMachine, out Outcome, gate *gates.Result, cause error) (Outcome, error) {
	if err := m.FireCtx(ctx, triggerReject); err != nil {
		return out, err
	}
	out.State = stateOf(m)
	out.Gate = gate
	out.Err = cause
	return out, nil
}

// release gives the nonce back so a retried delivery is not mistaken for a
// replay of one that never took effect.
func (p *Pipeline) release(ctx context.Context, name, nonce string, cause error) {
	r, ok := p.recorder.(Releaser)
	if !ok {
		return
	}
	if err := r.Forget(ctx, nonce); err != nil {
		p.logger.ErrorContext(ctx, "failed to release webhook nonce",
			"provider", name, "nonce", nonce, "error", err, "cause", cause)
	}
}

func stateOf(m *stateless.StateMachine) State {
	return m.MustState().(State)
}

func nonceOf(header string, body map[string]any) string {
	if n := strings.TrimSpace(header); n != "" {
		return n
	}
	for _, key := range []string{"id", "event_id"} {
		switch v := body[key].(type) {
		case string:
			if n := strings.TrimSpace(v); n != "" {
				return n
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func parseUnix(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
