package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tls_portal_go/models"
	"tls_portal_go/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ClientEvent is delivered to client triggers after the write has committed.
type ClientEvent struct {
	Client *models.Client
	// Previous is set for updates only
	Previous *models.Client
}

// ClientTrigger reacts to a committed client write. Triggers must be idempotent:
// the dispatcher may deliver the same event again (retry jobs, manual reprovision).
type ClientTrigger func(ctx context.Context, ev ClientEvent) error

type namedTrigger struct {
	name string
	fn   ClientTrigger
}

type EventType string

const (
	ClientCreated EventType = "client.created"
	ClientUpdated EventType = "client.updated"
	ClientDeleted EventType = "client.deleted"
)

// Triggers runs registered handlers for client record events. Handlers for an
// event run sequentially and independently: one failing does not skip the rest.
type Triggers struct {
	handlers map[EventType][]namedTrigger
	log      *zap.Logger
	async    bool
	wg       sync.WaitGroup
}

// NewTriggers creates a dispatcher. With async set, Fire returns immediately and
// handlers run on a background goroutine detached from the request context.
func NewTriggers(log *zap.Logger, async bool) *Triggers {
	return &Triggers{
		handlers: make(map[EventType][]namedTrigger),
		log:      log,
		async:    async,
	}
}

func (t *Triggers) On(event EventType, name string, fn ClientTrigger) {
	t.handlers[event] = append(t.handlers[event], namedTrigger{name: name, fn: fn})
}

// Fire dispatches ev to every handler of event. In synchronous mode it returns
// the joined handler errors; in async mode errors are only logged.
func (t *Triggers) Fire(ctx context.Context, event EventType, ev ClientEvent) error {
	if !t.async {
		return t.run(ctx, event, ev)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_ = t.run(context.WithoutCancel(ctx), event, ev)
	}()
	return nil
}

// Wait blocks until in-flight async dispatches finish.
func (t *Triggers) Wait() {
	t.wg.Wait()
}

func (t *Triggers) run(ctx context.Context, event EventType, ev ClientEvent) error {
	var errs []error
	for _, h := range t.handlers[event] {
		if err := t.runOne(ctx, event, h, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Triggers) runOne(ctx context.Context, event EventType, h namedTrigger, ev ClientEvent) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "trigger."+h.name)
	span.SetAttributes(
		attribute.String("event", string(event)),
		attribute.String("client.id", ev.Client.ID),
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trigger panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			t.log.Error("Client trigger failed",
				zap.String("event", string(event)),
				zap.String("trigger", h.name),
				zap.String("client_id", ev.Client.ID),
				zap.Error(err),
			)
		}
		span.End()
	}()

	return h.fn(ctx, ev)
}
