package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/openmic/roster"
)

// OpKind is the kind of registry mutation an Operation requests.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one registry mutation in a Plan.
type Operation struct {
	Kind        OpKind   `json:"kind"`
	Key         MatchKey `json:"key"`
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
}

// AnomalyKind names a data-quality problem found while planning.
type AnomalyKind string

const (
	// AnomalyDuplicateBroadcast: more than one registry broadcast parses to the same key; the first is kept, the rest are left alone.
	AnomalyDuplicateBroadcast AnomalyKind = "duplicate_broadcast"
	// AnomalyDuplicateSong: two roster entries produce the same key; the last one wins.
	AnomalyDuplicateSong AnomalyKind = "duplicate_song"
	// AnomalyDuplicatePerformer: two active performers share a (name, time slot) identity.
	AnomalyDuplicatePerformer AnomalyKind = "duplicate_performer"
	// AnomalyUnmanagedTitle: a broadcast title is not in the managed format; it is never touched.
	AnomalyUnmanagedTitle AnomalyKind = "unmanaged_title"
	// AnomalyCancelledTerminal: a cancelled performer still holds a live or complete broadcast.
	AnomalyCancelledTerminal AnomalyKind = "cancelled_terminal"
	// AnomalyTitleTooLong: the rendered title exceeds the registry limit; the song is skipped and its broadcast kept.
	AnomalyTitleTooLong AnomalyKind = "title_too_long"
)

// Anomaly is a data-quality problem for human review.
type Anomaly struct {
	Kind   AnomalyKind `json:"kind"`
	Key    MatchKey    `json:"key,omitempty"`
	ID     string      `json:"id,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// Plan is the set of operations that converges a registry snapshot with a roster.
type Plan struct {
	Deletes   []Operation `json:"deletes"`
	Upserts   []Operation `json:"upserts"`
	Anomalies []Anomaly   `json:"anomalies,omitempty"`
	Expected  int         `json:"expected"`
	Managed   int         `json:"managed"`
	Protected int         `json:"protected"`
}

// Empty reports whether the plan has no operations.
func (p Plan) Empty() bool { return len(p.Deletes) == 0 && len(p.Upserts) == 0 }

// Operations returns deletions followed by creates and updates, in apply order.
func (p Plan) Operations() []Operation {
	out := make([]Operation, 0, len(p.Deletes)+len(p.Upserts))
	out = append(out, p.Deletes...)
	return append(out, p.Upserts...)
}

// ItemError records a failed operation. The pass continues after it.
type ItemError struct {
	Op      Operation  `json:"op"`
	Class   ErrorClass `json:"-"`
	Err     error      `json:"-"`
	Message string     `json:"error"`
}

// Summary is the outcome of applying a plan.
type Summary struct {
	Created   int         `json:"created"`
	Updated   int         `json:"updated"`
	Deleted   int         `json:"deleted"`
	Errors    []ItemError `json:"errors,omitempty"`
	Anomalies []Anomaly   `json:"anomalies,omitempty"`
	Aborted   bool        `json:"aborted,omitempty"`
}

// Operations returns the number of successful mutations.
func (s Summary) Operations() int { return s.Created + s.Updated + s.Deleted }

// HasTransient reports whether any item failed with a retryable error.
func (s Summary) HasTransient() bool {
	for _, e := range s.Errors {
		if e.Class == ClassTransient {
			return true
		}
	}
	return false
}

func (s *Summary) fail(op Operation, err error) {
	s.Errors = append(s.Errors, ItemError{Op: op, Class: ClassOf(err), Err: err, Message: err.Error()})
}

// Engine plans and applies reconciliation passes.
type Engine struct {
	format    Formatter
	opTimeout time.Duration
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithOpTimeout bounds every individual registry mutation.
func WithOpTimeout(d time.Duration) Option { return func(e *Engine) { e.opTimeout = d } }

// WithLogger sets the logger used for operations and anomalies.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine returns an engine rendering titles with f.
func NewEngine(f Formatter, opts ...Option) *Engine {
	e := &Engine{format: f, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Formatter returns the formatter used by the engine.
func (e *Engine) Formatter() Formatter { return e.format }

type desired struct {
	title       string
	description string
}

// Plan computes the operations converging snapshot with performers. It is
// deterministic: the same inputs always yield the same plan, in roster and
// snapshot order.
func (e *Engine) Plan(performers []roster.Performer, snapshot []ManagedBroadcast) Plan {
	var plan Plan

	expected := map[MatchKey]desired{}
	var order []MatchKey
	held := map[MatchKey]bool{}
	cancelled := map[MatchKey]string{}
	identities := map[string]bool{}
	for _, p := range performers {
		if p.Cancelled {
			for _, s := range p.RealSongs() {
				cancelled[KeyOf(p, s)] = p.Name
			}
			continue
		}
		if id := p.Identity(); identities[id] {
			plan.Anomalies = append(plan.Anomalies, Anomaly{Kind: AnomalyDuplicatePerformer, Detail: p.Name + " @ " + p.TimeSlot})
		} else {
			identities[id] = true
		}
		for _, s := range p.RealSongs() {
			k := KeyOf(p, s)
			d := desired{title: e.format.Title(p, s), description: e.format.Description(p, s)}
			if !e.format.TitleFits(d.title) {
				held[k] = true
				plan.Anomalies = append(plan.Anomalies, Anomaly{Kind: AnomalyTitleTooLong, Key: k, Detail: d.title})
				continue
			}
			if _, dup := expected[k]; dup {
				plan.Anomalies = append(plan.Anomalies, Anomaly{Kind: AnomalyDuplicateSong, Key: k, Detail: p.Name + " @ " + p.TimeSlot})
			} else {
				order = append(order, k)
			}
			expected[k] = d
		}
	}
	plan.Expected = len(order)

	existing := map[MatchKey]ManagedBroadcast{}
	var existingOrder []MatchKey
	for _, b := range snapshot {
		pt, ok := e.format.Parse(b.Title)
		if !ok {
			plan.Anomalies = append(plan.Anomalies, Anomaly{Kind: AnomalyUnmanagedTitle, ID: b.ID, Detail: b.Title})
			continue
		}
		k := pt.Key()
		if first, dup := existing[k]; dup {
			plan.Anomalies = append(plan.Anomalies, Anomaly{Kind: AnomalyDuplicateBroadcast, Key: k, ID: b.ID, Detail: "kept " + first.ID})
			continue
		}
		existing[k] = b
		existingOrder = append(existingOrder, k)
	}
	plan.Managed = len(existingOrder)

	for _, k := range existingOrder {
		b := existing[k]
		_, wanted := expected[k]
		if b.State.Terminal() {
			plan.Protected++
			if name, ok := cancelled[k]; ok && !wanted {
				plan.Anomalies = append(plan.Anomalies, Anomaly{Kind: AnomalyCancelledTerminal, Key: k, ID: b.ID, Detail: name + " is cancelled but broadcast is " + string(b.State)})
			}
			continue
		}
		if wanted || held[k] {
			continue
		}
		plan.Deletes = append(plan.Deletes, Operation{Kind: OpDelete, Key: k, ID: b.ID, Title: b.Title})
	}

	for _, k := range order {
		d := expected[k]
		b, ok := existing[k]
		switch {
		case !ok:
			plan.Upserts = append(plan.Upserts, Operation{Kind: OpCreate, Key: k, Title: d.title, Description: d.description})
		case b.State.Terminal():
			// already aired
		case !sameText(b.Title, d.title) || !sameText(b.Description, d.description):
			plan.Upserts = append(plan.Upserts, Operation{Kind: OpUpdate, Key: k, ID: b.ID, Title: d.title, Description: d.description})
		}
	}
	return plan
}

func sameText(a, b string) bool {
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }
	return norm(a) == norm(b)
}

// Apply issues the plan's operations against reg: every deletion first, then
// creates and updates. A failing operation is recorded and the pass continues.
// If ctx is cancelled the remaining operations are abandoned.
func (e *Engine) Apply(ctx context.Context, reg Registry, plan Plan) Summary {
	s := Summary{Anomalies: plan.Anomalies}
	for _, a := range plan.Anomalies {
		level := slog.LevelWarn
		if a.Kind == AnomalyUnmanagedTitle {
			level = slog.LevelDebug
		}
		e.logger.Log(ctx, level, "reconcile anomaly", slog.String("kind", string(a.Kind)), slog.String("key", string(a.Key)), slog.String("id", a.ID), slog.String("detail", a.Detail), slog.String("component", "reconcile"))
	}

	for _, op := range plan.Deletes {
		if ctx.Err() != nil {
			s.Aborted = true
			return s
		}
		if err := e.call(ctx, func(c context.Context) error { return reg.Delete(c, op.ID) }); err != nil {
			e.logFailure(ctx, op, err)
			s.fail(op, err)
			continue
		}
		e.logger.Info("broadcast deleted", slog.String("id", op.ID), slog.String("title", op.Title), slog.String("component", "reconcile"))
		s.Deleted++
	}

	for _, op := range plan.Upserts {
		if ctx.Err() != nil {
			s.Aborted = true
			return s
		}
		switch op.Kind {
		case OpCreate:
			var id string
			err := e.call(ctx, func(c context.Context) error {
				var err error
				id, err = reg.Create(c, op.Title, op.Description)
				return err
			})
			if err != nil {
				e.logFailure(ctx, op, err)
				s.fail(op, err)
				continue
			}
			e.logger.Info("broadcast created", slog.String("id", id), slog.String("title", op.Title), slog.String("component", "reconcile"))
			s.Created++
		case OpUpdate:
			if err := e.call(ctx, func(c context.Context) error { return reg.Update(c, op.ID, op.Title, op.Description) }); err != nil {
				e.logFailure(ctx, op, err)
				s.fail(op, err)
				continue
			}
			e.logger.Info("broadcast updated", slog.String("id", op.ID), slog.String("title", op.Title), slog.String("component", "reconcile"))
			s.Updated++
		}
	}
	return s
}

// Reconcile plans against snapshot and applies the plan to reg.
func (e *Engine) Reconcile(ctx context.Context, reg Registry, performers []roster.Performer, snapshot []ManagedBroadcast) Summary {
	return e.Apply(ctx, reg, e.Plan(performers, snapshot))
}

func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	if e.opTimeout <= 0 {
		return fn(ctx)
	}
	c, cancel := context.WithTimeout(ctx, e.opTimeout)
	defer cancel()
	return fn(c)
}

func (e *Engine) logFailure(ctx context.Context, op Operation, err error) {
	class := ClassOf(err)
	msg := "registry operation failed; will retry next tick"
	if class == ClassPermanent {
		msg = "registry operation rejected; skipping item"
	}
	e.logger.LogAttrs(ctx, slog.LevelWarn, msg,
		slog.String("op", string(op.Kind)),
		slog.String("id", op.ID),
		slog.String("key", string(op.Key)),
		slog.String("class", class.String()),
		slog.Any("err", err),
		slog.String("component", "reconcile"))
}
