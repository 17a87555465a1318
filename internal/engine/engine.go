package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"gigline/internal/bidstate"
	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine/auth"
	"gigline/internal/events"
	"gigline/internal/ledger"
	"gigline/internal/observability"
	"gigline/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Ledger  ledger.Ledger
	Bids    bidstate.Machine
	Auth    auth.Service
	Events  events.Publisher
	Config  *config.Config
	Metrics *observability.Allocation
	Logger  *slog.Logger
	Now     func() time.Time
}

func New(conn *sql.DB, cfg *config.Config) Engine {
	dialect := db.SQLite
	if cfg != nil {
		if d, err := db.ParseDialect(cfg.Database.Driver); err == nil {
			dialect = d
		}
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	return Engine{
		DB:     conn,
		Repo:   r,
		Ledger: ledger.Ledger{Store: r},
		Bids:   bidstate.Machine{Store: r},
		Events: events.Writer{DB: conn, Dialect: dialect},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// publish hands committed changes to the publisher. Failures are logged and
// never reach the caller; the change they describe is already durable.
func (e Engine) publish(ctx context.Context, evts ...events.Event) {
	if e.Events == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, evt := range evts {
		if evt.At.IsZero() {
			evt.At = e.now()
		}
		if err := e.Events.Publish(ctx, evt); err != nil {
			e.logger().Warn("event publish failed",
				"type", evt.Type, "gig_id", evt.GigID, "bid_id", evt.BidID, "actor_id", evt.ActorID, "error", err)
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &domain.ValidationError{Field: fe.Field(), Message: validationMessage(fe), Err: err}
	}
	return &domain.ValidationError{Message: err.Error(), Err: err}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	}
	return "failed " + fe.Tag() + " check"
}

// loadBid fetches a bid and its gig; both must exist before any mutation.
func (e Engine) loadBid(ctx context.Context, bidID string) (domain.Bid, domain.Gig, error) {
	bid, err := e.Repo.GetBid(ctx, bidID)
	if err != nil {
		return domain.Bid{}, domain.Gig{}, err
	}
	gig, err := e.Repo.GetGig(ctx, bid.GigID)
	if err != nil {
		return domain.Bid{}, domain.Gig{}, err
	}
	return bid, gig, nil
}

func counterEvent(gig domain.Gig, c domain.Counters, actorID string) events.Event {
	return events.Event{
		Type:     events.GigPositionsUpdate,
		GigID:    gig.ID,
		OwnerID:  gig.OwnerID,
		ActorID:  actorID,
		Counters: &c,
	}
}

func bidEvent(t events.Type, gig domain.Gig, bid domain.Bid, actorID string, payload events.EventPayload) events.Event {
	return events.Event{
		Type:     t,
		GigID:    gig.ID,
		BidID:    bid.ID,
		BidderID: bid.BidderID,
		OwnerID:  gig.OwnerID,
		ActorID:  actorID,
		Payload:  payload,
	}
}
