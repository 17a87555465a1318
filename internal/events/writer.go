package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gigline/internal/db"
)

// Writer appends events to the SQL event log that the webhook relay and
// the log commands read from.
type Writer struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

func (w Writer) Publish(ctx context.Context, evt Event) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if evt.At.IsZero() {
		evt.At = w.Now()
	}
	data, err := json.Marshal(NewEnvelope(evt))
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := evt.ActorID
	if actor == "" {
		actor = "system"
	}
	_, err = w.DB.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,gig_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		evt.At.UTC().Format(time.RFC3339), string(evt.Type), nullable(evt.GigID), evt.EntityKind(), nullable(evt.EntityID()), actor, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
