package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/engine/auth"
	"gigline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// RateLimiter is optional; nil disables limiting.
	RateLimiter *RateLimiter
	// MaxBodyBytes caps request bodies; zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

const DefaultMaxBodyBytes = 1 << 20

type apiErrorBody struct {
	Code    string         `json:"code" example:"capacity_exhausted"`
	Message string         `json:"message" example:"all positions are filled"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"gig_id\":\"g-1\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type output[T any] struct {
	Body T `json:"body"`
}

func respond[T any](v T) *output[T] { return &output[T]{Body: v} }

// New returns an HTTP handler exposing the gigline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema validation failures are malformed requests.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	router.Use(captureBody(maxBody))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	if cfg.RateLimiter != nil {
		router.Use(cfg.RateLimiter.Middleware)
	}
	hcfg := huma.DefaultConfig("gigline API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerGigs(group, cfg.Engine)
	registerAdmins(group, cfg.Engine)
	registerBids(group, cfg.Engine)
	registerAllocation(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var ce *domain.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"bid_id": ce.BidID, "current_status": ce.Current})
	}
	var ie *domain.InvariantError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusInternalServerError, "invariant_violation", "capacity invariant violated", map[string]any{"gig_id": ie.GigID, "op": ie.Op})
	}
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, domain.ErrCapacityExhausted):
		return newAPIError(http.StatusConflict, "capacity_exhausted", msg, nil)
	case errors.Is(err, domain.ErrConfirmationRequired):
		return newAPIError(http.StatusConflict, "confirmation_required", msg, nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", msg, nil)
	case errors.Is(err, domain.ErrGigClosed):
		return newAPIError(http.StatusUnprocessableEntity, "gig_closed", msg, nil)
	case errors.Is(err, domain.ErrActiveBidExists):
		return newAPIError(http.StatusUnprocessableEntity, "active_bid_exists", msg, nil)
	case errors.Is(err, domain.ErrSelfBid):
		return newAPIError(http.StatusUnprocessableEntity, "self_bid", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>gigline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

var allocationErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return respond(map[string]string{"status": "ok"}), nil
	})
}

type gigPath struct {
	GigID string `path:"gig_id"`
}

type bidPath struct {
	BidID string `path:"bid_id"`
}

func registerGigs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-gig",
		Method:        http.MethodPost,
		Path:          "/gigs",
		Summary:       "Create gig",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateGigRequest `json:"body"`
	}) (*output[GigResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.CreateGig(ctx, engine.GigCreateOptions{
			Title:              input.Body.Title,
			Description:        input.Body.Description,
			Budget:             input.Body.Budget,
			Skills:             input.Body.Skills,
			PositionsAvailable: input.Body.PositionsAvailable,
			OwnerID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(gigResponse(g)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-gigs",
		Method:      http.MethodGet,
		Path:        "/gigs",
		Summary:     "List gigs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status  []string `query:"status" enum:"open,assigned,filled,completed"`
		OwnerID string   `query:"owner_id"`
		Search  string   `query:"q"`
		Limit   int      `query:"limit" default:"50"`
		Cursor  string   `query:"cursor"`
	}) (*output[paginatedGigs], error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		f := repo.GigFilters{
			OwnerID:         input.OwnerID,
			Search:          input.Search,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		}
		if len(input.Status) == 0 {
			f.Statuses = []domain.GigStatus{domain.GigOpen, domain.GigAssigned}
		}
		for _, s := range input.Status {
			f.Statuses = append(f.Statuses, domain.GigStatus(s))
		}
		items, err := e.ListGigs(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedGigs{}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = mapGigs(items)
		return respond(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-gig",
		Method:      http.MethodGet,
		Path:        "/gigs/{gig_id}",
		Summary:     "Get gig",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *gigPath) (*output[GigResponse], error) {
		g, err := e.GetGig(ctx, input.GigID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(gigResponse(g)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-gig",
		Method:        http.MethodDelete,
		Path:          "/gigs/{gig_id}",
		Summary:       "Delete gig",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		GigID   string `path:"gig_id"`
		Confirm bool   `query:"confirm"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteGig(ctx, input.GigID, actorID, input.Confirm); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-gig",
		Method:      http.MethodPost,
		Path:        "/gigs/{gig_id}/complete",
		Summary:     "Mark gig completed",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *gigPath) (*output[CompleteGigResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, rejected, err := e.CompleteGig(ctx, input.GigID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(CompleteGigResponse{Gig: gigResponse(g), RejectedBids: mapBids(rejected)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-gig",
		Method:      http.MethodPost,
		Path:        "/gigs/{gig_id}/reconcile",
		Summary:     "Release stale reservations and finish settling the gig",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *gigPath) (*output[ReconcileResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ReconcileCapacity(ctx, input.GigID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(reconcileResponse(res)), nil
	})
}

func registerAdmins(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-gig-admin",
		Method:      http.MethodPost,
		Path:        "/gigs/{gig_id}/admins",
		Summary:     "Assign gig admin",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GigID string             `path:"gig_id"`
		Body  AssignAdminRequest `json:"body"`
	}) (*output[GigResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.AssignAdmin(ctx, input.GigID, actorID, strings.TrimSpace(input.Body.AdminID))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(gigResponse(g)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-gig-admin",
		Method:      http.MethodDelete,
		Path:        "/gigs/{gig_id}/admins/{admin_id}",
		Summary:     "Remove gig admin",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GigID   string `path:"gig_id"`
		AdminID string `path:"admin_id"`
	}) (*output[GigResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.RemoveAdmin(ctx, input.GigID, actorID, input.AdminID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(gigResponse(g)), nil
	})
}

func registerBids(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-bid",
		Method:        http.MethodPost,
		Path:          "/gigs/{gig_id}/bids",
		Summary:       "Submit bid",
		DefaultStatus: http.StatusCreated,
		Errors:        allocationErrors,
	}, func(ctx context.Context, input *struct {
		GigID string           `path:"gig_id"`
		Body  SubmitBidRequest `json:"body"`
	}) (*output[BidResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.SubmitBid(ctx, engine.BidSubmitOptions{
			GigID:    input.GigID,
			BidderID: actorID,
			Message:  input.Body.Message,
			Price:    input.Body.Price,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(bidResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-gig-bids",
		Method:      http.MethodGet,
		Path:        "/gigs/{gig_id}/bids",
		Summary:     "List bids on a gig",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *gigPath) (*output[[]BidResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListBidsForGig(ctx, input.GigID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapBids(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-bids",
		Method:      http.MethodGet,
		Path:        "/me/bids",
		Summary:     "List the caller's bids",
	}, func(ctx context.Context, _ *struct{}) (*output[[]BidResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListBidsByBidder(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapBids(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bid",
		Method:      http.MethodGet,
		Path:        "/bids/{bid_id}",
		Summary:     "Get bid",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *bidPath) (*output[BidResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.GetBid(ctx, input.BidID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(bidResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{bid_id}/reject",
		Summary:     "Reject bid",
		Errors:      allocationErrors,
	}, func(ctx context.Context, input *struct {
		BidID string           `path:"bid_id"`
		Body  RejectBidRequest `json:"body,omitempty" required:"false"`
	}) (*output[BidResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.RejectBid(ctx, input.BidID, actorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(bidResponse(b)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "counter-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{bid_id}/counter-offer",
		Summary:     "Send a counter-offer",
		Errors:      allocationErrors,
	}, func(ctx context.Context, input *struct {
		BidID string              `path:"bid_id"`
		Body  CounterOfferRequest `json:"body"`
	}) (*output[BidResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CounterOffer(ctx, engine.CounterOfferOptions{
			BidID:   input.BidID,
			ActorID: actorID,
			Price:   input.Body.Price,
			Message: input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(bidResponse(b)), nil
	})
}

func registerAllocation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "hire-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{bid_id}/hire",
		Summary:     "Hire bidder",
		Description: "Reserves a position and hires the bid. When the last position is taken, remaining pending bids are rejected.",
		Errors:      allocationErrors,
	}, func(ctx context.Context, input *bidPath) (*output[HireResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Hire(ctx, input.BidID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(hireResponse(res)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-counter",
		Method:      http.MethodPost,
		Path:        "/bids/{bid_id}/accept-counter",
		Summary:     "Accept counter-offer",
		Errors:      allocationErrors,
	}, func(ctx context.Context, input *bidPath) (*output[HireResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AcceptCounter(ctx, input.BidID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(hireResponse(res)), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events for a gig",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GigID    string `query:"gig_id" required:"true"`
		Type     string `query:"type"`
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*output[paginatedEvents], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		gig, err := e.GetGig(ctx, input.GigID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.Auth.Authorize(gig, nil, actorID, auth.PermBidList); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, repo.EventFilters{
			GigID: gig.ID, Type: input.Type, EntityID: input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return respond(resp), nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*output[WhoAmIResponse], error) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return respond(WhoAmIResponse{
			ActorID: principal.ActorID,
			Roles:   nonNilSlice(principal.Roles),
			Source:  principal.Source,
		}), nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*output[DevLoginResponse], error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, time.Duration(input.Body.TTL)*time.Second)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return respond(DevLoginResponse{Token: token}), nil
	})
}

// captureBody reads at most limit bytes of the request body, keeps them in
// the context and hands the handler a fresh reader over the same bytes.
func captureBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					respondStatusError(w, newAPIError(http.StatusRequestEntityTooLarge, "payload_too_large",
						fmt.Sprintf("request body exceeds %d bytes", limit), nil))
					return
				}
				respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "reading request body: "+err.Error(), nil))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bodyBytes(ctx context.Context) []byte {
	buf, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return buf
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
