package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"mintline/internal/domain"
	"mintline/internal/engine"
	"mintline/internal/repo"
	"mintline/internal/report"
	"mintline/internal/verify"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Report   *report.Builder
	Verifier verify.Verifier
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"lease_conflict"`
	Message string         `json:"message" example:"resource unavailable, retry"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Mintline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
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
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Mintline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTickets(group, cfg.Engine)
	registerWallets(group, cfg.Engine)
	registerMints(group, cfg.Engine)
	registerOffers(group, cfg.Engine)
	registerListings(group, cfg.Engine)
	registerTransfers(group, cfg.Engine)
	registerReport(group, cfg.Report)
	registerVerify(group, cfg.Verifier)
	registerEvents(group, cfg.Engine)
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

// handleError maps engine errors to the envelope: contention is 409 and
// retryable, validation is 422, unknown records are 404.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrUnavailable) {
		return newAPIError(http.StatusConflict, "lease_conflict", err.Error(), map[string]any{"retryable": true})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", ve.Msg, nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
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
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Mintline API Docs</title>
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
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTickets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "ingest-ticket",
		Method:        http.MethodPost,
		Path:          "/tickets",
		Summary:       "Ingest a reward ticket",
		Description:   "Webhook endpoint for the upstream reward feed. Re-delivery of a known id is a no-op.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body IngestTicketRequest `json:"body"`
	}) (*struct {
		Body domain.Ticket `json:"body"`
	}, error) {
		if !hasRole(ctx, "feed") {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "feed role required", nil)
		}
		t, err := e.IngestTicket(ctx, input.Body.ID, input.Body.Owner, input.Body.Source)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Ticket `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tickets",
		Method:      http.MethodGet,
		Path:        "/tickets",
		Summary:     "List my tickets",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,consumed,failed" required:"false"`
		Limit  int    `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.Ticket `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTickets(ctx, repo.TicketFilters{Owner: userID, Status: input.Status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Ticket `json:"body"`
		}{Body: items}, nil
	})
}

func registerWallets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "link-wallet",
		Method:        http.MethodPost,
		Path:          "/wallets",
		Summary:       "Link a wallet address",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body LinkWalletRequest `json:"body"`
	}) (*struct {
		Body domain.WalletLink `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		link, err := e.LinkWallet(ctx, userID, input.Body.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WalletLink `json:"body"`
		}{Body: link}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-wallets",
		Method:      http.MethodGet,
		Path:        "/wallets",
		Summary:     "List my wallet links",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.WalletLink `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListWalletLinks(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WalletLink `json:"body"`
		}{Body: items}, nil
	})
}

func registerMints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "prepare-mint",
		Method:        http.MethodPost,
		Path:          "/mints",
		Summary:       "Prepare a mint",
		Description:   "Leases the oldest free ticket, draws an identity and returns the unsigned mint transaction.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body PrepareMintRequest `json:"body"`
	}) (*struct {
		Body domain.MintIntent `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.PrepareMint(ctx, engine.MintPrepareOptions{
			IntentID: input.Body.IntentID,
			Owner:    userID,
			Wallet:   input.Body.Wallet,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MintIntent `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-mint",
		Method:      http.MethodPost,
		Path:        "/mints/{intent_id}/submit",
		Summary:     "Submit a signed mint",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		IntentID string        `path:"intent_id"`
		Body     SubmitRequest `json:"body"`
	}) (*struct {
		Body domain.MintIntent `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SubmitMint(ctx, input.IntentID, userID, input.Body.SignedTx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MintIntent `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-mint",
		Method:      http.MethodPost,
		Path:        "/mints/{intent_id}/cancel",
		Summary:     "Cancel a prepared mint",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		IntentID string `path:"intent_id"`
	}) (*struct {
		Body domain.MintIntent `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CancelMint(ctx, input.IntentID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MintIntent `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mint",
		Method:      http.MethodGet,
		Path:        "/mints/{intent_id}",
		Summary:     "Get a mint intent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IntentID string `path:"intent_id"`
	}) (*struct {
		Body domain.MintIntent `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		m, err := e.Repo.GetMintIntent(ctx, input.IntentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MintIntent `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-mints",
		Method:      http.MethodGet,
		Path:        "/mints",
		Summary:     "List my mint intents",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"prepared,done,failed" required:"false"`
		Limit  int    `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.MintIntent `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListMintIntents(ctx, repo.MintIntentFilters{Owner: userID, Status: input.Status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MintIntent `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "available-identities",
		Method:      http.MethodGet,
		Path:        "/mints/available",
		Summary:     "List identities currently drawable",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []string `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ids, err := e.AvailableIdentities(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: ids}, nil
	})
}

func registerOffers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-offer",
		Method:        http.MethodPost,
		Path:          "/offers",
		Summary:       "Create a trade offer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateOfferRequest `json:"body"`
	}) (*struct {
		Body domain.TradeOffer `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CreateOffer(ctx, engine.OfferCreateOptions{
			ID:          input.Body.ID,
			Maker:       userID,
			MakerWallet: input.Body.Wallet,
			MakerAsset:  input.Body.Asset,
			Wanted:      input.Body.Wanted,
			ExpiresAt:   input.Body.ExpiresAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TradeOffer `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-offer",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/open",
		Summary:     "Submit maker delegation and open the offer",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		OfferID string        `path:"offer_id"`
		Body    SubmitRequest `json:"body"`
	}) (*struct {
		Body domain.TradeOffer `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.SubmitOfferDelegation(ctx, input.OfferID, userID, input.Body.SignedTx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TradeOffer `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lock-offer",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/lock",
		Summary:     "Lock an open offer as taker",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		OfferID string           `path:"offer_id"`
		Body    LockOfferRequest `json:"body"`
	}) (*struct {
		Body domain.TradeOffer `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.LockOffer(ctx, engine.OfferLockOptions{
			OfferID:     input.OfferID,
			Taker:       userID,
			TakerWallet: input.Body.Wallet,
			TakerAsset:  input.Body.Asset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TradeOffer `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-offer",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/accept",
		Summary:     "Submit taker delegation and settle the swap",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		OfferID string        `path:"offer_id"`
		Body    SubmitRequest `json:"body"`
	}) (*struct {
		Body domain.TradeOffer `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.SubmitOfferAcceptance(ctx, input.OfferID, userID, input.Body.SignedTx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TradeOffer `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "abort-offer-lock",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/abort",
		Summary:     "Release my lock on an offer",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		OfferID string `path:"offer_id"`
	}) (*struct {
		Body domain.TradeOffer `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.AbortOfferLock(ctx, input.OfferID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TradeOffer `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-offer",
		Method:      http.MethodPost,
		Path:        "/offers/{offer_id}/cancel",
		Summary:     "Cancel my draft or open offer",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		OfferID string `path:"offer_id"`
	}) (*struct {
		Body domain.TradeOffer `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CancelOffer(ctx, input.OfferID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TradeOffer `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-offer",
		Method:      http.MethodGet,
		Path:        "/offers/{offer_id}",
		Summary:     "Get a trade offer",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OfferID string `path:"offer_id"`
	}) (*struct {
		Body domain.TradeOffer `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		o, err := e.Repo.GetOffer(ctx, input.OfferID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TradeOffer `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-offers",
		Method:      http.MethodGet,
		Path:        "/offers",
		Summary:     "List trade offers",
	}, func(ctx context.Context, input *struct {
		Party  string `query:"party" required:"false"`
		Status string `query:"status" enum:"draft,open,locked,done,cancelled,failed,expired" required:"false"`
		Limit  int    `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.TradeOffer `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListOffers(ctx, repo.EscrowFilters{Party: input.Party, Status: input.Status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TradeOffer `json:"body"`
		}{Body: items}, nil
	})
}

func registerListings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-listing",
		Method:        http.MethodPost,
		Path:          "/listings",
		Summary:       "Create a sale listing",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateListingRequest `json:"body"`
	}) (*struct {
		Body domain.SaleListing `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.CreateListing(ctx, engine.ListingCreateOptions{
			ID:           input.Body.ID,
			Seller:       userID,
			SellerWallet: input.Body.Wallet,
			Asset:        input.Body.Asset,
			Price:        input.Body.Price,
			ExpiresAt:    input.Body.ExpiresAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SaleListing `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-listing",
		Method:      http.MethodPost,
		Path:        "/listings/{listing_id}/open",
		Summary:     "Submit seller delegation and open the listing",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ListingID string        `path:"listing_id"`
		Body      SubmitRequest `json:"body"`
	}) (*struct {
		Body domain.SaleListing `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.SubmitListingDelegation(ctx, input.ListingID, userID, input.Body.SignedTx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SaleListing `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lock-listing",
		Method:      http.MethodPost,
		Path:        "/listings/{listing_id}/lock",
		Summary:     "Lock an open listing as buyer",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ListingID string             `path:"listing_id"`
		Body      LockListingRequest `json:"body"`
	}) (*struct {
		Body domain.SaleListing `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.LockListing(ctx, engine.ListingLockOptions{
			ListingID:   input.ListingID,
			Buyer:       userID,
			BuyerWallet: input.Body.Wallet,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SaleListing `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "buy-listing",
		Method:      http.MethodPost,
		Path:        "/listings/{listing_id}/buy",
		Summary:     "Submit buyer payment and settle the sale",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ListingID string        `path:"listing_id"`
		Body      SubmitRequest `json:"body"`
	}) (*struct {
		Body domain.SaleListing `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.SubmitListingPurchase(ctx, input.ListingID, userID, input.Body.SignedTx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SaleListing `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "abort-listing-lock",
		Method:      http.MethodPost,
		Path:        "/listings/{listing_id}/abort",
		Summary:     "Release my lock on a listing",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
	}) (*struct {
		Body domain.SaleListing `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.AbortListingLock(ctx, input.ListingID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SaleListing `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-listing",
		Method:      http.MethodPost,
		Path:        "/listings/{listing_id}/cancel",
		Summary:     "Cancel my draft or open listing",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
	}) (*struct {
		Body domain.SaleListing `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.CancelListing(ctx, input.ListingID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SaleListing `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-listing",
		Method:      http.MethodGet,
		Path:        "/listings/{listing_id}",
		Summary:     "Get a sale listing",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ListingID string `path:"listing_id"`
	}) (*struct {
		Body domain.SaleListing `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		l, err := e.Repo.GetListing(ctx, input.ListingID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SaleListing `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-listings",
		Method:      http.MethodGet,
		Path:        "/listings",
		Summary:     "List sale listings",
	}, func(ctx context.Context, input *struct {
		Party  string `query:"party" required:"false"`
		Status string `query:"status" enum:"draft,open,locked,done,cancelled,failed,expired" required:"false"`
		Limit  int    `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.SaleListing `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListListings(ctx, repo.EscrowFilters{Party: input.Party, Status: input.Status, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.SaleListing `json:"body"`
		}{Body: items}, nil
	})
}

func registerTransfers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "prepare-transfer",
		Method:        http.MethodPost,
		Path:          "/transfers",
		Summary:       "Prepare a direct transfer",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body PrepareTransferRequest `json:"body"`
	}) (*struct {
		Body domain.TransferIntent `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.PrepareTransfer(ctx, engine.TransferPrepareOptions{
			ID:        input.Body.ID,
			Owner:     userID,
			Wallet:    input.Body.Wallet,
			Asset:     input.Body.Asset,
			Recipient: input.Body.Recipient,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TransferIntent `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-transfer",
		Method:      http.MethodPost,
		Path:        "/transfers/{intent_id}/submit",
		Summary:     "Submit a signed transfer",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		IntentID string        `path:"intent_id"`
		Body     SubmitRequest `json:"body"`
	}) (*struct {
		Body domain.TransferIntent `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SubmitTransfer(ctx, input.IntentID, userID, input.Body.SignedTx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TransferIntent `json:"body"`
		}{Body: t}, nil
	})
}

func registerReport(api huma.API, b *report.Builder) {
	huma.Register(api, huma.Operation{
		OperationID: "report",
		Method:      http.MethodGet,
		Path:        "/report",
		Summary:     "Supply and leaderboard report",
		Description: "Served from a short-lived cache; values may lag writes by the cache TTL.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body report.Report `json:"body"`
	}, error) {
		rep, err := b.Get(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body report.Report `json:"body"`
		}{Body: rep}, nil
	})
}

func registerVerify(api huma.API, v verify.Verifier) {
	huma.Register(api, huma.Operation{
		OperationID: "verify-mint",
		Method:      http.MethodGet,
		Path:        "/mints/{intent_id}/verify",
		Summary:     "Replay a draw from stored provenance",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IntentID string `path:"intent_id"`
	}) (*struct {
		Body verify.Finding `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		f, err := v.Verify(ctx, input.IntentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body verify.Finding `json:"body"`
		}{Body: f}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type" required:"false"`
		EntityKind string `query:"entity_kind" required:"false"`
		EntityID   string `query:"entity_id" required:"false"`
		Limit      int    `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}
