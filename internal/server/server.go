// Package server exposes the schedule and payment engine over HTTP with an
// OpenAPI description. Error responses use a single envelope with stable
// machine-readable codes.
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
	"github.com/golang-jwt/jwt/v5"

	"tempora/internal/engine"
	"tempora/internal/ledger"
	"tempora/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Ledger   ledger.Ledger
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"schedule_not_found"`
	Message string         `json:"message" example:"schedule configuration not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Tempora API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Tempora API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAdmin(group, cfg.Engine)
	registerWhitelist(group, cfg.Engine)
	registerSchedules(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerPayments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerLedger(group, cfg.Ledger)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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
	switch {
	case errors.Is(err, engine.ErrScheduleNotFound):
		return newAPIError(http.StatusNotFound, "schedule_not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrUnauthorized):
		return newAPIError(http.StatusForbidden, "unauthorized", err.Error(), nil)
	case errors.Is(err, engine.ErrScheduleExists):
		return newAPIError(http.StatusConflict, "schedule_exists", err.Error(), nil)
	case errors.Is(err, engine.ErrTokenWhitelisted):
		return newAPIError(http.StatusConflict, "token_whitelisted", err.Error(), nil)
	case errors.Is(err, engine.ErrTransferFailed):
		return newAPIError(http.StatusBadGateway, "transfer_failed", err.Error(), nil)
	case errors.Is(err, engine.ErrCallerIsRecipient):
		return newAPIError(http.StatusBadRequest, "caller_is_recipient", err.Error(), nil)
	case errors.Is(err, engine.ErrZeroAmount):
		return newAPIError(http.StatusBadRequest, "zero_amount", err.Error(), nil)
	case errors.Is(err, engine.ErrAmountTooLarge):
		return newAPIError(http.StatusBadRequest, "amount_too_large", err.Error(), nil)
	case errors.Is(err, engine.ErrTokenNotWhitelisted):
		return newAPIError(http.StatusBadRequest, "token_not_whitelisted", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidSchedule):
		return newAPIError(http.StatusBadRequest, "invalid_schedule", err.Error(), nil)
	case errors.Is(err, engine.ErrInsufficientBalance):
		return newAPIError(http.StatusBadRequest, "insufficient_balance", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
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
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	openPaths := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):         true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/dev/login"), "/"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
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
    <title>Tempora API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-admin",
		Method:      http.MethodGet,
		Path:        "/admin",
		Summary:     "Current admin authority",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AdminResponse `json:"body"`
	}, error) {
		account, err := e.Admin(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdminResponse `json:"body"`
		}{Body: AdminResponse{Account: account}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-admin",
		Method:      http.MethodPut,
		Path:        "/admin",
		Summary:     "Hand over admin authority",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body SetAdminRequest `json:"body"`
	}) (*struct {
		Body AdminResponse `json:"body"`
	}, error) {
		callerID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Account == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "account is required", nil)
		}
		if err := e.SetAdmin(ctx, callerID, input.Body.Account); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdminResponse `json:"body"`
		}{Body: AdminResponse{Account: input.Body.Account}}, nil
	})
}

func registerWhitelist(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-whitelist",
		Method:      http.MethodGet,
		Path:        "/whitelist",
		Summary:     "List whitelisted tokens",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhitelistResponse `json:"body"`
	}, error) {
		tokens, err := e.WhitelistedTokens(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if tokens == nil {
			tokens = []string{}
		}
		return &struct {
			Body WhitelistResponse `json:"body"`
		}{Body: WhitelistResponse{Tokens: tokens}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-whitelist",
		Method:        http.MethodPost,
		Path:          "/whitelist",
		Summary:       "Whitelist a token",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body WhitelistAddRequest `json:"body"`
	}) (*struct {
		Body WhitelistResponse `json:"body"`
	}, error) {
		callerID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.TokenAddress == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "token_address is required", nil)
		}
		if err := e.AddToWhitelist(ctx, callerID, input.Body.TokenAddress); err != nil {
			return nil, handleError(err)
		}
		tokens, err := e.WhitelistedTokens(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhitelistResponse `json:"body"`
		}{Body: WhitelistResponse{Tokens: tokens}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-whitelist",
		Method:      http.MethodDelete,
		Path:        "/whitelist/{token_address}",
		Summary:     "Remove a token from the whitelist",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		TokenAddress string `path:"token_address"`
	}) (*struct {
		Body WhitelistResponse `json:"body"`
	}, error) {
		callerID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveFromWhitelist(ctx, callerID, input.TokenAddress); err != nil {
			return nil, handleError(err)
		}
		tokens, err := e.WhitelistedTokens(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if tokens == nil {
			tokens = []string{}
		}
		return &struct {
			Body WhitelistResponse `json:"body"`
		}{Body: WhitelistResponse{Tokens: tokens}}, nil
	})
}

func registerSchedules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-schedule",
		Method:        http.MethodPost,
		Path:          "/schedules",
		Summary:       "Create a schedule configuration",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateScheduleRequest `json:"body"`
	}) (*struct {
		Body ScheduleResponse `json:"body"`
	}, error) {
		callerID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if input.Body.Recipient == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "recipient is required", nil)
		}
		s, err := e.CreateSchedule(ctx, engine.ScheduleOptions{
			ID:             input.Body.ID,
			TaskID:         strVal(input.Body.TaskID),
			Recipient:      input.Body.Recipient,
			Amount:         input.Body.Amount,
			TokenAddress:   input.Body.TokenAddress,
			StartTime:      input.Body.StartTime,
			Interval:       input.Body.Interval,
			ExecutionTimes: input.Body.ExecutionTimes,
			CallerID:       callerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScheduleResponse `json:"body"`
		}{Body: scheduleResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-schedule",
		Method:      http.MethodGet,
		Path:        "/schedules/{schedule_id}",
		Summary:     "Get a schedule with executions",
		Errors: []int{
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ScheduleID string `path:"schedule_id"`
	}) (*struct {
		Body UserScheduleResponse `json:"body"`
	}, error) {
		callerID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := e.GetSchedule(ctx, callerID, input.ScheduleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserScheduleResponse `json:"body"`
		}{Body: userScheduleResponse(data)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-schedule",
		Method:      http.MethodPut,
		Path:        "/schedules/{schedule_id}",
		Summary:     "Replace a schedule configuration",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ScheduleID string                `path:"schedule_id"`
		Body       UpdateScheduleRequest `json:"body"`
	}) (*struct {
		Body ScheduleResponse `json:"body"`
	}, error) {
		callerID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		s, err := e.UpdateSchedule(ctx, engine.ScheduleOptions{
			ID:             input.ScheduleID,
			TaskID:         strVal(input.Body.TaskID),
			Recipient:      input.Body.Recipient,
			Amount:         input.Body.Amount,
			TokenAddress:   input.Body.TokenAddress,
			StartTime:      input.Body.StartTime,
			Interval:       input.Body.Interval,
			ExecutionTimes: input.Body.ExecutionTimes,
			CallerID:       callerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScheduleResponse `json:"body"`
		}{Body: scheduleResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cancel-schedule",
		Method:        http.MethodDelete,
		Path:          "/schedules/{schedule_id}",
		Summary:       "Cancel a schedule",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ScheduleID string `path:"schedule_id"`
	}) (*struct{}, error) {
		callerID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CancelSchedule(ctx, callerID, input.ScheduleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "my-schedules",
		Method:      http.MethodGet,
		Path:        "/me/schedules",
		Summary:     "List caller's schedules with executions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []UserScheduleResponse `json:"items"`
		} `json:"body"`
	}, error) {
		callerID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		data, err := e.UserSchedules(ctx, callerID)
		if err != nil {
			return nil, handleError(err)
		}
		out := struct {
			Items []UserScheduleResponse `json:"items"`
		}{Items: []UserScheduleResponse{}}
		for _, d := range data {
			out.Items = append(out.Items, userScheduleResponse(d))
		}
		return &struct {
			Body struct {
				Items []UserScheduleResponse `json:"items"`
			} `json:"body"`
		}{Body: out}, nil
	})
}

func registerPayments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "trigger-payment",
		Method:      http.MethodPost,
		Path:        "/payments/trigger",
		Summary:     "Trigger a payment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body TriggerPaymentRequest `json:"body"`
	}) (*struct {
		Body TriggerPaymentResponse `json:"body"`
	}, error) {
		callerID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ScheduleID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "schedule_id is required", nil)
		}
		if input.Body.Recipient == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "recipient is required", nil)
		}
		executedAt, err := e.TriggerPayment(ctx, engine.TriggerOptions{
			Recipient:    input.Body.Recipient,
			Amount:       input.Body.Amount,
			TokenAddress: input.Body.TokenAddress,
			ScheduleID:   input.Body.ScheduleID,
			Attached:     input.Body.Attached,
			CallerID:     callerID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TriggerPaymentResponse `json:"body"`
		}{Body: TriggerPaymentResponse{ScheduleID: input.Body.ScheduleID, ExecutedAt: executedAt}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type"`
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := accountIDFromContext(ctx); authErr != nil {
			return nil, authErr
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
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.Type, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerLedger(api huma.API, l ledger.Ledger) {
	huma.Register(api, huma.Operation{
		OperationID: "my-balance",
		Method:      http.MethodGet,
		Path:        "/ledger/balance",
		Summary:     "Caller's native and token balances",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BalanceResponse `json:"body"`
	}, error) {
		callerID, authErr := accountIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		balance, err := l.Balance(ctx, callerID)
		if err != nil {
			return nil, handleError(err)
		}
		tokens, err := l.TokenBalances(ctx, callerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BalanceResponse `json:"body"`
		}{Body: BalanceResponse{Account: callerID, Balance: balance, Tokens: tokens}}, nil
	})
}

type DevLoginRequest struct {
	AccountID string `json:"account_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		account := strings.TrimSpace(input.Body.AccountID)
		if account == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "account_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, account)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func signDevToken(secret, accountID string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
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
