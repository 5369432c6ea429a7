// Package errors maps livewatch failures onto gofulmen error envelopes and
// renders them as the JSON error body shared by every HTTP route.
package errors

import (
	"context"
	"encoding/json"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/livewatch/livewatch/internal/metrics"
	"github.com/livewatch/livewatch/internal/observability"
	"github.com/livewatch/livewatch/internal/server/middleware"
)

const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeValidation       = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeConflict         = "CONFLICT"
	CodeInternal         = "INTERNAL_ERROR"
	CodeDatabase         = "DATABASE_ERROR"
	CodeExternalService  = "EXTERNAL_SERVICE_ERROR"
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"
)

type codeInfo struct {
	status   int
	severity gferrors.Severity
}

// Unknown codes resolve to 500 with high severity.
var codeTable = map[string]codeInfo{
	CodeInvalidInput:     {http.StatusBadRequest, gferrors.SeverityLow},
	CodeValidation:       {http.StatusBadRequest, gferrors.SeverityLow},
	CodeNotFound:         {http.StatusNotFound, gferrors.SeverityInfo},
	CodeMethodNotAllowed: {http.StatusMethodNotAllowed, gferrors.SeverityInfo},
	CodeConflict:         {http.StatusConflict, gferrors.SeverityLow},
	CodeInternal:         {http.StatusInternalServerError, gferrors.SeverityHigh},
	CodeDatabase:         {http.StatusInternalServerError, gferrors.SeverityHigh},
	CodeExternalService:  {http.StatusBadGateway, gferrors.SeverityMedium},
	CodeConfigInvalid:    {http.StatusInternalServerError, gferrors.SeverityCritical},
	CodeUnavailable:      {http.StatusServiceUnavailable, gferrors.SeverityMedium},
}

func lookup(code string) codeInfo {
	if info, ok := codeTable[code]; ok {
		return info
	}
	return codeInfo{http.StatusInternalServerError, gferrors.SeverityHigh}
}

// New builds an envelope carrying the default severity for code.
func New(code, message string) *gferrors.ErrorEnvelope {
	return gferrors.SafeWithSeverity(gferrors.NewErrorEnvelope(code, message), lookup(code).severity)
}

func NewInvalidInputError(message string) *gferrors.ErrorEnvelope { return New(CodeInvalidInput, message) }
func NewValidationError(message string) *gferrors.ErrorEnvelope { return New(CodeValidation, message) }
func NewNotFoundError(message string) *gferrors.ErrorEnvelope { return New(CodeNotFound, message) }
func NewConflictError(message string) *gferrors.ErrorEnvelope { return New(CodeConflict, message) }
func NewInternalError(message string) *gferrors.ErrorEnvelope { return New(CodeInternal, message) }
func NewUnavailableError(message string) *gferrors.ErrorEnvelope { return New(CodeUnavailable, message) }

func NewMethodNotAllowedError(message string) *gferrors.ErrorEnvelope {
	return New(CodeMethodNotAllowed, message)
}

func NewExternalServiceError(message string) *gferrors.ErrorEnvelope {
	return New(CodeExternalService, message)
}

func NewConfigInvalidError(message string) *gferrors.ErrorEnvelope {
	return New(CodeConfigInvalid, message)
}

func WrapInvalidInput(ctx context.Context, err error, message string) *gferrors.ErrorEnvelope {
	return Wrap(ctx, CodeInvalidInput, err, message)
}

func WrapInternal(ctx context.Context, err error, message string) *gferrors.ErrorEnvelope {
	return Wrap(ctx, CodeInternal, err, message)
}

func WrapDatabaseError(ctx context.Context, err error, message string) *gferrors.ErrorEnvelope {
	return Wrap(ctx, CodeDatabase, err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *gferrors.ErrorEnvelope {
	return Wrap(ctx, CodeConfigInvalid, err, message)
}

// Wrap attaches err and the request id found in ctx to a new envelope. The
// request id doubles as trace id until tracing exists.
func Wrap(ctx context.Context, code string, err error, message string) *gferrors.ErrorEnvelope {
	id := correlationID(ctx)
	env := New(code, message).WithCorrelationID(id).WithTraceID(id)
	if err == nil {
		return env
	}
	env = env.WithOriginal(err)
	return gferrors.SafeWithContext(env, map[string]interface{}{"wrapped_error": err.Error()})
}

func correlationID(ctx context.Context) string {
	if ctx != nil {
		if id := middleware.GetRequestID(ctx); id != "" {
			return id
		}
	}
	return gferrors.GenerateCorrelationID()
}

// EnsureEnvelope returns err unchanged when it already is an envelope and
// otherwise reports it as an internal error.
func EnsureEnvelope(err error) *gferrors.ErrorEnvelope {
	if err == nil {
		return gferrors.SafeWithSeverity(New(CodeInternal, "unexpected nil error"), gferrors.SeverityCritical)
	}
	if env, ok := err.(*gferrors.ErrorEnvelope); ok && env != nil {
		return env
	}
	return gferrors.SafeWithContext(New(CodeInternal, "unexpected error"), map[string]interface{}{
		"wrapped_error": err.Error(),
	})
}

// EnsureCorrelationID fills in a missing correlation id from ctx.
func EnsureCorrelationID(env *gferrors.ErrorEnvelope, ctx context.Context) *gferrors.ErrorEnvelope {
	if env == nil || env.CorrelationID != "" {
		return env
	}
	return env.WithCorrelationID(correlationID(ctx))
}

func HTTPStatusFromEnvelope(env *gferrors.ErrorEnvelope) int {
	if env == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatusFromCode(env.Code)
}

func HTTPStatusFromCode(code string) int {
	return lookup(code).status
}

// ResponseDetails merges envelope details with its context. Details win on
// key collisions.
func ResponseDetails(env *gferrors.ErrorEnvelope) map[string]interface{} {
	if env == nil || len(env.Details)+len(env.Context) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(env.Details)+len(env.Context))
	for k, v := range env.Context {
		merged[k] = v
	}
	for k, v := range env.Details {
		merged[k] = v
	}
	return merged
}

// HTTPErrorDetail is the body of every error response.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope logs env, counts it and writes it as JSON.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, env *gferrors.ErrorEnvelope) {
	if w == nil {
		return
	}
	if env == nil {
		env = EnsureEnvelope(nil)
	}

	var ctx context.Context
	endpoint := ""
	if r != nil {
		ctx = r.Context()
		endpoint = middleware.EndpointPattern(r)
	}
	env = EnsureCorrelationID(env, ctx)
	status := HTTPStatusFromEnvelope(env)

	logEnvelope(env, status, endpoint)
	metrics.RecordError(env.Code, status, endpoint)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: HTTPErrorDetail{
		Code:      env.Code,
		Message:   env.Message,
		Details:   ResponseDetails(env),
		RequestID: env.CorrelationID,
	}})
}

func logEnvelope(env *gferrors.ErrorEnvelope, status int, endpoint string) {
	log := observability.ServerLogger
	if log == nil {
		return
	}

	fields := make([]zap.Field, 0, len(env.Context)+5)
	fields = append(fields,
		zap.String("error_code", env.Code),
		zap.Int("http_status", status),
		zap.String("request_id", env.CorrelationID),
	)
	if endpoint != "" {
		fields = append(fields, zap.String("endpoint", endpoint))
	}
	if env.Severity != "" {
		fields = append(fields, zap.String("severity", string(env.Severity)))
	}
	for k, v := range env.Context {
		fields = append(fields, zap.Any(k, v))
	}

	switch env.Severity {
	case gferrors.SeverityHigh, gferrors.SeverityCritical:
		log.Error(env.Message, fields...)
	case gferrors.SeverityMedium:
		log.Warn(env.Message, fields...)
	default:
		log.Info(env.Message, fields...)
	}
}
