package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	domainErrors "github.com/cassiomorais/pos-payments/internal/domain/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var validate = newValidator()

// newValidator reports fields by their JSON names so a client sees
// "order_id" rather than the Go field name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// clientMessages replaces the error text for conditions a client should
// simply retry.
var clientMessages = map[error]string{
	domainErrors.ErrConcurrentModification: "concurrent modification, please retry",
}

// errorMappings is checked in order; the first sentinel that matches wins.
var errorMappings = []errorMapping{
	{domainErrors.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrRefundNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrGatewayNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{domainErrors.ErrConcurrentModification, http.StatusConflict, "conflict"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrLockAcquisitionFailed, http.StatusConflict, "request_in_progress"},
	{domainErrors.ErrInsufficientRefundable, http.StatusUnprocessableEntity, "insufficient_refundable"},
	{domainErrors.ErrUnsupportedMethod, http.StatusUnprocessableEntity, "unsupported_method"},
	{domainErrors.ErrNoGatewayAvailable, http.StatusUnprocessableEntity, "no_gateway_available"},
	{domainErrors.ErrNotSupported, http.StatusUnprocessableEntity, "not_supported"},
	{domainErrors.ErrInvalidConfiguration, http.StatusUnprocessableEntity, "invalid_configuration"},
	{domainErrors.ErrGatewayDeclined, http.StatusUnprocessableEntity, "declined"},
	{domainErrors.ErrGatewayPermanent, http.StatusUnprocessableEntity, "gateway_error"},
	{domainErrors.ErrGatewayTransient, http.StatusServiceUnavailable, "gateway_unavailable"},
	{domainErrors.ErrCircuitOpen, http.StatusServiceUnavailable, "gateway_unavailable"},
	{domainErrors.ErrGatewayRateLimited, http.StatusServiceUnavailable, "gateway_rate_limited"},
	{domainErrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	var domainErr *domainErrors.DomainError
	if errors.Is(err, domainErrors.ErrInternal) {
		log.Error().Err(err).Msg("internal error in handler")
		resp.Code, resp.Error = "internal_error", "internal server error"
		if errors.As(err, &domainErr) {
			resp.Code, resp.Error = domainErr.Code, domainErr.Message
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			if msg, ok := clientMessages[m.err]; ok {
				resp.Error = msg
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	err := validate.Struct(dst)
	var ve validator.ValidationErrors
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ve) && len(ve) > 0:
		return domainErrors.NewValidationError(ve[0].Field(), ruleMessage(ve[0]))
	default:
		return domainErrors.NewValidationError("body", err.Error())
	}
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "uuid":
		return "must be a UUID"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// uuidParam parses a UUID path parameter, writing a 400 when it is malformed.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid " + name, Code: "invalid_id"})
		return uuid.Nil, false
	}
	return id, true
}
