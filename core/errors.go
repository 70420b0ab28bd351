package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	GatewayErrorBadInput         = "GATEWAY_BAD_INPUT"
	GatewayErrorBadJSON          = "GATEWAY_BAD_JSON"
	GatewayErrorPayloadTooLarge  = "GATEWAY_PAYLOAD_TOO_LARGE"
	GatewayErrorRateLimited      = "GATEWAY_RATE_LIMITED"
	GatewayErrorSignatureInvalid = "GATEWAY_SIGNATURE_INVALID"
	GatewayErrorVerifyForbidden  = "GATEWAY_VERIFY_FORBIDDEN"
	GatewayErrorHandlerTimeout   = "GATEWAY_HANDLER_TIMEOUT"
	GatewayErrorHandlerFailed    = "GATEWAY_HANDLER_FAILED"
	GatewayErrorDeliveryFailed   = "GATEWAY_DELIVERY_FAILED"
	GatewayErrorInternal         = "GATEWAY_INTERNAL_ERROR"
)

// GatewayErrorMapper normalizes raw errors into the gateway's goerrors
// envelope: category, GATEWAY_* text code, and HTTP status code. Admission
// surfaces rely on the status code to pick the response the provider's retry
// policy keys off.
func GatewayErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureGatewayErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "payload too large"), strings.Contains(msg, "body exceeds"):
		return NewGatewayError(err.Error(), goerrors.CategoryBadInput, GatewayErrorPayloadTooLarge).WithCode(http.StatusRequestEntityTooLarge)
	case strings.Contains(msg, "signature"):
		return NewGatewayError(err.Error(), goerrors.CategoryAuth, GatewayErrorSignatureInvalid)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return NewGatewayError(err.Error(), goerrors.CategoryRateLimit, GatewayErrorRateLimited)
	case strings.Contains(msg, "invalid json"), strings.Contains(msg, "unexpected end of json"):
		return NewGatewayError(err.Error(), goerrors.CategoryBadInput, GatewayErrorBadJSON)
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "deadline exceeded"):
		return NewGatewayError(err.Error(), goerrors.CategoryOperation, GatewayErrorHandlerTimeout).WithCode(http.StatusGatewayTimeout)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return NewGatewayError(err.Error(), goerrors.CategoryBadInput, GatewayErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureGatewayErrorEnvelope(mapped)
}

func NewGatewayError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureGatewayErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureGatewayErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = gatewayHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultGatewayTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultGatewayTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return GatewayErrorBadInput
	case goerrors.CategoryAuth:
		return GatewayErrorSignatureInvalid
	case goerrors.CategoryAuthz:
		return GatewayErrorVerifyForbidden
	case goerrors.CategoryRateLimit:
		return GatewayErrorRateLimited
	case goerrors.CategoryOperation:
		return GatewayErrorHandlerFailed
	default:
		return GatewayErrorInternal
	}
}

func gatewayHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
