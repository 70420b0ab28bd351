package admission

import (
	"net/http"

	"github.com/goliatone/go-chat-gateway/core"
	goerrors "github.com/goliatone/go-errors"
)

func admissionError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func admissionWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return admissionError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func payloadTooLarge(limit int64) error {
	return admissionError(
		"admission: payload too large",
		goerrors.CategoryBadInput,
		http.StatusRequestEntityTooLarge,
		core.GatewayErrorPayloadTooLarge,
		map[string]any{"max_body_bytes": limit},
	)
}

func signatureInvalid(reason string) error {
	return admissionError(
		"admission: signature verification failed",
		goerrors.CategoryAuth,
		http.StatusUnauthorized,
		core.GatewayErrorSignatureInvalid,
		map[string]any{"reason": reason},
	)
}

func badJSON(source error) error {
	return admissionWrapError(
		source,
		goerrors.CategoryBadInput,
		"admission: invalid json payload",
		http.StatusBadRequest,
		core.GatewayErrorBadJSON,
		nil,
	)
}

func verifyForbidden() error {
	return admissionError(
		"admission: verification token mismatch",
		goerrors.CategoryAuthz,
		http.StatusForbidden,
		core.GatewayErrorVerifyForbidden,
		nil,
	)
}
