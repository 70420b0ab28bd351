package core

import (
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestGatewayErrorMapperPassesThroughEnvelope(t *testing.T) {
	source := goerrors.New("admission: signature verification failed", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(GatewayErrorSignatureInvalid)

	mapped := GatewayErrorMapper(source)
	if mapped.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", mapped.Code)
	}
	if mapped.TextCode != GatewayErrorSignatureInvalid {
		t.Fatalf("text code = %q", mapped.TextCode)
	}
}

func TestGatewayErrorMapperFillsMissingEnvelopeFields(t *testing.T) {
	source := goerrors.New("something went wrong", goerrors.CategoryRateLimit)

	mapped := GatewayErrorMapper(source)
	if mapped.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d, want 429", mapped.Code)
	}
	if mapped.TextCode != GatewayErrorRateLimited {
		t.Fatalf("text code = %q", mapped.TextCode)
	}
}

func TestGatewayErrorMapperClassifiesRawErrors(t *testing.T) {
	cases := []struct {
		message  string
		code     int
		textCode string
	}{
		{"request payload too large", http.StatusRequestEntityTooLarge, GatewayErrorPayloadTooLarge},
		{"signature digest mismatch", http.StatusUnauthorized, GatewayErrorSignatureInvalid},
		{"rate limit exhausted", http.StatusTooManyRequests, GatewayErrorRateLimited},
		{"invalid json payload", http.StatusBadRequest, GatewayErrorBadJSON},
		{"handler timed out", http.StatusGatewayTimeout, GatewayErrorHandlerTimeout},
		{"recipient is required", http.StatusBadRequest, GatewayErrorBadInput},
	}
	for _, tc := range cases {
		mapped := GatewayErrorMapper(errors.New(tc.message))
		if mapped.Code != tc.code || mapped.TextCode != tc.textCode {
			t.Fatalf("map(%q) = %d %q, want %d %q", tc.message, mapped.Code, mapped.TextCode, tc.code, tc.textCode)
		}
	}
}

func TestGatewayErrorMapperNil(t *testing.T) {
	if mapped := GatewayErrorMapper(nil); mapped != nil {
		t.Fatalf("mapped = %v, want nil", mapped)
	}
}
