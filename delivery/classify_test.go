package delivery

import (
	"errors"
	"fmt"
	"testing"

	"github.com/goliatone/go-chat-gateway/core"
)

func TestClassifyProviderCodes(t *testing.T) {
	cases := []struct {
		code   int
		class  core.DeliveryClass
		reason string
	}{
		{100, core.DeliveryClassFail, "invalid payload"},
		{368, core.DeliveryClassFail, "policy violation"},
		{131031, core.DeliveryClassFail, "banned account"},
		{131047, core.DeliveryClassFail, "expired session"},
		{130429, core.DeliveryClassDefer, "provider rate limit"},
		{131048, core.DeliveryClassDefer, "provider rate limit"},
		{131056, core.DeliveryClassDefer, "provider rate limit"},
		{500, core.DeliveryClassRetry, "transient"},
		{0, core.DeliveryClassRetry, "transient"},
	}
	for _, tc := range cases {
		err := &core.ProviderError{Code: tc.code, Title: "test"}
		class, reason := Classify(err)
		if class != tc.class || reason != tc.reason {
			t.Fatalf("Classify(code=%d) = (%s, %q), want (%s, %q)", tc.code, class, reason, tc.class, tc.reason)
		}
	}
}

func TestClassifyWrappedProviderError(t *testing.T) {
	err := fmt.Errorf("send failed: %w", &core.ProviderError{Code: 131031})
	class, reason := Classify(err)
	if class != core.DeliveryClassFail || reason != "banned account" {
		t.Fatalf("wrapped classify = (%s, %q)", class, reason)
	}
}

func TestClassifyPlainErrorRetries(t *testing.T) {
	class, reason := Classify(errors.New("connection reset"))
	if class != core.DeliveryClassRetry || reason != "transient" {
		t.Fatalf("plain error classify = (%s, %q)", class, reason)
	}
}
