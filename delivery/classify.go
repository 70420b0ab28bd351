package delivery

import (
	"github.com/goliatone/go-chat-gateway/core"
	goerrors "github.com/goliatone/go-errors"
)

// Provider error codes with a known classification. Everything else is
// treated as transient and retried.
const (
	codeInvalidParameter = 100
	codePolicyViolation  = 368
	codeAccountBanned    = 131031
	codeSessionExpired   = 131047
	codeRateLimitHit     = 130429
	codeSpamRateLimit    = 131048
	codePairRateLimit    = 131056
)

// Classify buckets a provider send failure into retry, fail, or defer and
// names the reason recorded in the audit trail.
func Classify(err error) (core.DeliveryClass, string) {
	if err == nil {
		return core.DeliveryClassRetry, "unknown"
	}
	var providerErr *core.ProviderError
	if !goerrors.As(err, &providerErr) {
		return core.DeliveryClassRetry, "transient"
	}
	switch providerErr.Code {
	case codeInvalidParameter:
		return core.DeliveryClassFail, "invalid payload"
	case codePolicyViolation:
		return core.DeliveryClassFail, "policy violation"
	case codeAccountBanned:
		return core.DeliveryClassFail, "banned account"
	case codeSessionExpired:
		return core.DeliveryClassFail, "expired session"
	case codeRateLimitHit, codeSpamRateLimit, codePairRateLimit:
		return core.DeliveryClassDefer, "provider rate limit"
	default:
		return core.DeliveryClassRetry, "transient"
	}
}
