package sqlstore

import "github.com/goliatone/go-chat-gateway/core"

var (
	_ core.ClaimStore        = (*MessageClaimStore)(nil)
	_ core.NotificationStore = (*NotificationStore)(nil)
	_ core.PreferenceStore   = (*ContactPreferenceStore)(nil)
	_ core.PreferenceStore   = (*CachedContactPreferenceStore)(nil)
	_ core.CounterStore      = (*WindowCounterStore)(nil)
	_ core.AuditSink         = (*AuditEventStore)(nil)
	_ core.HealthChecker     = (*RepositoryFactory)(nil)
)
