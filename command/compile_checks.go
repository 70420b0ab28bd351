package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[EnqueueNotificationMessage]  = (*EnqueueNotificationCommand)(nil)
	_ gocmd.Commander[ProcessDeliveryBatchMessage] = (*ProcessDeliveryBatchCommand)(nil)
	_ gocmd.Commander[SweepClaimsMessage]          = (*SweepClaimsCommand)(nil)
	_ gocmd.Commander[UpsertPreferenceMessage]     = (*UpsertPreferenceCommand)(nil)
)
