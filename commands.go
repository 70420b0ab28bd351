package chatgateway

import (
	"fmt"

	"github.com/goliatone/go-chat-gateway/command"
)

// Commands bundles the gateway's go-command handlers for CLI and job
// runners.
type Commands struct {
	EnqueueNotification  *command.EnqueueNotificationCommand
	ProcessDeliveryBatch *command.ProcessDeliveryBatchCommand
	SweepClaims          *command.SweepClaimsCommand
	UpsertPreference     *command.UpsertPreferenceCommand
}

// Commands builds the command set from the assembled components. The
// delivery commands require a configured notification store.
func (g *Gateway) Commands() (Commands, error) {
	if g == nil {
		return Commands{}, fmt.Errorf("chatgateway: gateway is required")
	}
	if g.engine == nil {
		return Commands{}, fmt.Errorf("chatgateway: delivery engine is not configured")
	}
	bundle := Commands{
		EnqueueNotification:  command.NewEnqueueNotificationCommand(g.engine),
		ProcessDeliveryBatch: command.NewProcessDeliveryBatchCommand(g.engine),
		SweepClaims:          command.NewSweepClaimsCommand(g.sweeper),
	}
	if g.stores != nil {
		bundle.UpsertPreference = command.NewUpsertPreferenceCommand(g.stores.PreferenceStore())
	}
	return bundle, nil
}
