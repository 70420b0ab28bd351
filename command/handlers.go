package command

import (
	"context"
	"encoding/json"

	"github.com/goliatone/go-chat-gateway/core"
	"github.com/goliatone/go-chat-gateway/delivery"
	gocmd "github.com/goliatone/go-command"
)

// NotifyService is the slice of the delivery engine the commands drive.
type NotifyService interface {
	Enqueue(ctx context.Context, recipientID string, channel core.NotificationChannel, payload json.RawMessage, metadata map[string]any) (*core.QueuedNotification, error)
	ProcessBatch(ctx context.Context, limit int) (delivery.BatchStats, error)
}

// PreferenceWriter persists contact delivery policy.
type PreferenceWriter interface {
	Upsert(ctx context.Context, pref core.ContactPreference) error
}

type EnqueueNotificationCommand struct {
	service NotifyService
}

func NewEnqueueNotificationCommand(service NotifyService) *EnqueueNotificationCommand {
	return &EnqueueNotificationCommand{service: service}
}

func (c *EnqueueNotificationCommand) Execute(ctx context.Context, msg EnqueueNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notify service is required")
	}
	out, err := c.service.Enqueue(ctx, msg.RecipientID, msg.Channel, msg.Payload, msg.Metadata)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ProcessDeliveryBatchCommand struct {
	service NotifyService
}

func NewProcessDeliveryBatchCommand(service NotifyService) *ProcessDeliveryBatchCommand {
	return &ProcessDeliveryBatchCommand{service: service}
}

func (c *ProcessDeliveryBatchCommand) Execute(ctx context.Context, msg ProcessDeliveryBatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notify service is required")
	}
	out, err := c.service.ProcessBatch(ctx, msg.Limit)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SweepClaimsCommand struct {
	sweeper core.Sweeper
}

func NewSweepClaimsCommand(sweeper core.Sweeper) *SweepClaimsCommand {
	return &SweepClaimsCommand{sweeper: sweeper}
}

func (c *SweepClaimsCommand) Execute(ctx context.Context, _ SweepClaimsMessage) error {
	if c == nil || c.sweeper == nil {
		return commandDependencyError("command: claim sweeper is required")
	}
	return c.sweeper.Sweep(ctx)
}

type UpsertPreferenceCommand struct {
	store PreferenceWriter
}

func NewUpsertPreferenceCommand(store PreferenceWriter) *UpsertPreferenceCommand {
	return &UpsertPreferenceCommand{store: store}
}

func (c *UpsertPreferenceCommand) Execute(ctx context.Context, msg UpsertPreferenceMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: preference store is required")
	}
	return c.store.Upsert(ctx, msg.Preference)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
