// Package command exposes the gateway's mutating operations as validated
// go-command messages for CLI and job runners.
package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-chat-gateway/core"
)

const (
	TypeEnqueueNotification  = "gateway.command.notify.enqueue"
	TypeProcessDeliveryBatch = "gateway.command.notify.process_batch"
	TypeSweepClaims          = "gateway.command.claims.sweep"
	TypeUpsertPreference     = "gateway.command.preference.upsert"
)

type EnqueueNotificationMessage struct {
	RecipientID string
	Channel     core.NotificationChannel
	Payload     json.RawMessage
	Metadata    map[string]any
}

func (EnqueueNotificationMessage) Type() string { return TypeEnqueueNotification }

func (m EnqueueNotificationMessage) Validate() error {
	if strings.TrimSpace(m.RecipientID) == "" {
		return fmt.Errorf("command: recipient id is required")
	}
	if _, err := core.ParseNotificationChannel(string(m.Channel)); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("command: notification payload is required")
	}
	if !json.Valid(m.Payload) {
		return fmt.Errorf("command: notification payload must be valid json")
	}
	return nil
}

type ProcessDeliveryBatchMessage struct {
	Limit int
}

func (ProcessDeliveryBatchMessage) Type() string { return TypeProcessDeliveryBatch }

func (m ProcessDeliveryBatchMessage) Validate() error {
	if m.Limit < 0 {
		return fmt.Errorf("command: batch limit must not be negative")
	}
	return nil
}

type SweepClaimsMessage struct{}

func (SweepClaimsMessage) Type() string { return TypeSweepClaims }

func (SweepClaimsMessage) Validate() error { return nil }

type UpsertPreferenceMessage struct {
	Preference core.ContactPreference
}

func (UpsertPreferenceMessage) Type() string { return TypeUpsertPreference }

func (m UpsertPreferenceMessage) Validate() error {
	if strings.TrimSpace(m.Preference.ContactID) == "" {
		return fmt.Errorf("command: contact id is required")
	}
	if strings.TrimSpace(m.Preference.QuietHoursStart) != "" || strings.TrimSpace(m.Preference.QuietHoursEnd) != "" {
		if _, _, err := m.Preference.QuietWindow(); err != nil {
			return fmt.Errorf("command: %w", err)
		}
	}
	return nil
}
