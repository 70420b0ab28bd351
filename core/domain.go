package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidNotificationStatusTransition = errors.New("core: invalid notification status transition")
	ErrInvalidNotificationChannel          = errors.New("core: invalid notification channel")
	ErrInvalidRoutingMode                  = errors.New("core: invalid routing mode")
	ErrInvalidQuietHours                   = errors.New("core: invalid quiet hours window")
	ErrNotificationNotFound                = errors.New("core: notification not found")
	ErrClaimNotFound                       = errors.New("core: claim not found")
)

// ClaimRecord marks an inbound message id as being or already processed.
// At most one live claim exists per message id; the uniqueness constraint in
// the backing store is the arbiter, never an in-process check.
type ClaimRecord struct {
	MessageID string
	ClaimedAt time.Time
}

type NotificationStatus string

const (
	NotificationStatusQueued  NotificationStatus = "queued"
	NotificationStatusSending NotificationStatus = "sending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

type NotificationChannel string

const (
	NotificationChannelTemplate NotificationChannel = "template"
	NotificationChannelFreeform NotificationChannel = "freeform"
	NotificationChannelFlow     NotificationChannel = "flow"
)

func ParseNotificationChannel(value string) (NotificationChannel, error) {
	switch NotificationChannel(strings.TrimSpace(strings.ToLower(value))) {
	case NotificationChannelTemplate:
		return NotificationChannelTemplate, nil
	case NotificationChannelFreeform:
		return NotificationChannelFreeform, nil
	case NotificationChannelFlow:
		return NotificationChannelFlow, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidNotificationChannel, value)
	}
}

// QueuedNotification is an outbound message owned by the delivery engine once
// inserted. Terminal states: sent, failed. A queued row may carry a future
// NextAttemptAt for quiet-hours deferral or retry backoff; nil counts as
// ready. Sending is a short-lived claim state used while a batch worker holds
// the row.
type QueuedNotification struct {
	ID            string
	RecipientID   string
	Channel       NotificationChannel
	Payload       json.RawMessage
	Status        NotificationStatus
	RetryCount    int
	NextAttemptAt *time.Time
	ErrorMessage  string
	SentAt        *time.Time
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (n *QueuedNotification) TransitionTo(status NotificationStatus, now time.Time) error {
	if n == nil {
		return nil
	}
	if n.Status == status {
		n.UpdatedAt = now
		return nil
	}
	if !notificationTransitionAllowed(n.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidNotificationStatusTransition, n.Status, status)
	}
	n.Status = status
	n.UpdatedAt = now
	if status == NotificationStatusSent {
		sentAt := now
		n.SentAt = &sentAt
		n.NextAttemptAt = nil
		n.ErrorMessage = ""
	}
	if status == NotificationStatusFailed {
		n.NextAttemptAt = nil
	}
	return nil
}

func notificationTransitionAllowed(from, to NotificationStatus) bool {
	switch from {
	case NotificationStatusQueued:
		return to == NotificationStatusSending || to == NotificationStatusSent || to == NotificationStatusFailed
	case NotificationStatusSending:
		return to == NotificationStatusQueued || to == NotificationStatusSent || to == NotificationStatusFailed
	default:
		return false
	}
}

// OverrideQuietHours reports whether the notification's metadata asks to skip
// the quiet-hours deferral for this row.
func (n *QueuedNotification) OverrideQuietHours() bool {
	if n == nil || len(n.Metadata) == 0 {
		return false
	}
	switch v := n.Metadata["override_quiet_hours"].(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && parsed
	default:
		return false
	}
}

// ContactPreference holds the opt-out flag and quiet-hours window for one
// contact. Rows are created lazily with defaults on the first delivery
// attempt and are read-only from the delivery engine's perspective.
type ContactPreference struct {
	ContactID       string
	OptedOut        bool
	QuietHoursStart string
	QuietHoursEnd   string
	Timezone        string
	UpdatedAt       time.Time
}

// QuietWindow parses the preference's quiet-hours strings ("HH:MM") into
// minutes-since-midnight bounds. A start greater than the end means the
// window wraps midnight.
func (p ContactPreference) QuietWindow() (start, end int, err error) {
	start, err = parseClockMinutes(p.QuietHoursStart)
	if err != nil {
		return 0, 0, err
	}
	end, err = parseClockMinutes(p.QuietHoursEnd)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// Location resolves the contact's timezone, falling back to UTC when unset or
// unknown.
func (p ContactPreference) Location() *time.Location {
	name := strings.TrimSpace(p.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseClockMinutes(value string) (int, error) {
	value = strings.TrimSpace(value)
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuietHours, value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuietHours, value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuietHours, value)
	}
	return hour*60 + minute, nil
}

// InboundMessage is one normalized message extracted from a provider webhook
// delivery. Raw carries the provider-shaped message object untouched so
// handlers and routing targets can read type-specific payloads.
type InboundMessage struct {
	ID        string
	From      string
	Type      string
	Text      string
	Timestamp time.Time
	Raw       json.RawMessage
}

// MessageBatch is the admission pipeline's output for one delivery request:
// the deduplicated normalized messages, the sender locale index, and the
// original envelope for routing passthrough.
type MessageBatch struct {
	CorrelationID string
	RecipientID   string
	Messages      []InboundMessage
	Locales       map[string]string
	Envelope      json.RawMessage
	Counts        AdmissionCounts
}

// AdmissionCounts records per-stage outcomes for one delivery request.
type AdmissionCounts struct {
	ChangesTotal    int
	ChangesFiltered int
	MessagesTotal   int
	MessagesIgnored int
	Duplicates      int
	Accepted        int
}

// MessageContext is the per-message execution context handed to the business
// handler: resolved sender identity, detected locale, and prior conversation
// state from the external state collaborator.
type MessageContext struct {
	ContactID string
	Locale    string
	State     ConversationState
}

// ConversationState is the prior-state snapshot for a sender. Category, when
// it names a known route, takes precedence over keyword scoring.
type ConversationState struct {
	Category string
	Data     map[string]any
}

type RoutingMode string

const (
	RoutingModeDisabled RoutingMode = "disabled"
	RoutingModeShadow   RoutingMode = "shadow"
	RoutingModeActive   RoutingMode = "active"
)

func ParseRoutingMode(value string) (RoutingMode, error) {
	switch RoutingMode(strings.TrimSpace(strings.ToLower(value))) {
	case RoutingModeDisabled, RoutingMode(""):
		return RoutingModeDisabled, nil
	case RoutingModeShadow:
		return RoutingModeShadow, nil
	case RoutingModeActive:
		return RoutingModeActive, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRoutingMode, value)
	}
}

type RouteReason string

const (
	RouteReasonState    RouteReason = "state"
	RouteReasonKeyword  RouteReason = "keyword"
	RouteReasonFallback RouteReason = "fallback"
)

// RoutingDecision names the service a message should be forwarded to and why.
type RoutingDecision struct {
	Service string
	Reason  RouteReason
	Matched string
}

// ForwardResult is the routed target's response in active mode. Body is the
// provider-compatible payload returned as-is to the caller.
type ForwardResult struct {
	StatusCode int
	Body       []byte
	Header     map[string]string
}

// DeliveryClass buckets a provider error code for retry scheduling.
type DeliveryClass string

const (
	DeliveryClassRetry DeliveryClass = "retry"
	DeliveryClassFail  DeliveryClass = "fail"
	DeliveryClassDefer DeliveryClass = "defer"
)

// ProviderReceipt is the provider's acknowledgement of a successful send.
type ProviderReceipt struct {
	ProviderMessageID string
}

// ProviderError is a structured delivery failure carrying the provider error
// code used for retry classification.
type ProviderError struct {
	Code   int
	Title  string
	Detail string
	Status int
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "core: provider error"
	}
	if strings.TrimSpace(e.Detail) != "" {
		return fmt.Sprintf("provider error %d: %s: %s", e.Code, e.Title, e.Detail)
	}
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Title)
}

// AuditEntry is one structured record of a delivery outcome or gateway event.
type AuditEntry struct {
	Event          string
	NotificationID string
	RecipientID    string
	Reason         string
	At             time.Time
	Fields         map[string]any
}
