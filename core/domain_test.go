package core

import (
	"errors"
	"testing"
	"time"
)

func TestNotificationTransitions(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	allowed := []struct {
		from NotificationStatus
		to   NotificationStatus
	}{
		{NotificationStatusQueued, NotificationStatusSending},
		{NotificationStatusQueued, NotificationStatusSent},
		{NotificationStatusQueued, NotificationStatusFailed},
		{NotificationStatusSending, NotificationStatusQueued},
		{NotificationStatusSending, NotificationStatusSent},
		{NotificationStatusSending, NotificationStatusFailed},
	}
	for _, tc := range allowed {
		n := &QueuedNotification{Status: tc.from}
		if err := n.TransitionTo(tc.to, now); err != nil {
			t.Fatalf("%s -> %s: %v", tc.from, tc.to, err)
		}
		if n.Status != tc.to || !n.UpdatedAt.Equal(now) {
			t.Fatalf("%s -> %s: status %s updated_at %s", tc.from, tc.to, n.Status, n.UpdatedAt)
		}
	}

	denied := []struct {
		from NotificationStatus
		to   NotificationStatus
	}{
		{NotificationStatusSent, NotificationStatusQueued},
		{NotificationStatusSent, NotificationStatusFailed},
		{NotificationStatusFailed, NotificationStatusQueued},
		{NotificationStatusFailed, NotificationStatusSending},
	}
	for _, tc := range denied {
		n := &QueuedNotification{Status: tc.from}
		err := n.TransitionTo(tc.to, now)
		if !errors.Is(err, ErrInvalidNotificationStatusTransition) {
			t.Fatalf("%s -> %s err = %v, want invalid transition", tc.from, tc.to, err)
		}
	}
}

func TestTransitionToSentClearsRetryState(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	next := now.Add(time.Minute)
	n := &QueuedNotification{
		Status:        NotificationStatusSending,
		NextAttemptAt: &next,
		ErrorMessage:  "previous failure",
	}
	if err := n.TransitionTo(NotificationStatusSent, now); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if n.SentAt == nil || !n.SentAt.Equal(now) {
		t.Fatalf("sent_at = %v", n.SentAt)
	}
	if n.NextAttemptAt != nil || n.ErrorMessage != "" {
		t.Fatal("sent rows must not carry retry state")
	}
}

func TestTransitionSameStatusOnlyTouchesUpdatedAt(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	n := &QueuedNotification{Status: NotificationStatusQueued}
	if err := n.TransitionTo(NotificationStatusQueued, now); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if !n.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at = %s", n.UpdatedAt)
	}
}

func TestParseNotificationChannel(t *testing.T) {
	for _, value := range []string{"template", "Freeform", " FLOW "} {
		if _, err := ParseNotificationChannel(value); err != nil {
			t.Fatalf("ParseNotificationChannel(%q): %v", value, err)
		}
	}
	_, err := ParseNotificationChannel("sms")
	if !errors.Is(err, ErrInvalidNotificationChannel) {
		t.Fatalf("err = %v, want ErrInvalidNotificationChannel", err)
	}
}

func TestParseRoutingMode(t *testing.T) {
	mode, err := ParseRoutingMode("")
	if err != nil || mode != RoutingModeDisabled {
		t.Fatalf("empty mode = %s err %v, want disabled", mode, err)
	}
	if _, err := ParseRoutingMode("Shadow"); err != nil {
		t.Fatalf("ParseRoutingMode: %v", err)
	}
	if _, err := ParseRoutingMode("half-open"); !errors.Is(err, ErrInvalidRoutingMode) {
		t.Fatalf("err = %v, want ErrInvalidRoutingMode", err)
	}
}

func TestOverrideQuietHours(t *testing.T) {
	cases := []struct {
		metadata map[string]any
		want     bool
	}{
		{nil, false},
		{map[string]any{}, false},
		{map[string]any{"override_quiet_hours": true}, true},
		{map[string]any{"override_quiet_hours": false}, false},
		{map[string]any{"override_quiet_hours": "true"}, true},
		{map[string]any{"override_quiet_hours": " TRUE "}, true},
		{map[string]any{"override_quiet_hours": "nope"}, false},
		{map[string]any{"override_quiet_hours": 1}, false},
	}
	for _, tc := range cases {
		n := &QueuedNotification{Metadata: tc.metadata}
		if got := n.OverrideQuietHours(); got != tc.want {
			t.Fatalf("OverrideQuietHours(%v) = %v, want %v", tc.metadata, got, tc.want)
		}
	}
}

func TestQuietWindow(t *testing.T) {
	pref := ContactPreference{QuietHoursStart: "21:30", QuietHoursEnd: "07:00"}
	start, end, err := pref.QuietWindow()
	if err != nil {
		t.Fatalf("QuietWindow: %v", err)
	}
	if start != 21*60+30 || end != 7*60 {
		t.Fatalf("window = %d..%d", start, end)
	}

	for _, value := range []string{"", "25:00", "12:60", "noon", "12", "-1:30"} {
		bad := ContactPreference{QuietHoursStart: value, QuietHoursEnd: "07:00"}
		if _, _, err := bad.QuietWindow(); !errors.Is(err, ErrInvalidQuietHours) {
			t.Fatalf("QuietWindow(%q) err = %v, want ErrInvalidQuietHours", value, err)
		}
	}
}

func TestPreferenceLocation(t *testing.T) {
	if loc := (ContactPreference{}).Location(); loc != time.UTC {
		t.Fatalf("empty timezone = %v, want UTC", loc)
	}
	if loc := (ContactPreference{Timezone: "Mars/Olympus_Mons"}).Location(); loc != time.UTC {
		t.Fatalf("unknown timezone = %v, want UTC", loc)
	}
	loc := (ContactPreference{Timezone: "America/New_York"}).Location()
	if loc.String() != "America/New_York" {
		t.Fatalf("timezone = %v", loc)
	}
}

func TestProviderErrorString(t *testing.T) {
	err := &ProviderError{Code: 131031, Title: "banned", Detail: "account disabled"}
	if err.Error() != "provider error 131031: banned: account disabled" {
		t.Fatalf("error = %q", err.Error())
	}
	short := &ProviderError{Code: 100, Title: "invalid parameter"}
	if short.Error() != "provider error 100: invalid parameter" {
		t.Fatalf("error = %q", short.Error())
	}
}
