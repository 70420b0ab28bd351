package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	"github.com/uptrace/bun"
)

// ContactPreferenceStore reads delivery policy per contact, inserting the
// configured default the first time a contact is seen.
type ContactPreferenceStore struct {
	db *bun.DB
}

func NewContactPreferenceStore(db *bun.DB) (*ContactPreferenceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ContactPreferenceStore{db: db}, nil
}

func (s *ContactPreferenceStore) GetOrCreate(
	ctx context.Context,
	contactID string,
	defaults core.ContactPreference,
) (core.ContactPreference, error) {
	if s == nil || s.db == nil {
		return core.ContactPreference{}, fmt.Errorf("sqlstore: contact preference store is not configured")
	}
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return core.ContactPreference{}, fmt.Errorf("sqlstore: contact id is required")
	}

	existing, err := s.get(ctx, contactID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return core.ContactPreference{}, err
	}

	defaults.ContactID = contactID
	if defaults.UpdatedAt.IsZero() {
		defaults.UpdatedAt = time.Now()
	}
	record := preferenceToRecord(defaults)
	if _, insertErr := s.db.NewInsert().Model(record).Exec(ctx); insertErr != nil {
		// A concurrent first-seen insert may have won the race.
		if isUniqueViolation(insertErr) {
			return s.get(ctx, contactID)
		}
		return core.ContactPreference{}, insertErr
	}
	return recordToPreference(record), nil
}

// Upsert writes the full preference row, replacing any existing one.
func (s *ContactPreferenceStore) Upsert(ctx context.Context, pref core.ContactPreference) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: contact preference store is not configured")
	}
	if strings.TrimSpace(pref.ContactID) == "" {
		return fmt.Errorf("sqlstore: contact id is required")
	}
	if pref.UpdatedAt.IsZero() {
		pref.UpdatedAt = time.Now()
	}
	record := preferenceToRecord(pref)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (contact_id) DO UPDATE").
		Set("opted_out = EXCLUDED.opted_out").
		Set("quiet_hours_start = EXCLUDED.quiet_hours_start").
		Set("quiet_hours_end = EXCLUDED.quiet_hours_end").
		Set("timezone = EXCLUDED.timezone").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *ContactPreferenceStore) get(ctx context.Context, contactID string) (core.ContactPreference, error) {
	record := &contactPreferenceRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("contact_id = ?", contactID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.ContactPreference{}, err
	}
	return recordToPreference(record), nil
}

func preferenceToRecord(pref core.ContactPreference) *contactPreferenceRecord {
	return &contactPreferenceRecord{
		ContactID:       strings.TrimSpace(pref.ContactID),
		OptedOut:        pref.OptedOut,
		QuietHoursStart: strings.TrimSpace(pref.QuietHoursStart),
		QuietHoursEnd:   strings.TrimSpace(pref.QuietHoursEnd),
		Timezone:        strings.TrimSpace(pref.Timezone),
		UpdatedAt:       pref.UpdatedAt.UTC(),
	}
}

func recordToPreference(record *contactPreferenceRecord) core.ContactPreference {
	return core.ContactPreference{
		ContactID:       record.ContactID,
		OptedOut:        record.OptedOut,
		QuietHoursStart: record.QuietHoursStart,
		QuietHoursEnd:   record.QuietHoursEnd,
		Timezone:        record.Timezone,
		UpdatedAt:       record.UpdatedAt,
	}
}

var _ core.PreferenceStore = (*ContactPreferenceStore)(nil)
