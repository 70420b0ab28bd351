package admission

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	"github.com/goliatone/go-chat-gateway/identity"
)

// Envelope mirrors the provider's webhook delivery shape: entries carrying
// changes, each change a value with recipient metadata, contact hints, and
// messages. Unknown fields are preserved through Raw passthroughs.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         RecipientMetadata `json:"metadata"`
	Contacts         []Contact         `json:"contacts"`
	Messages         []json.RawMessage `json:"messages"`
}

type RecipientMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string         `json:"wa_id"`
	Profile ContactProfile `json:"profile"`
}

type ContactProfile struct {
	Name   string `json:"name"`
	Locale string `json:"locale"`
}

// rawMessage is the subset of a provider message the pipeline needs for
// normalization and routing-text extraction; the full object rides along in
// InboundMessage.Raw.
type rawMessage struct {
	ID          string          `json:"id"`
	From        string          `json:"from"`
	Type        string          `json:"type"`
	Timestamp   string          `json:"timestamp"`
	Text        *textPayload    `json:"text"`
	Button      *buttonPayload  `json:"button"`
	Interactive *interactivePay `json:"interactive"`
}

type textPayload struct {
	Body string `json:"body"`
}

type buttonPayload struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type interactivePay struct {
	Type        string        `json:"type"`
	ButtonReply *replyPayload `json:"button_reply"`
	ListReply   *replyPayload `json:"list_reply"`
}

type replyPayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Normalize filters the envelope's changes to the configured recipient,
// flattens and deduplicates messages, and indexes sender locales. The
// returned counts feed the per-stage admission metrics.
func Normalize(envelope Envelope, raw json.RawMessage, recipientID string, now time.Time) core.MessageBatch {
	batch := core.MessageBatch{
		RecipientID: strings.TrimSpace(recipientID),
		Locales:     map[string]string{},
		Envelope:    raw,
	}
	seen := map[string]struct{}{}

	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			batch.Counts.ChangesTotal++
			if !identity.MatchesRecipient(recipientID, change.Value.Metadata.PhoneNumberID, change.Value.Metadata.DisplayPhoneNumber) {
				batch.Counts.ChangesFiltered++
				continue
			}
			for _, contact := range change.Value.Contacts {
				waID := strings.TrimSpace(contact.WaID)
				locale := strings.TrimSpace(contact.Profile.Locale)
				if waID == "" || locale == "" {
					continue
				}
				if _, exists := batch.Locales[waID]; !exists {
					batch.Locales[waID] = locale
				}
			}
			for _, rawMsg := range change.Value.Messages {
				batch.Counts.MessagesTotal++
				message, ok := normalizeMessage(rawMsg, now)
				if !ok {
					batch.Counts.MessagesIgnored++
					continue
				}
				if _, duplicate := seen[message.ID]; duplicate {
					batch.Counts.Duplicates++
					continue
				}
				seen[message.ID] = struct{}{}
				batch.Messages = append(batch.Messages, message)
			}
		}
	}
	batch.Counts.Accepted = len(batch.Messages)
	return batch
}

// normalizeMessage rejects messages missing an id, sender, or type.
func normalizeMessage(raw json.RawMessage, now time.Time) (core.InboundMessage, bool) {
	var parsed rawMessage
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return core.InboundMessage{}, false
	}
	id := strings.TrimSpace(parsed.ID)
	from := strings.TrimSpace(parsed.From)
	msgType := strings.TrimSpace(parsed.Type)
	if id == "" || from == "" || msgType == "" {
		return core.InboundMessage{}, false
	}
	return core.InboundMessage{
		ID:        id,
		From:      from,
		Type:      msgType,
		Text:      routingText(parsed),
		Timestamp: messageTimestamp(parsed.Timestamp, now),
		Raw:       raw,
	}, true
}

// routingText extracts the user-intent text used for keyword routing: plain
// body for text messages, reply ids for interactive selections, button
// payloads for template buttons.
func routingText(message rawMessage) string {
	if message.Text != nil && strings.TrimSpace(message.Text.Body) != "" {
		return strings.TrimSpace(message.Text.Body)
	}
	if message.Interactive != nil {
		if reply := message.Interactive.ButtonReply; reply != nil {
			if id := strings.TrimSpace(reply.ID); id != "" {
				return id
			}
			return strings.TrimSpace(reply.Title)
		}
		if reply := message.Interactive.ListReply; reply != nil {
			if id := strings.TrimSpace(reply.ID); id != "" {
				return id
			}
			return strings.TrimSpace(reply.Title)
		}
	}
	if message.Button != nil {
		if payload := strings.TrimSpace(message.Button.Payload); payload != "" {
			return payload
		}
		return strings.TrimSpace(message.Button.Text)
	}
	return ""
}

func messageTimestamp(value string, fallback time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	var unix int64
	for _, r := range value {
		if r < '0' || r > '9' {
			return fallback
		}
		unix = unix*10 + int64(r-'0')
	}
	if unix <= 0 {
		return fallback
	}
	return time.Unix(unix, 0).UTC()
}
