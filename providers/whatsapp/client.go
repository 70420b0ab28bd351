// Package whatsapp implements the chat-provider integrations: the Graph
// send API used by the delivery engine and the routing fan-out forwarder
// used by the dispatcher.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-chat-gateway/core"
	"github.com/goliatone/go-chat-gateway/transport"
)

const defaultSendTimeout = 10 * time.Second

// Client delivers queued notifications through the provider's
// `/<phone-number-id>/messages` endpoint.
type Client struct {
	Adapter       *transport.RESTAdapter
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

func NewClient(adapter *transport.RESTAdapter, cfg core.ProviderConfig) *Client {
	if adapter == nil {
		adapter = transport.NewRESTAdapter(nil)
	}
	return &Client{
		Adapter:       adapter,
		BaseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		PhoneNumberID: strings.TrimSpace(cfg.PhoneNumberID),
		AccessToken:   strings.TrimSpace(cfg.AccessToken),
		Timeout:       cfg.Timeout,
	}
}

// graphError is the provider's structured failure envelope.
type graphError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		ErrorData struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"error"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (c *Client) Send(ctx context.Context, notification *core.QueuedNotification) (core.ProviderReceipt, error) {
	if c == nil || c.Adapter == nil {
		return core.ProviderReceipt{}, fmt.Errorf("whatsapp: client is not configured")
	}
	if notification == nil {
		return core.ProviderReceipt{}, fmt.Errorf("whatsapp: notification is required")
	}
	if c.BaseURL == "" || c.PhoneNumberID == "" {
		return core.ProviderReceipt{}, fmt.Errorf("whatsapp: base url and phone number id are required")
	}

	body, err := buildMessageBody(notification)
	if err != nil {
		return core.ProviderReceipt{}, err
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return core.ProviderReceipt{}, fmt.Errorf("whatsapp: encode message body: %w", err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	res, err := c.Adapter.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    c.BaseURL + "/" + c.PhoneNumberID + "/messages",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + c.AccessToken,
		},
		Body:    encoded,
		Timeout: timeout,
	})
	if err != nil {
		return core.ProviderReceipt{}, err
	}

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return core.ProviderReceipt{}, decodeProviderError(res)
	}

	var parsed sendResponse
	if err := json.Unmarshal(res.Body, &parsed); err == nil && len(parsed.Messages) > 0 {
		return core.ProviderReceipt{ProviderMessageID: strings.TrimSpace(parsed.Messages[0].ID)}, nil
	}
	return core.ProviderReceipt{}, nil
}

// buildMessageBody shapes the channel payload into a provider message:
// template payloads ride under "template", flow payloads under
// "interactive", freeform fragments merge into the body with their type
// inferred when absent.
func buildMessageBody(notification *core.QueuedNotification) (map[string]any, error) {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                notification.RecipientID,
	}
	switch notification.Channel {
	case core.NotificationChannelTemplate:
		var payload map[string]any
		if err := json.Unmarshal(notification.Payload, &payload); err != nil {
			return nil, fmt.Errorf("whatsapp: decode template payload: %w", err)
		}
		body["type"] = "template"
		body["template"] = payload
	case core.NotificationChannelFlow:
		var payload map[string]any
		if err := json.Unmarshal(notification.Payload, &payload); err != nil {
			return nil, fmt.Errorf("whatsapp: decode flow payload: %w", err)
		}
		body["type"] = "interactive"
		body["interactive"] = payload
	case core.NotificationChannelFreeform:
		var payload map[string]any
		if err := json.Unmarshal(notification.Payload, &payload); err != nil {
			return nil, fmt.Errorf("whatsapp: decode freeform payload: %w", err)
		}
		msgType := strings.TrimSpace(fmt.Sprint(payload["type"]))
		if msgType == "" || msgType == "<nil>" {
			msgType = inferFreeformType(payload)
		}
		if msgType == "" {
			return nil, fmt.Errorf("whatsapp: freeform payload has no message type")
		}
		body["type"] = msgType
		for key, value := range payload {
			if key == "type" {
				continue
			}
			body[key] = value
		}
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidNotificationChannel, notification.Channel)
	}
	return body, nil
}

func inferFreeformType(payload map[string]any) string {
	for _, candidate := range []string{"text", "image", "document", "audio", "video", "location", "contacts"} {
		if _, ok := payload[candidate]; ok {
			return candidate
		}
	}
	return ""
}

func decodeProviderError(res transport.Response) error {
	var envelope graphError
	if err := json.Unmarshal(res.Body, &envelope); err != nil || envelope.Error.Code == 0 {
		return &core.ProviderError{
			Code:   0,
			Title:  "unexpected provider response",
			Detail: strings.TrimSpace(string(res.Body)),
			Status: res.StatusCode,
		}
	}
	detail := strings.TrimSpace(envelope.Error.ErrorData.Details)
	if detail == "" {
		detail = strings.TrimSpace(envelope.Error.Message)
	}
	return &core.ProviderError{
		Code:   envelope.Error.Code,
		Title:  strings.TrimSpace(envelope.Error.Type),
		Detail: detail,
		Status: res.StatusCode,
	}
}

var _ core.DeliveryProvider = (*Client)(nil)
