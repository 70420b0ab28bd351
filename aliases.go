package chatgateway

import "github.com/goliatone/go-chat-gateway/core"

type Config = core.Config

type Logger = core.Logger

type MessageHandler = core.MessageHandler
type ContextResolver = core.ContextResolver
type MessageContext = core.MessageContext
type InboundMessage = core.InboundMessage
type MessageBatch = core.MessageBatch
type QueuedNotification = core.QueuedNotification
type ContactPreference = core.ContactPreference
type NotificationChannel = core.NotificationChannel

func DefaultConfig() Config {
	return core.DefaultConfig()
}
