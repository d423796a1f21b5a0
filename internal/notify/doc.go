// Package notify delivers change events to Telegram chats via the Bot
// API. The sink formats each event kind as a short HTML message; a
// disabled sink accepts every event so the delivery pipeline drains
// normally when notifications are turned off.
package notify
