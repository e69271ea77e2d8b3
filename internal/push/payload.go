// Package push broadcasts the daily message to every registered web push
// subscription.
package push

import (
	"time"

	"lovepush/internal/catalog"
)

// Payload is the JSON body the service worker receives.
type Payload struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Icon               string   `json:"icon"`
	Badge              string   `json:"badge"`
	Tag                string   `json:"tag"`
	Data               Data     `json:"data"`
	RequireInteraction bool     `json:"requireInteraction"`
	Actions            []Action `json:"actions"`
}

type Data struct {
	URL       string `json:"url"`
	MessageID int    `json:"messageId"`
	Timestamp string `json:"timestamp"`
}

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

const (
	defaultIcon = "/icon-192.png"
	payloadTag  = "daily-love-message"
)

// NewPayload builds the notification for msg.
func NewPayload(title string, msg catalog.Message, special string, now time.Time) Payload {
	body := msg.Text
	if special != "" {
		body += "\n\n" + special
	}
	return Payload{
		Title: title,
		Body:  body,
		Icon:  defaultIcon,
		Badge: defaultIcon,
		Tag:   payloadTag,
		Data: Data{
			URL:       "/",
			MessageID: msg.ID,
			Timestamp: now.UTC().Format(time.RFC3339Nano),
		},
		Actions: []Action{
			{Action: "open", Title: "Open message"},
			{Action: "close", Title: "Close"},
		},
	}
}
