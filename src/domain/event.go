package domain

// Events pushed to the host page.
const (
	EventAnnounceProvider    = "announceProvider"
	EventRevokeProvider      = "revokeProvider"
	EventQueueChanged        = "queueChanged"
	EventAuthenticatorPrompt = "authenticatorPrompt"
	EventAuthenticatorClosed = "authenticatorClosed"
	EventAccountsChanged     = "accountsChanged"
	EventChainChanged        = "chainChanged"
)

type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// EventPublisher fans events out to connected pages.
type EventPublisher interface {
	Publish(event Event)
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(Event)

func (f EventPublisherFunc) Publish(event Event) {
	f(event)
}
