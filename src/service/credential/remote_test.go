package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/testutil"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
	ch     chan domain.Event
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan domain.Event, 16)}
}

func (r *eventRecorder) Publish(event domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	r.ch <- event
}

func (r *eventRecorder) next(t *testing.T, eventType string) domain.Event {
	t.Helper()
	for {
		select {
		case e := <-r.ch:
			if e.Type == eventType {
				return e
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s event", eventType)
		}
	}
}

func TestRemoteAuthenticator_CreateAndSign(t *testing.T) {
	events := newEventRecorder()
	remote := NewRemoteAuthenticator(events, time.Minute)
	page := testutil.NewSoftAuthenticator(testOrigin)

	// the page answers every prompt with the soft authenticator
	go func() {
		for e := range events.ch {
			if e.Type != domain.EventAuthenticatorPrompt {
				continue
			}
			prompt := e.Payload.(Prompt)
			var (
				body []byte
				err  error
			)
			switch opts := prompt.Options.(type) {
			case *protocol.CredentialCreation:
				body, err = page.CreateBody(context.Background(), opts)
			case *protocol.CredentialAssertion:
				body, err = page.GetBody(context.Background(), opts)
			}
			if err != nil {
				_ = remote.Dismiss(prompt.ID)
				continue
			}
			_ = remote.Respond(prompt.ID, body)
		}
	}()
	t.Cleanup(func() { close(events.ch) })

	m, err := NewManager(Config{RPID: testRPID, RPDisplayName: "Batua", RPOrigins: []string{testOrigin}}, remote)
	require.NoError(t, err)

	ctx := context.Background()
	cred, err := m.CreateCredential(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, page.LastCredentialID(), []byte(cred.ID))

	sig, err := m.Sign(ctx, cred, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	assert.NotEmpty(t, sig.AuthenticatorData)
	assert.Empty(t, remote.Pending())

	events.mu.Lock()
	defer events.mu.Unlock()
	var prompts, closes int
	for _, e := range events.events {
		switch e.Type {
		case domain.EventAuthenticatorPrompt:
			prompts++
		case domain.EventAuthenticatorClosed:
			closes++
		}
	}
	assert.Equal(t, 2, prompts)
	assert.Equal(t, 2, closes)
}

func TestRemoteAuthenticator_Dismiss(t *testing.T) {
	events := newEventRecorder()
	remote := NewRemoteAuthenticator(events, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := remote.Get(context.Background(), &protocol.CredentialAssertion{})
		done <- err
	}()

	prompt := events.next(t, domain.EventAuthenticatorPrompt).Payload.(Prompt)
	assert.Equal(t, PromptGet, prompt.Kind)
	require.Len(t, remote.Pending(), 1)

	require.NoError(t, remote.Dismiss(prompt.ID))
	err := <-done
	assert.ErrorIs(t, err, ErrDismissed)

	err = remote.Respond(prompt.ID, []byte("{}"))
	assert.True(t, errors.Is(err, domain.ErrResourceNotFound))
}

func TestRemoteAuthenticator_Timeout(t *testing.T) {
	events := newEventRecorder()
	remote := NewRemoteAuthenticator(events, 20*time.Millisecond)

	_, err := remote.Create(context.Background(), &protocol.CredentialCreation{})
	assert.ErrorIs(t, err, ErrDismissed)
	assert.Empty(t, remote.Pending())
	events.next(t, domain.EventAuthenticatorClosed)
}

func TestRemoteAuthenticator_ContextCancelled(t *testing.T) {
	events := newEventRecorder()
	remote := NewRemoteAuthenticator(events, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := remote.Create(ctx, &protocol.CredentialCreation{})
		done <- err
	}()
	events.next(t, domain.EventAuthenticatorPrompt)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, ErrDismissed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemoteAuthenticator_InvalidBody(t *testing.T) {
	events := newEventRecorder()
	remote := NewRemoteAuthenticator(events, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := remote.Create(context.Background(), &protocol.CredentialCreation{})
		done <- err
	}()
	prompt := events.next(t, domain.EventAuthenticatorPrompt).Payload.(Prompt)
	require.NoError(t, remote.Respond(prompt.ID, []byte("not json")))

	err := <-done
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDismissed)
}
