package credential

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/batua/wallet/src/domain"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ErrDismissed is returned when the user closes the passkey prompt.
var ErrDismissed = errors.New("authenticator prompt dismissed")

// Authenticator is the platform authenticator. It runs the browser side of a
// WebAuthn ceremony for the given options.
type Authenticator interface {
	Create(ctx context.Context, options *protocol.CredentialCreation) (*protocol.ParsedCredentialCreationData, error)
	Get(ctx context.Context, options *protocol.CredentialAssertion) (*protocol.ParsedCredentialAssertionData, error)
}

type PromptKind string

const (
	PromptCreate PromptKind = "create"
	PromptGet    PromptKind = "get"
)

// Prompt asks the page to run navigator.credentials.create or get with Options.
type Prompt struct {
	ID        string     `json:"id"`
	Kind      PromptKind `json:"kind"`
	Options   any        `json:"options"`
	CreatedAt time.Time  `json:"createdAt"`
}

type promptResult struct {
	body      []byte
	dismissed bool
}

type pendingPrompt struct {
	prompt Prompt
	result chan promptResult
}

// RemoteAuthenticator forwards ceremonies to the host page through events and
// waits for the page to post the credential back.
type RemoteAuthenticator struct {
	publisher domain.EventPublisher
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]*pendingPrompt
}

func NewRemoteAuthenticator(publisher domain.EventPublisher, timeout time.Duration) *RemoteAuthenticator {
	return &RemoteAuthenticator{
		publisher: publisher,
		timeout:   timeout,
		pending:   make(map[string]*pendingPrompt),
	}
}

func (r *RemoteAuthenticator) Create(ctx context.Context, options *protocol.CredentialCreation) (*protocol.ParsedCredentialCreationData, error) {
	body, err := r.prompt(ctx, PromptCreate, options)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse credential creation response: %w", err)
	}
	return parsed, nil
}

func (r *RemoteAuthenticator) Get(ctx context.Context, options *protocol.CredentialAssertion) (*protocol.ParsedCredentialAssertionData, error) {
	body, err := r.prompt(ctx, PromptGet, options)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse credential request response: %w", err)
	}
	return parsed, nil
}

// prompt publishes the ceremony and blocks until the page answers. Context
// end and timeout count as dismissal.
func (r *RemoteAuthenticator) prompt(ctx context.Context, kind PromptKind, options any) ([]byte, error) {
	p := &pendingPrompt{
		prompt: Prompt{
			ID:        uuid.NewString(),
			Kind:      kind,
			Options:   options,
			CreatedAt: time.Now(),
		},
		result: make(chan promptResult, 1),
	}

	r.mu.Lock()
	r.pending[p.prompt.ID] = p
	r.mu.Unlock()
	defer r.close(p.prompt.ID)

	r.publisher.Publish(domain.Event{Type: domain.EventAuthenticatorPrompt, Payload: p.prompt})

	var timeout <-chan time.Time
	if r.timeout > 0 {
		timer := time.NewTimer(r.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-p.result:
		if res.dismissed {
			return nil, ErrDismissed
		}
		return res.body, nil
	case <-timeout:
		return nil, fmt.Errorf("%w: timed out after %s", ErrDismissed, r.timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrDismissed, ctx.Err())
	}
}

func (r *RemoteAuthenticator) close(id string) {
	r.mu.Lock()
	_, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if ok {
		r.publisher.Publish(domain.Event{Type: domain.EventAuthenticatorClosed, Payload: map[string]string{"id": id}})
	}
}

func (r *RemoteAuthenticator) deliver(id string, res promptResult) error {
	r.mu.Lock()
	p, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return domain.NewError(domain.ErrorCodeResourceNotFound, fmt.Errorf("prompt %s not found", id))
	}
	select {
	case p.result <- res:
		return nil
	default:
		return domain.NewError(domain.ErrorCodeRequestInvalid, fmt.Errorf("prompt %s already answered", id))
	}
}

// Respond hands the page's PublicKeyCredential JSON to the waiting ceremony.
func (r *RemoteAuthenticator) Respond(id string, body []byte) error {
	return r.deliver(id, promptResult{body: body})
}

func (r *RemoteAuthenticator) Dismiss(id string) error {
	return r.deliver(id, promptResult{dismissed: true})
}

// Pending lists open prompts, oldest first, for pages that connect late.
func (r *RemoteAuthenticator) Pending() []Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	prompts := lo.Map(lo.Values(r.pending), func(p *pendingPrompt, _ int) Prompt { return p.prompt })
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].CreatedAt.Before(prompts[j].CreatedAt) })
	return prompts
}
