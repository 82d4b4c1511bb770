package testutil

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

const (
	flagUserPresent  = 0x01
	flagUserVerified = 0x04
	flagAttested     = 0x40
)

// ErrSoftDismissed mirrors a user closing the browser prompt.
var ErrSoftDismissed = errors.New("soft authenticator dismissed")

// SoftAuthenticator is an in-memory platform authenticator holding real
// P-256 keys. It produces "none" attestations and ES256 assertions.
type SoftAuthenticator struct {
	Origin string

	mu        sync.Mutex
	keys      map[string]*ecdsa.PrivateKey
	lastID    []byte
	signCount uint32
	dismiss   bool
	creates   int
	gets      int
}

func NewSoftAuthenticator(origin string) *SoftAuthenticator {
	return &SoftAuthenticator{
		Origin: origin,
		keys:   make(map[string]*ecdsa.PrivateKey),
	}
}

// SetDismiss makes every following ceremony fail as if the user closed it.
func (a *SoftAuthenticator) SetDismiss(dismiss bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dismiss = dismiss
}

func (a *SoftAuthenticator) Counts() (creates, gets int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creates, a.gets
}

// LastCredentialID is the raw id of the most recently created credential.
func (a *SoftAuthenticator) LastCredentialID() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]byte(nil), a.lastID...)
}

// PublicKey returns the uncompressed public key of credential id.
func (a *SoftAuthenticator) PublicKey(id []byte) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	key, ok := a.keys[string(id)]
	if !ok {
		return nil
	}
	return uncompressed(&key.PublicKey)
}

func (a *SoftAuthenticator) Create(ctx context.Context, options *protocol.CredentialCreation) (*protocol.ParsedCredentialCreationData, error) {
	body, err := a.CreateBody(ctx, options)
	if err != nil {
		return nil, err
	}
	return protocol.ParseCredentialCreationResponseBody(bytes.NewReader(body))
}

func (a *SoftAuthenticator) Get(ctx context.Context, options *protocol.CredentialAssertion) (*protocol.ParsedCredentialAssertionData, error) {
	body, err := a.GetBody(ctx, options)
	if err != nil {
		return nil, err
	}
	return protocol.ParseCredentialRequestResponseBody(bytes.NewReader(body))
}

// CreateBody runs navigator.credentials.create and returns the JSON a page
// would post back.
func (a *SoftAuthenticator) CreateBody(ctx context.Context, options *protocol.CredentialCreation) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creates++
	if a.dismiss {
		return nil, ErrSoftDismissed
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}

	coseKey, err := webauthncbor.Marshal(webauthncose.EC2PublicKeyData{
		PublicKeyData: webauthncose.PublicKeyData{
			KeyType:   int64(webauthncose.EllipticKey),
			Algorithm: int64(webauthncose.AlgES256),
		},
		Curve:  1,
		XCoord: key.PublicKey.X.FillBytes(make([]byte, 32)),
		YCoord: key.PublicKey.Y.FillBytes(make([]byte, 32)),
	})
	if err != nil {
		return nil, fmt.Errorf("encode cose key: %w", err)
	}

	authData := a.authData(options.Response.RelyingParty.ID, flagUserPresent|flagUserVerified|flagAttested)
	authData = append(authData, make([]byte, 16)...) // aaguid
	authData = binary.BigEndian.AppendUint16(authData, uint16(len(id)))
	authData = append(authData, id...)
	authData = append(authData, coseKey...)

	attestation, err := webauthncbor.Marshal(map[string]any{
		"fmt":      "none",
		"attStmt":  map[string]any{},
		"authData": authData,
	})
	if err != nil {
		return nil, fmt.Errorf("encode attestation: %w", err)
	}

	clientData, err := a.clientData(protocol.CreateCeremony, options.Response.Challenge)
	if err != nil {
		return nil, err
	}

	a.keys[string(id)] = key
	a.lastID = id

	return json.Marshal(map[string]any{
		"id":    b64(id),
		"rawId": b64(id),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64(clientData),
			"attestationObject": b64(attestation),
		},
	})
}

// GetBody runs navigator.credentials.get with the first allowed credential
// this authenticator holds.
func (a *SoftAuthenticator) GetBody(ctx context.Context, options *protocol.CredentialAssertion) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gets++
	if a.dismiss {
		return nil, ErrSoftDismissed
	}

	var (
		id  []byte
		key *ecdsa.PrivateKey
	)
	for _, allowed := range options.Response.AllowedCredentials {
		if k, ok := a.keys[string(allowed.CredentialID)]; ok {
			id, key = allowed.CredentialID, k
			break
		}
	}
	if key == nil {
		return nil, errors.New("no matching credential")
	}

	a.signCount++
	authData := a.authData(options.Response.RelyingPartyID, flagUserPresent|flagUserVerified)
	clientData, err := a.clientData(protocol.AssertCeremony, options.Response.Challenge)
	if err != nil {
		return nil, err
	}
	clientDataHash := sha256.Sum256(clientData)
	digest := sha256.Sum256(append(append([]byte{}, authData...), clientDataHash[:]...))
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"id":    b64(id),
		"rawId": b64(id),
		"type":  "public-key",
		"response": map[string]any{
			"clientDataJSON":    b64(clientData),
			"authenticatorData": b64(authData),
			"signature":         b64(sig),
		},
	})
}

func (a *SoftAuthenticator) authData(rpID string, flags byte) []byte {
	rpIDHash := sha256.Sum256([]byte(rpID))
	out := append([]byte{}, rpIDHash[:]...)
	out = append(out, flags)
	return binary.BigEndian.AppendUint32(out, a.signCount)
}

func (a *SoftAuthenticator) clientData(ceremony protocol.CeremonyType, challenge protocol.URLEncodedBase64) ([]byte, error) {
	return json.Marshal(struct {
		Type        string `json:"type"`
		Challenge   string `json:"challenge"`
		Origin      string `json:"origin"`
		CrossOrigin bool   `json:"crossOrigin"`
	}{
		Type:      string(ceremony),
		Challenge: b64(challenge),
		Origin:    a.Origin,
	})
}

func uncompressed(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, 65)
	out[0] = 0x04
	pub.X.FillBytes(out[1:33])
	pub.Y.FillBytes(out[33:])
	return out
}

func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
