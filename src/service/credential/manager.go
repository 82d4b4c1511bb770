package credential

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/batua/wallet/src/domain"
	"github.com/batua/wallet/src/service/kernel"
	"github.com/batua/wallet/src/store"
	"github.com/batua/wallet/src/wallet"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	KernelVersion string
}

// Manager is the passkey implementation: credentials come from a WebAuthn
// authenticator and own Kernel accounts through the WebAuthn validator.
type Manager struct {
	webauthn      *webauthn.WebAuthn
	authenticator Authenticator
	version       kernel.Version

	mu       sync.RWMutex
	internal *wallet.Internal
}

var _ wallet.Implementation = (*Manager)(nil)

func NewManager(cfg Config, authenticator Authenticator) (*Manager, error) {
	version, err := kernel.ParseVersion(cfg.KernelVersion)
	if err != nil {
		return nil, err
	}
	w, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn: %w", err)
	}
	return &Manager{
		webauthn:      w,
		authenticator: authenticator,
		version:       version,
	}, nil
}

// logger wraps the execution context with component info
func (m *Manager) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "credential").Logger()
	return &l
}

func (m *Manager) Version() kernel.Version {
	return m.version
}

// Setup binds signing handles to every stored account owned by a known
// credential. Accounts rehydrated from storage come back without one.
func (m *Manager) Setup(internal *wallet.Internal) func() {
	m.mu.Lock()
	m.internal = internal
	m.mu.Unlock()

	internal.Store.SetState(func(st store.State) store.State {
		for i, account := range st.Accounts {
			if account.Key.Credential != nil {
				st.Accounts[i].Sign = m.signer(*account.Key.Credential)
			}
		}
		return st
	})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.internal == internal {
			m.internal = nil
		}
	}
}

func (m *Manager) entryPoint() (wallet.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.internal == nil {
		return wallet.Config{}, errors.New("credential manager is not set up")
	}
	return m.internal.Config, nil
}

// CreateCredential registers a new passkey named name.
func (m *Manager) CreateCredential(ctx context.Context, name string) (domain.Credential, error) {
	userID := uuid.New()
	user := &domain.PasskeyUser{ID: userID[:], Name: name}

	creation, session, err := m.webauthn.BeginRegistration(user,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: protocol.VerificationRequired,
		}),
		webauthn.WithCredentialParameters([]protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
		}),
	)
	if err != nil {
		return domain.Credential{}, domain.NewError(domain.ErrorCodeCredentialCreation, fmt.Errorf("failed to begin registration: %w", err))
	}

	parsed, err := m.authenticator.Create(ctx, creation)
	if err != nil {
		if dismissed(err) {
			m.logger(ctx).Info().Str("name", name).Msg("passkey creation dismissed")
			return domain.Credential{}, domain.NewUserRejectedError(err)
		}
		m.logger(ctx).Error().Err(err).Msg("authenticator failed to create credential")
		return domain.Credential{}, domain.NewError(domain.ErrorCodeCredentialCreation, err)
	}

	wc, err := m.webauthn.CreateCredential(user, *session, parsed)
	if err != nil {
		m.logger(ctx).Error().Err(err).Msg("failed to verify registration")
		return domain.Credential{}, domain.NewError(domain.ErrorCodeCredentialCreation, fmt.Errorf("failed to verify registration: %w", err))
	}

	publicKey, err := uncompressedKey(wc.PublicKey)
	if err != nil {
		return domain.Credential{}, domain.NewError(domain.ErrorCodeCredentialCreation, err)
	}

	var credential domain.Credential
	credential.FromWebauthn(wc, publicKey, m.webauthn.Config.RPID)
	credential.CreatedAt = time.Now().UTC()

	m.logger(ctx).Info().
		Str("credential_id", credential.IDString()).
		Str("name", name).
		Msg("created passkey credential")
	return credential, nil
}

// ImportCredential rebuilds a credential from its id (base64url) and
// uncompressed P-256 public key.
func (m *Manager) ImportCredential(id string, publicKey []byte) (domain.Credential, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(id, "="))
	if err != nil || len(rawID) == 0 {
		return domain.Credential{}, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("invalid credential id %q", id))
	}
	if _, err := ecPublicKey(publicKey); err != nil {
		return domain.Credential{}, domain.NewError(domain.ErrorCodeParameterInvalid, err)
	}
	return domain.Credential{
		ID:        rawID,
		PublicKey: append(hexutil.Bytes{}, publicKey...),
		RPID:      m.webauthn.Config.RPID,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DeriveAccount computes the Kernel account of credential. The address only
// depends on the public key, credential id, version and entry point.
func (m *Manager) DeriveAccount(credential domain.Credential, chainID uint64) (domain.Account, error) {
	cfg, err := m.entryPoint()
	if err != nil {
		return domain.Account{}, err
	}
	m.mu.RLock()
	internal := m.internal
	m.mu.RUnlock()
	if internal != nil {
		if _, err := internal.Chain(chainID); err != nil {
			return domain.Account{}, err
		}
	}

	account, err := kernel.NewAccount(m.version, cfg.EntryPoint, credential.PublicKey, credential.ID)
	if err != nil {
		return domain.Account{}, domain.NewError(domain.ErrorCodeInternalProcess, fmt.Errorf("failed to derive account: %w", err))
	}

	c := credential
	return domain.Account{
		Address: account.Address(),
		Version: string(m.version),
		Key: domain.Key{
			ID:         credential.IDString(),
			PublicKey:  append(hexutil.Bytes{}, credential.PublicKey...),
			Credential: &c,
		},
		Sign: m.signer(credential),
	}, nil
}

func (m *Manager) signer(credential domain.Credential) domain.SignFunc {
	return func(ctx context.Context, challenge []byte) (*domain.WebAuthnSignature, error) {
		return m.Sign(ctx, credential, challenge)
	}
}

// Sign runs an assertion over exactly challenge and verifies it before
// returning the pieces the on-chain verifier needs.
func (m *Manager) Sign(ctx context.Context, credential domain.Credential, challenge []byte) (*domain.WebAuthnSignature, error) {
	user := &domain.PasskeyUser{ID: credential.ID, Name: credential.IDString(), Credentials: []domain.Credential{credential}}
	assertion, session, err := m.webauthn.BeginLogin(user, webauthn.WithUserVerification(protocol.VerificationRequired))
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, fmt.Errorf("failed to begin assertion: %w", err))
	}
	assertion.Response.Challenge = append(protocol.URLEncodedBase64{}, challenge...)
	session.Challenge = base64.RawURLEncoding.EncodeToString(challenge)

	parsed, err := m.authenticator.Get(ctx, assertion)
	if err != nil {
		if dismissed(err) {
			m.logger(ctx).Info().Str("credential_id", credential.IDString()).Msg("passkey assertion dismissed")
			return nil, domain.NewUserRejectedError(err)
		}
		m.logger(ctx).Error().Err(err).Msg("authenticator failed to sign")
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, fmt.Errorf("failed to get assertion: %w", err))
	}

	sig, err := m.verifyAssertion(credential, session.Challenge, parsed)
	if err != nil {
		m.logger(ctx).Error().Err(err).
			Str("credential_id", credential.IDString()).
			Msg("assertion verification failed")
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	return sig, nil
}

type ecdsaSignature struct {
	R, S *big.Int
}

func (m *Manager) verifyAssertion(credential domain.Credential, challenge string, parsed *protocol.ParsedCredentialAssertionData) (*domain.WebAuthnSignature, error) {
	if !bytes.Equal(parsed.RawID, credential.ID) {
		return nil, errors.New("assertion is for a different credential")
	}
	clientData := parsed.Response.CollectedClientData
	if clientData.Type != protocol.AssertCeremony {
		return nil, fmt.Errorf("unexpected client data type %q", clientData.Type)
	}
	if clientData.Challenge != challenge {
		return nil, errors.New("assertion challenge mismatch")
	}
	if len(m.webauthn.Config.RPOrigins) > 0 && !containsOrigin(m.webauthn.Config.RPOrigins, clientData.Origin) {
		return nil, fmt.Errorf("unexpected origin %q", clientData.Origin)
	}
	if !parsed.Response.AuthenticatorData.Flags.UserPresent() {
		return nil, errors.New("user not present")
	}

	rawAuthData := []byte(parsed.Raw.AssertionResponse.AuthenticatorData)
	rawClientData := []byte(parsed.Raw.AssertionResponse.ClientDataJSON)
	clientDataHash := sha256.Sum256(rawClientData)
	signed := append(append([]byte{}, rawAuthData...), clientDataHash[:]...)

	key, err := ecPublicKey(credential.PublicKey)
	if err != nil {
		return nil, err
	}
	valid, err := key.Verify(signed, parsed.Response.Signature)
	if err != nil {
		return nil, fmt.Errorf("failed to verify assertion signature: %w", err)
	}
	if !valid {
		return nil, errors.New("invalid assertion signature")
	}

	var rs ecdsaSignature
	if _, err := asn1.Unmarshal(parsed.Response.Signature, &rs); err != nil {
		return nil, fmt.Errorf("failed to decode assertion signature: %w", err)
	}

	clientDataJSON := string(rawClientData)
	return &domain.WebAuthnSignature{
		AuthenticatorData: rawAuthData,
		ClientDataJSON:    clientDataJSON,
		ChallengeIndex:    strings.Index(clientDataJSON, `"challenge":"`),
		TypeIndex:         strings.Index(clientDataJSON, `"type":"webauthn.get"`),
		R:                 (*hexutil.Big)(rs.R),
		S:                 (*hexutil.Big)(kernel.NormalizeS(rs.S)),
	}, nil
}

func containsOrigin(origins []string, origin string) bool {
	for _, o := range origins {
		if strings.EqualFold(strings.TrimRight(o, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}
	return false
}

// ecPublicKey wraps an uncompressed P-256 key as an ES256 COSE key.
func ecPublicKey(publicKey []byte) (*webauthncose.EC2PublicKeyData, error) {
	if len(publicKey) != 65 || publicKey[0] != 0x04 {
		return nil, fmt.Errorf("invalid P-256 public key length %d", len(publicKey))
	}
	return &webauthncose.EC2PublicKeyData{
		PublicKeyData: webauthncose.PublicKeyData{
			KeyType:   int64(webauthncose.EllipticKey),
			Algorithm: int64(webauthncose.AlgES256),
		},
		Curve:  1, // P-256
		XCoord: publicKey[1:33],
		YCoord: publicKey[33:],
	}, nil
}

// uncompressedKey converts a COSE EC2 key to 0x04 ‖ x ‖ y.
func uncompressedKey(coseKey []byte) ([]byte, error) {
	parsed, err := webauthncose.ParsePublicKey(coseKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credential public key: %w", err)
	}
	ec2, ok := parsed.(webauthncose.EC2PublicKeyData)
	if !ok {
		return nil, fmt.Errorf("unsupported credential key type %T", parsed)
	}
	if ec2.Algorithm != int64(webauthncose.AlgES256) {
		return nil, fmt.Errorf("unsupported credential algorithm %d", ec2.Algorithm)
	}
	out := make([]byte, 65)
	out[0] = 0x04
	new(big.Int).SetBytes(ec2.XCoord).FillBytes(out[1:33])
	new(big.Int).SetBytes(ec2.YCoord).FillBytes(out[33:])
	return out, nil
}

func dismissed(err error) bool {
	return errors.Is(err, ErrDismissed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
