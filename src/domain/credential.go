package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Credential is the persisted metadata of a passkey. It never holds private
// key material; signing always goes back to the authenticator.
type Credential struct {
	ID              protocol.URLEncodedBase64         `json:"id"`
	PublicKey       hexutil.Bytes                     `json:"publicKey"`
	COSEKey         protocol.URLEncodedBase64         `json:"coseKey,omitempty"`
	AttestationType string                            `json:"attestationType,omitempty"`
	Transports      []protocol.AuthenticatorTransport `json:"transports,omitempty"`
	Flags           webauthn.CredentialFlags          `json:"flags"`
	Authenticator   webauthn.Authenticator            `json:"authenticator"`
	RPID            string                            `json:"rpId,omitempty"`
	CreatedAt       time.Time                         `json:"createdAt"`
}

// ToWebauthn converts the stored credential to webauthn.Credential
func (c *Credential) ToWebauthn() *webauthn.Credential {
	return &webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.COSEKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transports,
		Flags:           c.Flags,
		Authenticator:   c.Authenticator,
	}
}

// FromWebauthn fills the credential from webauthn.Credential. publicKey is the
// uncompressed P-256 point parsed from the COSE key.
func (c *Credential) FromWebauthn(wc *webauthn.Credential, publicKey []byte, rpID string) {
	c.ID = wc.ID
	c.PublicKey = publicKey
	c.COSEKey = wc.PublicKey
	c.AttestationType = wc.AttestationType
	c.Transports = wc.Transport
	c.Flags = wc.Flags
	c.Authenticator = wc.Authenticator
	c.RPID = rpID
}

func (c *Credential) IDString() string {
	return c.ID.String()
}
