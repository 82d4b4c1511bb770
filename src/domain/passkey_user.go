package domain

import (
	"github.com/go-webauthn/webauthn/webauthn"
)

// PasskeyUser implements the webauthn.User interface for one ceremony.
type PasskeyUser struct {
	ID          []byte
	Name        string
	Credentials []Credential

	webauthnCredentials []webauthn.Credential
}

func (u *PasskeyUser) WebAuthnID() []byte {
	return u.ID
}

func (u *PasskeyUser) WebAuthnName() string {
	return u.Name
}

func (u *PasskeyUser) WebAuthnDisplayName() string {
	return u.Name
}

func (u *PasskeyUser) WebAuthnCredentials() []webauthn.Credential {
	if u.webauthnCredentials == nil {
		u.webauthnCredentials = make([]webauthn.Credential, 0, len(u.Credentials))
		for i := range u.Credentials {
			u.webauthnCredentials = append(u.webauthnCredentials, *u.Credentials[i].ToWebauthn())
		}
	}
	return u.webauthnCredentials
}
