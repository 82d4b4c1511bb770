package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// WebAuthnSignature is a verified passkey assertion, split into the pieces the
// on-chain WebAuthn verifier needs.
type WebAuthnSignature struct {
	AuthenticatorData hexutil.Bytes `json:"authenticatorData"`
	ClientDataJSON    string        `json:"clientDataJSON"`
	ChallengeIndex    int           `json:"challengeIndex"`
	TypeIndex         int           `json:"typeIndex"`
	R                 *hexutil.Big  `json:"r"`
	S                 *hexutil.Big  `json:"s"`
}

func (s *WebAuthnSignature) RS() (*big.Int, *big.Int) {
	return s.R.ToInt(), s.S.ToInt()
}

type SignFunc func(ctx context.Context, challenge []byte) (*WebAuthnSignature, error)

type Key struct {
	ID         string        `json:"id"`
	PublicKey  hexutil.Bytes `json:"publicKey"`
	Credential *Credential   `json:"credential,omitempty"`
}

// Account is a passkey-owned smart account. Sign is bound at runtime and is
// never persisted.
type Account struct {
	Address common.Address `json:"address"`
	Version string         `json:"version,omitempty"`
	Key     Key            `json:"key"`
	Sign    SignFunc       `json:"-"`
}

// Stripped returns a copy without the live signing handle.
func (a Account) Stripped() Account {
	a.Sign = nil
	if a.Key.Credential != nil {
		c := *a.Key.Credential
		a.Key.Credential = &c
	}
	a.Key.PublicKey = append(hexutil.Bytes{}, a.Key.PublicKey...)
	return a
}

func FindAccount(accounts []Account, addr common.Address) (Account, bool) {
	for _, a := range accounts {
		if a.Address == addr {
			return a, true
		}
	}
	return Account{}, false
}

// AccountsEqual compares accounts by address and key id, ignoring signing handles.
func AccountsEqual(a, b []Account) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Address != b[i].Address || a[i].Key.ID != b[i].Key.ID {
			return false
		}
	}
	return true
}
