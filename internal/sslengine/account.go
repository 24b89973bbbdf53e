package sslengine

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/registration"

	"github.com/odac-run/odac/internal/store"
)

// acmeUser implements lego's registration.User, backed by a key persisted in
// the operational store rather than a file on disk.
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          *ecdsa.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// loadOrCreateAccount returns the persisted ACME account, generating and
// saving a fresh EC account key if none exists yet.
func loadOrCreateAccount(ops *store.Store, email string) (*acmeUser, error) {
	saved, ok, err := ops.GetACMEAccount()
	if err != nil {
		return nil, err
	}
	if ok && len(saved.KeyPEM) > 0 {
		key, err := certcrypto.ParsePEMPrivateKey(saved.KeyPEM)
		if err == nil {
			if ecKey, ok := key.(*ecdsa.PrivateKey); ok {
				u := &acmeUser{email: saved.Email, key: ecKey}
				if len(saved.Registration) > 0 {
					var reg registration.Resource
					if err := json.Unmarshal(saved.Registration, &reg); err == nil {
						u.registration = &reg
					}
				}
				return u, nil
			}
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	u := &acmeUser{email: email, key: key}
	if err := saveAccount(ops, u); err != nil {
		return nil, err
	}
	return u, nil
}

func saveAccount(ops *store.Store, u *acmeUser) error {
	acct := store.ACMEAccount{
		Email:  u.email,
		KeyPEM: certcrypto.PEMEncode(u.key),
	}
	if u.registration != nil {
		regJSON, err := json.Marshal(u.registration)
		if err == nil {
			acct.Registration = regJSON
		}
	}
	return ops.SaveACMEAccount(acct)
}
