package signer

import (
	"context"

	id "keyregistry/pkg/domain"
)

// Verifier answers "did addr sign digest". Implementations fail closed: any
// malformed input is a plain false, never an error.
type Verifier interface {
	Verify(ctx context.Context, addr id.Address, digest Digest, signature []byte) bool
}

// AccountVerifier dispatches on account kind: registered callback accounts
// decide for themselves, every other address is treated as keyed.
type AccountVerifier struct {
	callbacks *AccountBook
}

// NewAccountVerifier builds a verifier. A nil book means keyed accounts only.
func NewAccountVerifier(callbacks *AccountBook) *AccountVerifier {
	return &AccountVerifier{callbacks: callbacks}
}

func (v *AccountVerifier) Verify(ctx context.Context, addr id.Address, digest Digest, signature []byte) bool {
	if addr.IsZero() || len(signature) == 0 {
		return false
	}
	if v.callbacks != nil {
		if account, ok := v.callbacks.Lookup(addr); ok {
			return account.IsValidSignature(ctx, digest, signature)
		}
	}
	return verifyKeyed(addr, digest, signature)
}
