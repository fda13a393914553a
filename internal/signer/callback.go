package signer

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	id "keyregistry/pkg/domain"
)

// CallbackAccount is an account without a private key that decides for itself
// whether a signature is valid, in the manner of a multisig wallet.
type CallbackAccount interface {
	IsValidSignature(ctx context.Context, digest Digest, signature []byte) bool
}

// AccountBook holds the registered callback accounts.
type AccountBook struct {
	mu       sync.RWMutex
	accounts map[id.Address]CallbackAccount
}

func NewAccountBook() *AccountBook {
	return &AccountBook{accounts: make(map[id.Address]CallbackAccount)}
}

// Register binds a callback account to an address. Re-registering replaces it.
func (b *AccountBook) Register(addr id.Address, account CallbackAccount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[addr] = account
}

// Lookup returns the callback account at addr, if any.
func (b *AccountBook) Lookup(addr id.Address) (CallbackAccount, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.accounts[addr]
	return a, ok
}

// ThresholdAccount accepts a signature when at least Threshold distinct
// members signed the digest. The signature is a CBOR array of keyed
// envelopes.
type ThresholdAccount struct {
	members   map[id.Address]struct{}
	threshold int
}

// NewThresholdAccount builds an m-of-n account over keyed member addresses.
func NewThresholdAccount(threshold int, members ...id.Address) (*ThresholdAccount, error) {
	if threshold <= 0 || threshold > len(members) {
		return nil, fmt.Errorf("threshold %d out of range for %d members", threshold, len(members))
	}
	set := make(map[id.Address]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	if len(set) != len(members) {
		return nil, fmt.Errorf("duplicate threshold account member")
	}
	return &ThresholdAccount{members: set, threshold: threshold}, nil
}

func (a *ThresholdAccount) IsValidSignature(_ context.Context, digest Digest, signature []byte) bool {
	var envelopes [][]byte
	if err := cbor.Unmarshal(signature, &envelopes); err != nil {
		return false
	}
	seen := make(map[id.Address]struct{}, len(envelopes))
	for _, raw := range envelopes {
		env, err := ParseEnvelope(raw)
		if err != nil {
			return false
		}
		addr := env.Address()
		if _, member := a.members[addr]; !member {
			return false
		}
		if !verifyKeyed(addr, digest, raw) {
			return false
		}
		seen[addr] = struct{}{}
	}
	return len(seen) >= a.threshold
}

// EncodeThresholdSignature packs member envelopes for a ThresholdAccount.
func EncodeThresholdSignature(envelopes ...[]byte) ([]byte, error) {
	return cbor.Marshal(envelopes)
}
