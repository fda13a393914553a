// Package signer verifies owner signatures over structured, domain-separated
// digests.
//
// # Digests
//
// A typed digest is Keccak-256(0x19 0x01 || domainSeparator || structHash).
// The domain separator binds the deployment (name, version, chain id and
// verifying address) so a signature produced for one registry can never be
// replayed against another. Struct hashes bind the action's type string and
// its fields; byte fields are hashed, integers and addresses are encoded as
// 32-byte big-endian words.
//
// # Accounts
//
// Two account kinds can sign:
//
//   - Keyed accounts hold a private key. Their address is the last 20 bytes of
//     Keccak-256(scheme || publicKey). A keyed signature is an envelope
//     scheme || publicKey || rawSignature; it is valid when the envelope key
//     derives the claimed address and the raw signature verifies.
//   - Callback accounts (multisig-style) hold no key. They are registered in an
//     AccountBook and decide validity themselves through IsValidSignature.
//
// Verifier picks the strategy by account kind so callers never branch on it.
package signer
