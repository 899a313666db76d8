// Package keys loads and indexes trusted signer identities for the relay.
//
// A trusted-key directory holds one key file per signer. Each key file is a
// small indentation-sectioned text format:
//
//	metadata
//	    id = "alice"
//	ed
//	    verify-key = "<base64 ed25519 public key>"
//
// A Store scans the directory once at construction and serves lookups from an
// immutable Snapshot. Reload builds a fresh snapshot and swaps it in atomically,
// so readers never observe a partially rebuilt trust set.
//
// The package also carries the sender-side helpers used by tooling and tests:
// key generation, key-file writing (optionally including the signing seed),
// and Ed25519 signing in the relay's signature encoding.
package keys
