// Package cidutil derives content identifiers for relayed event payloads.
//
// The identifier is an IPFS-compatible CIDv1 (raw codec + sha2-256) over the
// exact payload bytes, so a sender and every subscriber compute the same value
// for the same event.
package cidutil

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Sum returns the CIDv1 (raw + sha2-256) of payload.
func Sum(payload []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(payload, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// String is Sum rendered as a string, or "" when hashing fails.
// multihash.Sum only errors for invalid hash parameters, so "" is not expected
// in practice; log fields tolerate it.
func String(payload []byte) string {
	id, err := Sum(payload)
	if err != nil {
		return ""
	}
	return id.String()
}

// Matches reports whether s is the CID of payload.
func Matches(s string, payload []byte) bool {
	want, err := cid.Decode(s)
	if err != nil || !want.Defined() {
		return false
	}
	got, err := Sum(payload)
	if err != nil {
		return false
	}
	return got.Equals(want)
}
