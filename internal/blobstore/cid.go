package blobstore

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ContentID returns the CIDv1 of data using the raw codec and a SHA2-256
// multihash, the same form IPFS assigns to a raw-leaf upload.
func ContentID(data []byte) (string, error) {
	hash, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hashing payload: %w", err)
	}
	return cid.NewCidV1(cid.Raw, hash).String(), nil
}

// ParseContentID rejects strings that are not valid CIDs. Stores that use
// the ID as a file name or key rely on this.
func ParseContentID(id string) (cid.Cid, error) {
	c, err := cid.Decode(id)
	if err != nil {
		return cid.Undef, fmt.Errorf("invalid content id %q: %w", id, err)
	}
	return c, nil
}

// Verify reports whether data hashes to id under id's own prefix.
func Verify(id string, data []byte) error {
	want, err := ParseContentID(id)
	if err != nil {
		return err
	}
	got, err := want.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("hashing payload: %w", err)
	}
	if !got.Equals(want) {
		return fmt.Errorf("content does not match %s", id)
	}
	return nil
}
