package starledger

import (
	"errors"
	"fmt"
)

// Append errors.
var (
	ErrChainCorrupt = errors.New("starledger: chain tip failed its integrity check")
)

// Claim errors. None of them leave a trace in the chain.
var (
	ErrMalformedMessage = errors.New("starledger: message has no valid timestamp")
	ErrClaimExpired     = errors.New("starledger: claim window has elapsed; request a new message")
	ErrSignatureInvalid = errors.New("starledger: signature does not prove ownership of the address")
	ErrAppendFailed     = errors.New("starledger: claim could not be appended")
)

// Lookup errors. ErrDuplicateHash and ErrCorruptBlock mean the chain itself
// is damaged.
var (
	ErrNotFound      = errors.New("starledger: block not found")
	ErrDuplicateHash = errors.New("starledger: more than one block with the same hash")
	ErrCorruptBlock  = errors.New("starledger: block body cannot be decoded")
)

// Body decode errors.
var (
	ErrNotInterpretable = errors.New("starledger: block body is not interpretable")
	ErrGenesisBlock     = fmt.Errorf("%w: genesis block", ErrNotInterpretable)
)

// ValidationKind classifies a chain validation finding.
type ValidationKind string

const (
	// BadDigest: the stored hash does not match the block content.
	BadDigest ValidationKind = "bad_digest"
	// BrokenLink: previousBlockHash does not match the preceding block's hash.
	BrokenLink ValidationKind = "broken_link"
)

// ValidationError is a single finding reported by Validate.
type ValidationError struct {
	Height int            `json:"height"`
	Kind   ValidationKind `json:"kind"`
}

func (e ValidationError) Error() string {
	switch e.Kind {
	case BadDigest:
		return fmt.Sprintf("block %d: hash does not match content", e.Height)
	case BrokenLink:
		return fmt.Sprintf("block %d: previous block hash does not link to block %d", e.Height, e.Height-1)
	default:
		return fmt.Sprintf("block %d: %s", e.Height, e.Kind)
	}
}
