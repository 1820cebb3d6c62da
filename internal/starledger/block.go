package starledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ZeroHash is the previous-block hash carried by the genesis block.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// maxSafeInteger is the largest integer RFC 8785 number serialization keeps
// exact. Larger heights or times could collide with their neighbours.
const maxSafeInteger = 1<<53 - 1

// GenesisData is the body value of the genesis block. It carries no claim.
const GenesisData = "Genesis Block"

// Block is a single sealed, hash-linked record in the chain.
type Block struct {
	Hash              string `json:"hash"`
	Height            int    `json:"height"`
	Body              string `json:"body"` // hex(JSON(data))
	Time              int64  `json:"time"` // unix seconds
	PreviousBlockHash string `json:"previousBlockHash"`
}

// hashView is the block as it is hashed: every field except Hash.
type hashView struct {
	Body              string `json:"body"`
	Height            int    `json:"height"`
	PreviousBlockHash string `json:"previousBlockHash"`
	Time              int64  `json:"time"`
}

// EncodeBody serialises v to JSON and hex-encodes it.
func EncodeBody(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal block data: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Seal builds a block from an encoded body and its linkage fields and
// stamps it with its own hash.
func Seal(body string, height int, prev string, at int64) (*Block, error) {
	b := &Block{
		Height:            height,
		Body:              body,
		Time:              at,
		PreviousBlockHash: prev,
	}
	hash, err := b.CalculateHash()
	if err != nil {
		return nil, err
	}
	b.Hash = hash
	return b, nil
}

// CalculateHash returns the SHA-256 of the block's RFC 8785 canonical JSON
// form with the hash field left out.
func (b *Block) CalculateHash() (string, error) {
	if b.Height < 0 || int64(b.Height) > maxSafeInteger {
		return "", fmt.Errorf("block height %d outside the hashable range", b.Height)
	}
	if b.Time < -maxSafeInteger || b.Time > maxSafeInteger {
		return "", fmt.Errorf("block time %d outside the hashable range", b.Time)
	}
	raw, err := json.Marshal(hashView{
		Body:              b.Body,
		Height:            b.Height,
		PreviousBlockHash: b.PreviousBlockHash,
		Time:              b.Time,
	})
	if err != nil {
		return "", fmt.Errorf("marshal block: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize block: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyIntegrity reports whether the stored hash matches the block content.
// It does not look at linkage.
func (b *Block) VerifyIntegrity() bool {
	if b.Hash == "" {
		return false
	}
	hash, err := b.CalculateHash()
	if err != nil {
		return false
	}
	return hash == b.Hash
}

// Data decodes the block body. The genesis body decodes but is reported as
// ErrGenesisBlock since it holds no claim.
func (b *Block) Data() (json.RawMessage, error) {
	raw, err := hex.DecodeString(b.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: body is not hex: %v", ErrNotInterpretable, err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrNotInterpretable)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s == GenesisData {
		return nil, ErrGenesisBlock
	}
	return json.RawMessage(raw), nil
}

// Claim decodes the block body as a star claim.
func (b *Block) Claim() (*Claim, error) {
	data, err := b.Data()
	if err != nil {
		return nil, err
	}
	var c Claim
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInterpretable, err)
	}
	if c.Address == "" {
		return nil, fmt.Errorf("%w: claim has no address", ErrNotInterpretable)
	}
	return &c, nil
}
