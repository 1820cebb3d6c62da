package starledger

import (
	"context"
	"encoding/json"
)

// Ledger is the interface of the star registry chain consumed by the HTTP
// layer. *Blockchain implements it.
type Ledger interface {
	// Height returns the height of the chain tip (0 when only genesis exists).
	Height(ctx context.Context) int

	// Root returns the hash of the chain tip.
	Root(ctx context.Context) string

	// Append seals data into a new block chained to the current tip.
	Append(ctx context.Context, data any) (*Block, error)

	// RequestChallenge returns the message an address owner must sign.
	RequestChallenge(ctx context.Context, address string) string

	// SubmitStar admits a signed star claim and returns the block holding it.
	SubmitStar(ctx context.Context, address, message, signature string, star json.RawMessage) (*Block, error)

	// FindByHash returns the unique block with the given hash.
	FindByHash(ctx context.Context, hash string) (*Block, error)

	// FindByHeight returns the block at height, or false if there is none.
	FindByHeight(ctx context.Context, height int) (*Block, bool)

	// Blocks returns up to limit blocks starting at height from.
	Blocks(ctx context.Context, from, limit int) []*Block

	// StarsByWalletAddress returns the stars claimed by address in chain order.
	StarsByWalletAddress(ctx context.Context, address string) ([]json.RawMessage, error)

	// Validate walks the whole chain and returns every finding.
	// An empty result means the chain is intact.
	Validate(ctx context.Context) []ValidationError
}
