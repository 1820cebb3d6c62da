package starledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Blockchain is an in-memory, thread-safe Ledger. Appends are serialised
// under an exclusive lock; reads share a read lock and only ever see fully
// sealed blocks.
type Blockchain struct {
	mu     sync.RWMutex
	blocks []*Block

	verifier Verifier
	now      func() time.Time
	window   time.Duration
	onAppend func(*Block)
	logger   *zap.Logger
}

// Option configures a Blockchain.
type Option func(*Blockchain)

// WithClock replaces the wall clock used for block times and claim windows.
func WithClock(now func() time.Time) Option {
	return func(bc *Blockchain) { bc.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(bc *Blockchain) { bc.logger = logger }
}

// WithClaimWindow overrides DefaultClaimWindow. Windows are counted in whole
// seconds; values under one second are ignored.
func WithClaimWindow(d time.Duration) Option {
	return func(bc *Blockchain) {
		if d >= time.Second {
			bc.window = d
		}
	}
}

// WithAppendHook registers fn to be called with a copy of every block
// appended after genesis. fn runs under the append lock, so hooks observe
// blocks in height order; it must not call back into the Blockchain.
func WithAppendHook(fn func(*Block)) Option {
	return func(bc *Blockchain) { bc.onAppend = fn }
}

// New creates a Blockchain holding only the genesis block.
// verifier checks claim signatures; it may be nil only if SubmitStar is never called.
func New(verifier Verifier, opts ...Option) *Blockchain {
	bc := &Blockchain{
		verifier: verifier,
		now:      time.Now,
		window:   DefaultClaimWindow,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(bc)
	}

	body, err := EncodeBody(GenesisData)
	if err != nil {
		panic(fmt.Sprintf("starledger: encode genesis body: %v", err))
	}
	genesis, err := Seal(body, 0, ZeroHash, bc.now().Unix())
	if err != nil {
		panic(fmt.Sprintf("starledger: seal genesis block: %v", err))
	}
	bc.blocks = append(bc.blocks, genesis)
	return bc
}

// Height implements Ledger.
func (bc *Blockchain) Height(_ context.Context) int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.blocks) - 1
}

// Root implements Ledger.
func (bc *Blockchain) Root(_ context.Context) string {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.blocks[len(bc.blocks)-1].Hash
}

// Append implements Ledger. The current tip is re-verified before anything
// is chained to it; a tip that fails its own hash check yields ErrChainCorrupt.
func (bc *Blockchain) Append(_ context.Context, data any) (*Block, error) {
	body, err := EncodeBody(data)
	if err != nil {
		return nil, err
	}

	bc.mu.Lock()
	tip := bc.blocks[len(bc.blocks)-1]
	if !tip.VerifyIntegrity() {
		bc.mu.Unlock()
		bc.logger.Error("refusing to append to corrupt chain tip",
			zap.Int("height", tip.Height),
			zap.String("hash", tip.Hash),
		)
		return nil, fmt.Errorf("%w: block %d", ErrChainCorrupt, tip.Height)
	}

	block, err := Seal(body, len(bc.blocks), tip.Hash, bc.now().Unix())
	if err != nil {
		bc.mu.Unlock()
		return nil, fmt.Errorf("seal block: %w", err)
	}
	bc.blocks = append(bc.blocks, block)
	cp := *block
	if bc.onAppend != nil {
		hooked := cp
		bc.onAppend(&hooked)
	}
	bc.mu.Unlock()

	bc.logger.Debug("block appended",
		zap.Int("height", cp.Height),
		zap.String("hash", cp.Hash),
	)
	return &cp, nil
}

// RequestChallenge implements Ledger.
func (bc *Blockchain) RequestChallenge(_ context.Context, address string) string {
	return ChallengeMessage(address, bc.now())
}

// SubmitStar implements Ledger. The returned error matches exactly one of
// ErrMalformedMessage, ErrClaimExpired, ErrSignatureInvalid or ErrAppendFailed.
func (bc *Blockchain) SubmitStar(ctx context.Context, address, message, signature string, star json.RawMessage) (*Block, error) {
	issued, err := challengeTime(message)
	if err != nil {
		bc.logger.Info("star claim rejected", zap.String("address", address), zap.Error(err))
		return nil, err
	}

	// Compared against the deadline so far-past timestamps cannot overflow.
	if deadline := bc.now().Unix() - int64(bc.window/time.Second); issued <= deadline {
		bc.logger.Info("star claim rejected: window elapsed",
			zap.String("address", address),
			zap.Int64("issued_at", issued),
		)
		return nil, fmt.Errorf("%w: message issued at %d", ErrClaimExpired, issued)
	}

	if bc.verifier == nil || !bc.verifier.Verify(message, address, signature) {
		bc.logger.Info("star claim rejected: bad signature", zap.String("address", address))
		return nil, ErrSignatureInvalid
	}

	block, err := bc.Append(ctx, Claim{
		Address:   address,
		Message:   message,
		Signature: signature,
		Star:      star,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}

	bc.logger.Info("star registered",
		zap.String("address", address),
		zap.Int("height", block.Height),
		zap.String("hash", block.Hash),
	)
	return block, nil
}

// FindByHash implements Ledger.
func (bc *Blockchain) FindByHash(_ context.Context, hash string) (*Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	var found []*Block
	for _, b := range bc.blocks {
		if b.Hash == hash {
			found = append(found, b)
		}
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: hash %s", ErrNotFound, hash)
	case 1:
		cp := *found[0]
		return &cp, nil
	default:
		bc.logger.Error("duplicate block hash in chain",
			zap.String("hash", hash),
			zap.Int("count", len(found)),
		)
		return nil, fmt.Errorf("%w: %d blocks share hash %s", ErrDuplicateHash, len(found), hash)
	}
}

// FindByHeight implements Ledger.
func (bc *Blockchain) FindByHeight(_ context.Context, height int) (*Block, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if height < 0 || height >= len(bc.blocks) {
		return nil, false
	}
	cp := *bc.blocks[height]
	return &cp, true
}

// Blocks implements Ledger.
func (bc *Blockchain) Blocks(_ context.Context, from, limit int) []*Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if limit <= 0 || from >= len(bc.blocks) {
		return []*Block{}
	}
	end := min(from+limit, len(bc.blocks))
	out := make([]*Block, 0, end-from)
	for _, b := range bc.blocks[from:end] {
		cp := *b
		out = append(out, &cp)
	}
	return out
}

// StarsByWalletAddress implements Ledger. The scan is all-or-nothing: a
// block whose body cannot be decoded aborts it with ErrCorruptBlock.
func (bc *Blockchain) StarsByWalletAddress(_ context.Context, address string) ([]json.RawMessage, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	stars := []json.RawMessage{}
	for _, b := range bc.blocks[1:] {
		data, err := b.Data()
		if errors.Is(err, ErrGenesisBlock) {
			continue
		}
		if err != nil {
			bc.logger.Error("corrupt block body",
				zap.Int("height", b.Height),
				zap.String("hash", b.Hash),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: block %d: %v", ErrCorruptBlock, b.Height, err)
		}

		var c Claim
		if err := json.Unmarshal(data, &c); err != nil {
			// Valid JSON that is not an object holds no claim.
			continue
		}
		if c.Address != "" && c.Address == address {
			stars = append(stars, c.Star)
		}
	}
	return stars, nil
}

// Validate implements Ledger.
func (bc *Blockchain) Validate(_ context.Context) []ValidationError {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	findings := []ValidationError{}
	expected := ZeroHash
	for i, b := range bc.blocks {
		if !b.VerifyIntegrity() {
			findings = append(findings, ValidationError{Height: i, Kind: BadDigest})
		}
		if b.PreviousBlockHash != expected {
			findings = append(findings, ValidationError{Height: i, Kind: BrokenLink})
		}
		expected = b.Hash
	}

	if len(findings) > 0 {
		bc.logger.Warn("chain validation found problems", zap.Int("findings", len(findings)))
	}
	return findings
}
