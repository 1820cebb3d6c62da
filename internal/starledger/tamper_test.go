package starledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trustAll(string, string, string) bool { return true }

func filledChain(t *testing.T, n int) *Blockchain {
	t.Helper()
	bc := New(VerifierFunc(trustAll))
	for i := 0; i < n; i++ {
		msg := bc.RequestChallenge(context.Background(), "addr")
		_, err := bc.SubmitStar(context.Background(), "addr", msg, "sig", json.RawMessage(`{"n":1}`))
		require.NoError(t, err)
	}
	return bc
}

func TestValidate_tamperedBody(t *testing.T) {
	bc := filledChain(t, 3)

	body, err := EncodeBody(Claim{Address: "thief", Star: json.RawMessage(`{}`)})
	require.NoError(t, err)
	bc.blocks[2].Body = body

	findings := bc.Validate(context.Background())
	assert.Contains(t, findings, ValidationError{Height: 2, Kind: BadDigest})
	assert.NotContains(t, findings, ValidationError{Height: 3, Kind: BrokenLink},
		"the stored hash of block 2 is unchanged, so block 3 still links to it")
}

func TestValidate_tamperedLink(t *testing.T) {
	bc := filledChain(t, 3)
	bc.blocks[2].PreviousBlockHash = ZeroHash

	findings := bc.Validate(context.Background())
	assert.Contains(t, findings, ValidationError{Height: 2, Kind: BrokenLink})
	assert.Contains(t, findings, ValidationError{Height: 2, Kind: BadDigest})
}

func TestValidate_resealedBlockBreaksNextLink(t *testing.T) {
	bc := filledChain(t, 3)

	b := bc.blocks[1]
	b.Time++
	hash, err := b.CalculateHash()
	require.NoError(t, err)
	b.Hash = hash

	findings := bc.Validate(context.Background())
	assert.Equal(t, []ValidationError{{Height: 2, Kind: BrokenLink}}, findings)
}

func TestValidate_reportsEveryFinding(t *testing.T) {
	bc := filledChain(t, 4)
	bc.blocks[1].Time = 1
	bc.blocks[3].Time = 1

	findings := bc.Validate(context.Background())
	assert.Contains(t, findings, ValidationError{Height: 1, Kind: BadDigest})
	assert.Contains(t, findings, ValidationError{Height: 3, Kind: BadDigest})
}

func TestValidate_tamperedGenesis(t *testing.T) {
	bc := filledChain(t, 1)
	bc.blocks[0].PreviousBlockHash = "ff"

	findings := bc.Validate(context.Background())
	assert.Contains(t, findings, ValidationError{Height: 0, Kind: BrokenLink})
	assert.Contains(t, findings, ValidationError{Height: 0, Kind: BadDigest})
}

func TestAppend_corruptTip(t *testing.T) {
	bc := filledChain(t, 2)
	bc.blocks[2].Body = "00"

	_, err := bc.Append(context.Background(), "more")
	assert.ErrorIs(t, err, ErrChainCorrupt)
	assert.Len(t, bc.blocks, 3)

	msg := bc.RequestChallenge(context.Background(), "addr")
	_, err = bc.SubmitStar(context.Background(), "addr", msg, "sig", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrAppendFailed)
	assert.ErrorIs(t, err, ErrChainCorrupt)
}

func TestFindByHash_duplicate(t *testing.T) {
	bc := filledChain(t, 2)
	bc.blocks[2].Hash = bc.blocks[1].Hash

	_, err := bc.FindByHash(context.Background(), bc.blocks[1].Hash)
	assert.ErrorIs(t, err, ErrDuplicateHash)
}

func TestStarsByWalletAddress_corruptBodyAborts(t *testing.T) {
	bc := filledChain(t, 3)
	bc.blocks[2].Body = "zz-not-hex"

	stars, err := bc.StarsByWalletAddress(context.Background(), "addr")
	assert.ErrorIs(t, err, ErrCorruptBlock)
	assert.Nil(t, stars)
}

func TestStarsByWalletAddress_invalidJSONAborts(t *testing.T) {
	bc := filledChain(t, 1)
	bc.blocks[1].Body = "7b7b" // "{{"

	_, err := bc.StarsByWalletAddress(context.Background(), "addr")
	assert.ErrorIs(t, err, ErrCorruptBlock)
}

func TestStarsByWalletAddress_skipsGenesisCopies(t *testing.T) {
	bc := filledChain(t, 2)
	body, err := EncodeBody(GenesisData)
	require.NoError(t, err)
	bc.blocks[1].Body = body

	stars, err := bc.StarsByWalletAddress(context.Background(), "addr")
	require.NoError(t, err)
	assert.Len(t, stars, 1)
}

func TestChallengeTime(t *testing.T) {
	ts, err := challengeTime("addr:1700000000:starRegistry")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts)

	_, err = challengeTime("addr")
	assert.ErrorIs(t, err, ErrMalformedMessage)
}
