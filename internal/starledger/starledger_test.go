package starledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jmerrifield20/StarRegistry/internal/bitcoinmsg"
	"github.com/jmerrifield20/StarRegistry/internal/starledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

var epoch = time.Unix(1_700_000_000, 0)

// fixedClock returns a clock frozen at t that can be moved with set.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newChain(t *testing.T, opts ...starledger.Option) (*starledger.Blockchain, *fixedClock) {
	t.Helper()
	clock := &fixedClock{t: epoch}
	opts = append([]starledger.Option{starledger.WithClock(clock.now)}, opts...)
	return starledger.New(bitcoinmsg.NewVerifier(&chaincfg.MainNetParams), opts...), clock
}

func newWallet(t *testing.T) *bitcoinmsg.Key {
	t.Helper()
	k, err := bitcoinmsg.NewKey(&chaincfg.MainNetParams)
	require.NoError(t, err)
	return k
}

// claim runs the full challenge/sign/submit flow for star.
func claim(t *testing.T, bc *starledger.Blockchain, k *bitcoinmsg.Key, star string) *starledger.Block {
	t.Helper()
	addr := k.P2PKH.EncodeAddress()
	msg := bc.RequestChallenge(ctx, addr)
	sig, err := k.SignMessage(msg)
	require.NoError(t, err)
	b, err := bc.SubmitStar(ctx, addr, msg, sig, json.RawMessage(star))
	require.NoError(t, err)
	return b
}

func TestNew_genesisBlock(t *testing.T) {
	bc, _ := newChain(t)

	assert.Equal(t, 0, bc.Height(ctx))

	genesis, ok := bc.FindByHeight(ctx, 0)
	require.True(t, ok)
	assert.Equal(t, starledger.ZeroHash, genesis.PreviousBlockHash)
	assert.Equal(t, epoch.Unix(), genesis.Time)
	assert.True(t, genesis.VerifyIntegrity())
	assert.Equal(t, genesis.Hash, bc.Root(ctx))

	_, err := genesis.Data()
	assert.ErrorIs(t, err, starledger.ErrGenesisBlock)
	assert.ErrorIs(t, err, starledger.ErrNotInterpretable)
}

func TestAppend_chainsCorrectly(t *testing.T) {
	bc, _ := newChain(t)

	b1, err := bc.Append(ctx, map[string]string{"key": "val"})
	require.NoError(t, err)
	b2, err := bc.Append(ctx, nil)
	require.NoError(t, err)

	genesis, _ := bc.FindByHeight(ctx, 0)
	assert.Equal(t, genesis.Hash, b1.PreviousBlockHash)
	assert.Equal(t, b1.Hash, b2.PreviousBlockHash)
	assert.Equal(t, 1, b1.Height)
	assert.Equal(t, 2, b2.Height)
	assert.Equal(t, 2, bc.Height(ctx))
	assert.Equal(t, b2.Hash, bc.Root(ctx))
}

func TestAppend_monotonic(t *testing.T) {
	bc, _ := newChain(t)
	const n = 25
	for i := 0; i < n; i++ {
		b, err := bc.Append(ctx, i)
		require.NoError(t, err)
		assert.True(t, b.VerifyIntegrity(), "block %d", i+1)
	}

	require.Equal(t, n, bc.Height(ctx))
	for i := 1; i <= n; i++ {
		prev, _ := bc.FindByHeight(ctx, i-1)
		curr, _ := bc.FindByHeight(ctx, i)
		assert.Equal(t, prev.Hash, curr.PreviousBlockHash, "block %d", i)
		assert.Equal(t, i, curr.Height)
	}
	assert.Empty(t, bc.Validate(ctx))
}

func TestAppend_returnsCopy(t *testing.T) {
	bc, _ := newChain(t)
	b, err := bc.Append(ctx, "x")
	require.NoError(t, err)

	b.Body = "00"
	assert.Empty(t, bc.Validate(ctx), "mutating a returned block must not touch the chain")
}

func TestAppend_unencodableData(t *testing.T) {
	bc, _ := newChain(t)
	_, err := bc.Append(ctx, make(chan int))
	assert.Error(t, err)
	assert.Equal(t, 0, bc.Height(ctx))
}

func TestAppend_hook(t *testing.T) {
	var seen []int
	bc, _ := newChain(t, starledger.WithAppendHook(func(b *starledger.Block) {
		seen = append(seen, b.Height)
	}))
	_, _ = bc.Append(ctx, 1)
	_, _ = bc.Append(ctx, 2)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestAppend_hookSeesHeightOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	bc, _ := newChain(t, starledger.WithAppendHook(func(b *starledger.Block) {
		mu.Lock()
		seen = append(seen, b.Height)
		mu.Unlock()
	}))

	const k = 64
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = bc.Append(ctx, i)
		}(i)
	}
	wg.Wait()

	require.Len(t, seen, k)
	for i, h := range seen {
		assert.Equal(t, i+1, h, "hook call %d out of order", i)
	}
}

func TestAppend_concurrentSerialised(t *testing.T) {
	bc, _ := newChain(t)
	const k = 64

	var wg sync.WaitGroup
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := bc.Append(ctx, map[string]int{"n": i}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("append: %v", err)
	}

	require.Equal(t, k, bc.Height(ctx))
	seen := make(map[string]bool)
	for i, b := range bc.Blocks(ctx, 0, k+1) {
		assert.Equal(t, i, b.Height)
		assert.False(t, seen[b.Hash], "duplicate hash at %d", i)
		seen[b.Hash] = true
	}
	assert.Empty(t, bc.Validate(ctx))
}

func TestRequestChallenge_format(t *testing.T) {
	bc, _ := newChain(t)
	msg := bc.RequestChallenge(ctx, "1BoatSLRHtKNngkdXEeobR76b53LETtpyT")
	assert.Equal(t, fmt.Sprintf("1BoatSLRHtKNngkdXEeobR76b53LETtpyT:%d:starRegistry", epoch.Unix()), msg)
}

func TestSubmitStar_success(t *testing.T) {
	bc, _ := newChain(t)
	k := newWallet(t)

	b := claim(t, bc, k, `{"dec":"68° 52' 56.9","ra":"16h 29m 1.0s","story":"first"}`)
	assert.Equal(t, 1, b.Height)

	c, err := b.Claim()
	require.NoError(t, err)
	assert.Equal(t, k.P2PKH.EncodeAddress(), c.Address)
	assert.JSONEq(t, `{"dec":"68° 52' 56.9","ra":"16h 29m 1.0s","story":"first"}`, string(c.Star))
	assert.Empty(t, bc.Validate(ctx))
}

func TestSubmitStar_claimWindow(t *testing.T) {
	k := newWallet(t)
	addr := k.P2PKH.EncodeAddress()

	cases := []struct {
		age     time.Duration
		wantErr error
	}{
		{age: 0},
		{age: 299 * time.Second},
		{age: 300 * time.Second, wantErr: starledger.ErrClaimExpired},
		{age: time.Hour, wantErr: starledger.ErrClaimExpired},
	}
	for _, tc := range cases {
		t.Run(tc.age.String(), func(t *testing.T) {
			bc, clock := newChain(t)
			msg := bc.RequestChallenge(ctx, addr)
			sig, err := k.SignMessage(msg)
			require.NoError(t, err)

			clock.set(epoch.Add(tc.age))
			_, err = bc.SubmitStar(ctx, addr, msg, sig, json.RawMessage(`{"story":"x"}`))
			if tc.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, 1, bc.Height(ctx))
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, 0, bc.Height(ctx))
		})
	}
}

func TestSubmitStar_customWindow(t *testing.T) {
	bc, clock := newChain(t, starledger.WithClaimWindow(time.Minute))
	k := newWallet(t)
	addr := k.P2PKH.EncodeAddress()
	msg := bc.RequestChallenge(ctx, addr)
	sig, _ := k.SignMessage(msg)

	clock.set(epoch.Add(time.Minute))
	_, err := bc.SubmitStar(ctx, addr, msg, sig, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, starledger.ErrClaimExpired)
}

func TestSubmitStar_farPastTimestampExpires(t *testing.T) {
	trusting := starledger.VerifierFunc(func(string, string, string) bool { return true })
	bc := starledger.New(trusting, starledger.WithClock(func() time.Time { return epoch }))

	for _, ts := range []int64{math.MinInt64, -1, 0, epoch.Unix() - 300} {
		msg := fmt.Sprintf("addr:%d:starRegistry", ts)
		_, err := bc.SubmitStar(ctx, "addr", msg, "sig", json.RawMessage(`{}`))
		assert.ErrorIs(t, err, starledger.ErrClaimExpired, "timestamp %d", ts)
	}
	assert.Equal(t, 0, bc.Height(ctx))
}

func TestWithClaimWindow_subSecondIgnored(t *testing.T) {
	bc, clock := newChain(t, starledger.WithClaimWindow(500*time.Millisecond))
	k := newWallet(t)
	addr := k.P2PKH.EncodeAddress()
	msg := bc.RequestChallenge(ctx, addr)
	sig, err := k.SignMessage(msg)
	require.NoError(t, err)

	clock.set(epoch.Add(299 * time.Second))
	_, err = bc.SubmitStar(ctx, addr, msg, sig, json.RawMessage(`{}`))
	assert.NoError(t, err)
}

func TestSeal_integerRange(t *testing.T) {
	body, err := starledger.EncodeBody("x")
	require.NoError(t, err)

	_, err = starledger.Seal(body, 0, starledger.ZeroHash, 1<<53)
	assert.Error(t, err)
	_, err = starledger.Seal(body, 0, starledger.ZeroHash, -(1 << 53))
	assert.Error(t, err)

	b, err := starledger.Seal(body, 1, starledger.ZeroHash, 1<<53-1)
	require.NoError(t, err)
	assert.True(t, b.VerifyIntegrity())

	// 2^53+1 is not representable as a double and would serialize as 2^53.
	b.Time = 1<<53 + 1
	assert.False(t, b.VerifyIntegrity())
}

func TestSubmitStar_malformedMessage(t *testing.T) {
	bc, _ := newChain(t)
	for _, msg := range []string{"", "no-colons", "addr:notanumber:starRegistry", "addr::starRegistry"} {
		_, err := bc.SubmitStar(ctx, "addr", msg, "sig", json.RawMessage(`{}`))
		assert.ErrorIs(t, err, starledger.ErrMalformedMessage, "message %q", msg)
	}
	assert.Equal(t, 0, bc.Height(ctx))
}

func TestSubmitStar_signatureInvalid(t *testing.T) {
	bc, _ := newChain(t)
	signer := newWallet(t)
	victim := newWallet(t)

	addr := victim.P2PKH.EncodeAddress()
	msg := bc.RequestChallenge(ctx, addr)
	sig, err := signer.SignMessage(msg) // well-formed, wrong key
	require.NoError(t, err)

	_, err = bc.SubmitStar(ctx, addr, msg, sig, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, starledger.ErrSignatureInvalid)
	assert.Equal(t, 0, bc.Height(ctx))
}

func TestSubmitStar_nilVerifierRejects(t *testing.T) {
	bc := starledger.New(nil)
	msg := bc.RequestChallenge(ctx, "addr")
	_, err := bc.SubmitStar(ctx, "addr", msg, "sig", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, starledger.ErrSignatureInvalid)
}

func TestSubmitStar_verifierFunc(t *testing.T) {
	var got []string
	bc := starledger.New(starledger.VerifierFunc(func(message, address, signature string) bool {
		got = []string{message, address, signature}
		return true
	}))
	msg := bc.RequestChallenge(ctx, "addr")
	_, err := bc.SubmitStar(ctx, "addr", msg, "sig", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, []string{msg, "addr", "sig"}, got)
}

func TestSubmitStar_invalidStarIsAppendFailure(t *testing.T) {
	bc := starledger.New(starledger.VerifierFunc(func(string, string, string) bool { return true }))
	msg := bc.RequestChallenge(ctx, "addr")
	_, err := bc.SubmitStar(ctx, "addr", msg, "sig", json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, starledger.ErrAppendFailed)
	assert.Equal(t, 0, bc.Height(ctx))
}

func TestFindByHash(t *testing.T) {
	bc, _ := newChain(t)
	b, err := bc.Append(ctx, "payload")
	require.NoError(t, err)

	found, err := bc.FindByHash(ctx, b.Hash)
	require.NoError(t, err)
	assert.Equal(t, b, found)

	_, err = bc.FindByHash(ctx, "deadbeef")
	assert.ErrorIs(t, err, starledger.ErrNotFound)
}

func TestFindByHeight_outOfRange(t *testing.T) {
	bc, _ := newChain(t)
	_, ok := bc.FindByHeight(ctx, bc.Height(ctx)+1)
	assert.False(t, ok)
	_, ok = bc.FindByHeight(ctx, -1)
	assert.False(t, ok)
}

func TestBlocks_paging(t *testing.T) {
	bc, _ := newChain(t)
	for i := 0; i < 5; i++ {
		_, _ = bc.Append(ctx, i)
	}

	page := bc.Blocks(ctx, 2, 2)
	require.Len(t, page, 2)
	assert.Equal(t, 2, page[0].Height)
	assert.Equal(t, 3, page[1].Height)

	assert.Len(t, bc.Blocks(ctx, 4, 10), 2)
	assert.Empty(t, bc.Blocks(ctx, 6, 10))
	assert.Empty(t, bc.Blocks(ctx, 0, 0))
	assert.Len(t, bc.Blocks(ctx, -3, 1), 1)
}

func TestStarsByWalletAddress(t *testing.T) {
	bc, _ := newChain(t)
	a := newWallet(t)
	b := newWallet(t)

	claim(t, bc, a, `{"story":"a1"}`)
	claim(t, bc, b, `{"story":"b1"}`)
	claim(t, bc, a, `{"story":"a2"}`)
	_, err := bc.Append(ctx, []int{1, 2, 3}) // not a claim
	require.NoError(t, err)

	stars, err := bc.StarsByWalletAddress(ctx, a.P2PKH.EncodeAddress())
	require.NoError(t, err)
	require.Len(t, stars, 2)
	assert.JSONEq(t, `{"story":"a1"}`, string(stars[0]))
	assert.JSONEq(t, `{"story":"a2"}`, string(stars[1]))

	stars, err = bc.StarsByWalletAddress(ctx, b.P2PKH.EncodeAddress())
	require.NoError(t, err)
	assert.Len(t, stars, 1)

	stars, err = bc.StarsByWalletAddress(ctx, "C")
	require.NoError(t, err)
	assert.Empty(t, stars)
	assert.NotNil(t, stars)
}

func TestValidate_intactAfterClaims(t *testing.T) {
	bc, _ := newChain(t)
	k := newWallet(t)
	for i := 0; i < 3; i++ {
		claim(t, bc, k, fmt.Sprintf(`{"n":%d}`, i))
	}
	assert.Empty(t, bc.Validate(ctx))
}

func TestValidationError_message(t *testing.T) {
	var err error = starledger.ValidationError{Height: 3, Kind: starledger.BrokenLink}
	assert.Contains(t, err.Error(), "block 3")

	var ve starledger.ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, starledger.BrokenLink, ve.Kind)
}
