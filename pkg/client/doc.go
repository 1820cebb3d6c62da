// Package client is the Go SDK for the star registry HTTP API.
//
// # Claiming a star
//
// A claim is a three-step exchange: ask the registry for a challenge, sign it
// with the wallet key that controls the address, then submit the signature
// together with the star data before the claim window closes:
//
//	c, _ := client.New("http://localhost:8000")
//	msg, err := c.RequestChallenge(ctx, address)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sig := signWithWallet(msg) // base64 Bitcoin signed-message signature
//	block, err := c.SubmitStar(ctx, client.SubmitStarRequest{
//	    Address:   address,
//	    Message:   msg,
//	    Signature: sig,
//	    Star:      map[string]string{"ra": "16h 29m 1.0s", "dec": "68° 52' 56.9", "story": "..."},
//	})
//
// Rejected claims return an *APIError. Its Code tells which step to repeat:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Code == "expired" {
//	    // request a fresh challenge
//	}
//
// # Reading the chain
//
// Overview, Validate, Blocks, BlockByHeight, BlockByHash and StarsByAddress
// are read-only. A missing block yields an error matching ErrNotFound.
// Sealed blocks never change, so BlockByHash results may be cached:
//
//	c, _ := client.New(registryURL, client.WithCacheTTL(time.Minute))
package client
