// Package starledger implements the star registry: an append-only chain of
// hash-linked blocks recording star ownership claims made by Bitcoin wallet
// addresses.
//
// Each block carries the SHA-256 of its own canonical JSON form and the hash
// of its predecessor, so tampering with any stored block is detectable by
// Validate. The chain starts with a genesis block whose previous hash is
// ZeroHash and whose body is the GenesisData sentinel.
//
// Claims are admitted through a challenge/response flow:
//
//	msg := chain.RequestChallenge(ctx, addr)    // "<addr>:<unix>:starRegistry"
//	sig := wallet.SignMessage(msg)              // done by the address owner
//	block, err := chain.SubmitStar(ctx, addr, msg, sig, star)
//
// A message is accepted for five minutes after it was issued.
package starledger
