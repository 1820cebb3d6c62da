package starledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChallengeTag is the literal suffix of every challenge message.
const ChallengeTag = "starRegistry"

// DefaultClaimWindow is how long a challenge message stays valid.
const DefaultClaimWindow = 5 * time.Minute

// Claim is the body of every block admitted through SubmitStar.
type Claim struct {
	Address   string          `json:"address"`
	Message   string          `json:"message"`
	Signature string          `json:"signature"`
	Star      json.RawMessage `json:"star"`
}

// Verifier checks that signature is a valid signature of message by the
// private key controlling address.
// *bitcoinmsg.Verifier satisfies this interface.
type Verifier interface {
	Verify(message, address, signature string) bool
}

// VerifierFunc adapts a plain function to the Verifier interface.
type VerifierFunc func(message, address, signature string) bool

// Verify implements Verifier.
func (f VerifierFunc) Verify(message, address, signature string) bool {
	return f(message, address, signature)
}

// ChallengeMessage formats the message address must sign, stamped with at.
func ChallengeMessage(address string, at time.Time) string {
	return fmt.Sprintf("%s:%d:%s", address, at.Unix(), ChallengeTag)
}

// challengeTime extracts the unix timestamp from the second colon-delimited
// field of a challenge message.
func challengeTime(message string) (int64, error) {
	parts := strings.Split(message, ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("%w: expected <address>:<unix_seconds>:%s", ErrMalformedMessage, ChallengeTag)
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: timestamp %q is not numeric", ErrMalformedMessage, parts[1])
	}
	return ts, nil
}
