// Package bitcoinmsg signs and verifies Bitcoin "signed messages", the
// scheme used by Bitcoin Core's signmessage/verifymessage RPCs and by
// Electrum. A signature is a base64-encoded 65-byte compact recoverable
// ECDSA signature over the double SHA-256 of the magic-prefixed message.
package bitcoinmsg

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
)

// magic is prepended to every message before hashing.
const magic = "Bitcoin Signed Message:\n"

// compactSigLen is the length of a decoded compact signature.
const compactSigLen = 65

// Header byte ranges. 27-30 uncompressed P2PKH, 31-34 compressed P2PKH,
// 35-38 P2SH-wrapped P2WPKH, 39-42 native P2WPKH.
const (
	headerMin        = 27
	headerCompressed = 31
	headerP2SHP2WPKH = 35
	headerP2WPKH     = 39
	headerMax        = 42
)

var (
	// ErrBadSignature is returned when a signature cannot be decoded.
	ErrBadSignature = errors.New("bitcoinmsg: malformed signature")

	// ErrUnsupportedAddress is returned for address types that cannot sign messages.
	ErrUnsupportedAddress = errors.New("bitcoinmsg: address type cannot sign messages")
)

// Hash returns the digest that is actually signed for message.
func Hash(message string) []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	_ = wire.WriteVarString(&buf, 0, magic)
	_ = wire.WriteVarString(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// Sign produces a base64 compact signature of message by priv. compressed
// selects whether the recovered key is the compressed one, which must match
// the form used to derive the signer's address.
func Sign(priv *btcec.PrivateKey, message string, compressed bool) (string, error) {
	sig, err := btcec.SignCompact(btcec.S256(), priv, Hash(message), compressed)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return encodeSig(sig), nil
}

// RecoverPubKey recovers the public key that produced signature over message.
// The returned bool reports whether the signer used the compressed key form.
func RecoverPubKey(message, signature string) (*btcec.PublicKey, bool, error) {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(sig) != compactSigLen {
		return nil, false, fmt.Errorf("%w: length %d, want %d", ErrBadSignature, len(sig), compactSigLen)
	}

	header := sig[0]
	if header < headerMin || header > headerMax {
		return nil, false, fmt.Errorf("%w: header byte %d", ErrBadSignature, header)
	}
	// Segwit headers always refer to a compressed key; fold them onto the
	// compressed P2PKH range that btcec understands.
	if header >= headerP2SHP2WPKH {
		norm := make([]byte, compactSigLen)
		copy(norm, sig)
		norm[0] = headerCompressed + (header-headerP2SHP2WPKH)%4
		sig = norm
	}

	pub, compressed, err := btcec.RecoverCompact(btcec.S256(), sig, Hash(message))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return pub, compressed, nil
}

// p2wpkhScript returns the witness program script 0x00 0x14 <hash160>.
func p2wpkhScript(pubKeyHash []byte) []byte {
	return append([]byte{0x00, 0x14}, pubKeyHash...)
}

// PubKeyMatchesAddress reports whether pub (in the given form) controls address.
func PubKeyMatchesAddress(pub *btcec.PublicKey, compressed bool, address btcutil.Address) (bool, error) {
	serialized := pub.SerializeUncompressed()
	if compressed {
		serialized = pub.SerializeCompressed()
	}
	pkHash := btcutil.Hash160(serialized)

	switch a := address.(type) {
	case *btcutil.AddressPubKeyHash:
		return bytes.Equal(a.ScriptAddress(), pkHash), nil
	case *btcutil.AddressWitnessPubKeyHash:
		return compressed && bytes.Equal(a.ScriptAddress(), pkHash), nil
	case *btcutil.AddressScriptHash:
		// Only P2SH-wrapped P2WPKH can be checked without the redeem script.
		return compressed && bytes.Equal(a.ScriptAddress(), btcutil.Hash160(p2wpkhScript(pkHash))), nil
	default:
		return false, fmt.Errorf("%w: %T", ErrUnsupportedAddress, address)
	}
}

// Verifier checks signed messages against addresses of one network.
type Verifier struct {
	params *chaincfg.Params
}

// NewVerifier creates a Verifier for params. A nil params means mainnet.
func NewVerifier(params *chaincfg.Params) *Verifier {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Verifier{params: params}
}

// Params returns the network the verifier decodes addresses for.
func (v *Verifier) Params() *chaincfg.Params {
	return v.params
}

// Verify reports whether signature is a valid signature of message by the
// key controlling address. Any decoding problem yields false.
func (v *Verifier) Verify(message, address, signature string) bool {
	ok, err := v.Check(message, address, signature)
	return err == nil && ok
}

// Check is Verify with the reason for a failure exposed.
func (v *Verifier) Check(message, address, signature string) (bool, error) {
	addr, err := btcutil.DecodeAddress(address, v.params)
	if err != nil {
		return false, fmt.Errorf("decode address: %w", err)
	}
	if !addr.IsForNet(v.params) {
		return false, fmt.Errorf("address %s is not for network %s", address, v.params.Name)
	}

	pub, compressed, err := RecoverPubKey(message, signature)
	if err != nil {
		return false, err
	}
	return PubKeyMatchesAddress(pub, compressed, addr)
}
