package bitcoinmsg

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
)

// Key bundles a private key with the addresses it controls on one network.
type Key struct {
	WIF     *btcutil.WIF
	P2PKH   *btcutil.AddressPubKeyHash
	P2WPKH  *btcutil.AddressWitnessPubKeyHash
	network *chaincfg.Params
}

// NewKey generates a fresh compressed secp256k1 key for params.
func NewKey(params *chaincfg.Params) (*Key, error) {
	priv, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	wif, err := btcutil.NewWIF(priv, params, true)
	if err != nil {
		return nil, fmt.Errorf("encode WIF: %w", err)
	}
	return keyFromWIF(wif, params)
}

// ParseWIF decodes a wallet-import-format private key for params.
func ParseWIF(s string, params *chaincfg.Params) (*Key, error) {
	wif, err := btcutil.DecodeWIF(s)
	if err != nil {
		return nil, fmt.Errorf("decode WIF: %w", err)
	}
	if !wif.IsForNet(params) {
		return nil, fmt.Errorf("WIF is not for network %s", params.Name)
	}
	return keyFromWIF(wif, params)
}

func keyFromWIF(wif *btcutil.WIF, params *chaincfg.Params) (*Key, error) {
	pkHash := btcutil.Hash160(wif.SerializePubKey())

	p2pkh, err := btcutil.NewAddressPubKeyHash(pkHash, params)
	if err != nil {
		return nil, fmt.Errorf("derive P2PKH address: %w", err)
	}

	k := &Key{WIF: wif, P2PKH: p2pkh, network: params}
	if wif.CompressPubKey {
		p2wpkh, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
		if err != nil {
			return nil, fmt.Errorf("derive P2WPKH address: %w", err)
		}
		k.P2WPKH = p2wpkh
	}
	return k, nil
}

// SignMessage signs message so that it verifies against the P2PKH address.
func (k *Key) SignMessage(message string) (string, error) {
	return Sign(k.WIF.PrivKey, message, k.WIF.CompressPubKey)
}

// SignMessageSegwit signs message so that it verifies against the native
// segwit (P2WPKH) address, using the 39-42 header range.
func (k *Key) SignMessageSegwit(message string) (string, error) {
	if k.P2WPKH == nil {
		return "", fmt.Errorf("%w: uncompressed keys have no segwit address", ErrUnsupportedAddress)
	}
	sig, err := btcec.SignCompact(btcec.S256(), k.WIF.PrivKey, Hash(message), true)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	sig[0] = headerP2WPKH + (sig[0]-headerCompressed)%4
	return encodeSig(sig), nil
}

// Network returns the chain parameters the key's addresses are encoded for.
func (k *Key) Network() *chaincfg.Params {
	return k.network
}
