package bitcoinmsg

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// ParamsForNetwork maps a configured network name to its chain parameters.
func ParamsForNetwork(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", name)
	}
}

func encodeSig(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}
