package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jmerrifield20/StarRegistry/internal/bitcoinmsg"
	"github.com/jmerrifield20/StarRegistry/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultRegistryURL = "http://localhost:8000"

var (
	registryURL string
	cfgFile     string
	networkName string
	timeout     time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "starctl",
		Short: "Star registry CLI",
		Long: `starctl is the command-line interface for the star registry.

It generates wallet keys, signs ownership challenges, submits star claims
and queries the registry's block chain.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			} else {
				home, _ := os.UserHomeDir()
				v.AddConfigPath(filepath.Join(home, ".starctl"))
				v.SetConfigName("config")
				v.SetConfigType("yaml")
			}
			v.SetEnvPrefix("STARCTL")
			v.AutomaticEnv()
			if err := v.ReadInConfig(); err != nil {
				var cfgNotFound viper.ConfigFileNotFoundError
				if cfgFile != "" || !errors.As(err, &cfgNotFound) {
					return fmt.Errorf("read config: %w", err)
				}
			}

			if registryURL == "" {
				registryURL = v.GetString("registry_url")
			}
			if registryURL == "" {
				registryURL = defaultRegistryURL
			}
			if networkName == "" {
				networkName = v.GetString("network")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.starctl/config.yaml)")
	root.PersistentFlags().StringVar(&registryURL, "registry", "", "registry URL (default "+defaultRegistryURL+")")
	root.PersistentFlags().StringVar(&networkName, "network", "", "bitcoin network: mainnet, testnet, regtest or simnet (default mainnet)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		newKeygenCmd(),
		newSignCmd(),
		newChallengeCmd(),
		newSubmitCmd(),
		newClaimCmd(),
		newBlockCmd(),
		newStarsCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)
	return root
}

func params() (*chaincfg.Params, error) {
	return bitcoinmsg.ParamsForNetwork(networkName)
}

func newClient() (*client.Client, error) {
	return client.New(registryURL, client.WithTimeout(timeout))
}

// ── keygen ───────────────────────────────────────────────────────────────────

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a wallet key and print its addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := params()
			if err != nil {
				return err
			}
			k, err := bitcoinmsg.NewKey(p)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "NETWORK\t%s\n", p.Name)
			fmt.Fprintf(w, "WIF\t%s\n", k.WIF.String())
			fmt.Fprintf(w, "P2PKH\t%s\n", k.P2PKH.EncodeAddress())
			fmt.Fprintf(w, "P2WPKH\t%s\n", k.P2WPKH.EncodeAddress())
			return w.Flush()
		},
	}
}

// ── sign ─────────────────────────────────────────────────────────────────────

func newSignCmd() *cobra.Command {
	var (
		wif     string
		message string
		segwit  bool
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a message with a WIF private key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := loadKey(wif)
			if err != nil {
				return err
			}
			sig, err := signWith(k, message, segwit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sig)
			return nil
		},
	}
	cmd.Flags().StringVar(&wif, "wif", "", "WIF-encoded private key")
	cmd.Flags().StringVar(&message, "message", "", "message to sign")
	cmd.Flags().BoolVar(&segwit, "segwit", false, "sign for the P2WPKH address instead of P2PKH")
	_ = cmd.MarkFlagRequired("wif")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func loadKey(wif string) (*bitcoinmsg.Key, error) {
	p, err := params()
	if err != nil {
		return nil, err
	}
	return bitcoinmsg.ParseWIF(strings.TrimSpace(wif), p)
}

func signWith(k *bitcoinmsg.Key, message string, segwit bool) (string, error) {
	if segwit {
		return k.SignMessageSegwit(message)
	}
	return k.SignMessage(message)
}

// ── challenge ────────────────────────────────────────────────────────────────

func newChallengeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "challenge <address>",
		Short: "Request the ownership challenge for a wallet address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			msg, err := c.RequestChallenge(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("request challenge: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

// ── submit ───────────────────────────────────────────────────────────────────

func newSubmitCmd() *cobra.Command {
	var address, message, signature, star string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a signed star claim",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseStar(star)
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			b, err := c.SubmitStar(cmd.Context(), client.SubmitStarRequest{
				Address:   address,
				Message:   message,
				Signature: signature,
				Star:      payload,
			})
			if err != nil {
				return describeClaimError(err)
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "wallet address that signed the challenge")
	cmd.Flags().StringVar(&message, "message", "", "challenge message returned by 'starctl challenge'")
	cmd.Flags().StringVar(&signature, "signature", "", "base64 signature of the message")
	cmd.Flags().StringVar(&star, "star", "", `star data as a JSON object, e.g. '{"ra":"..","dec":"..","story":".."}'`)
	for _, f := range []string{"address", "message", "signature", "star"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// ── claim ────────────────────────────────────────────────────────────────────

func newClaimCmd() *cobra.Command {
	var (
		wif    string
		star   string
		segwit bool
	)
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Request a challenge, sign it and submit a star in one step",
		Long: `claim runs the whole ownership flow with a local key:

  1. request a challenge for the key's address
  2. sign it with the key
  3. submit the signature with the star data

The registry must receive the claim before its claim window closes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseStar(star)
			if err != nil {
				return err
			}
			k, err := loadKey(wif)
			if err != nil {
				return err
			}
			address := k.P2PKH.EncodeAddress()
			if segwit {
				address = k.P2WPKH.EncodeAddress()
			}

			c, err := newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			msg, err := c.RequestChallenge(ctx, address)
			if err != nil {
				return fmt.Errorf("request challenge: %w", err)
			}
			sig, err := signWith(k, msg, segwit)
			if err != nil {
				return err
			}
			b, err := c.SubmitStar(ctx, client.SubmitStarRequest{
				Address:   address,
				Message:   msg,
				Signature: sig,
				Star:      payload,
			})
			if err != nil {
				return describeClaimError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Star registered to %s at height %d\n\n", address, b.Height)
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	cmd.Flags().StringVar(&wif, "wif", "", "WIF-encoded private key")
	cmd.Flags().StringVar(&star, "star", "", "star data as a JSON object")
	cmd.Flags().BoolVar(&segwit, "segwit", false, "claim with the key's P2WPKH address")
	_ = cmd.MarkFlagRequired("wif")
	_ = cmd.MarkFlagRequired("star")
	return cmd
}

func parseStar(raw string) (map[string]any, error) {
	var star map[string]any
	if err := json.Unmarshal([]byte(raw), &star); err != nil || star == nil {
		return nil, fmt.Errorf("--star must be a JSON object")
	}
	return star, nil
}

func describeClaimError(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("submit star: %w", err)
	}
	switch apiErr.Code {
	case "expired":
		return fmt.Errorf("claim window closed; request a new challenge: %w", err)
	case "signature_invalid":
		return fmt.Errorf("signature does not match the address: %w", err)
	case "malformed_message":
		return fmt.Errorf("message is not a registry challenge: %w", err)
	default:
		return fmt.Errorf("submit star: %w", err)
	}
}

// ── block ────────────────────────────────────────────────────────────────────

func newBlockCmd() *cobra.Command {
	var decode bool
	cmd := &cobra.Command{
		Use:   "block <height|hash>",
		Short: "Fetch a block by height or hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			b, err := fetchBlock(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			if !decode {
				return printJSON(cmd.OutOrStdout(), b)
			}
			data, err := decodeBody(b.Body)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"block": b, "data": data})
		},
	}
	cmd.Flags().BoolVar(&decode, "decode", false, "also print the decoded block body")
	return cmd
}

// fetchBlock treats a decimal argument shorter than a hash as a height.
func fetchBlock(ctx context.Context, c *client.Client, ref string) (*client.Block, error) {
	if len(ref) < 64 {
		if h, err := strconv.Atoi(ref); err == nil {
			return c.BlockByHeight(ctx, h)
		}
	}
	return c.BlockByHash(ctx, ref)
}

func decodeBody(body string) (json.RawMessage, error) {
	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode block body: %w", err)
	}
	if !json.Valid(raw) {
		return nil, errors.New("block body is not JSON")
	}
	return raw, nil
}

// ── stars ────────────────────────────────────────────────────────────────────

func newStarsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stars <address>",
		Short: "List the stars claimed by a wallet address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			stars, err := c.StarsByAddress(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list stars: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), stars)
		},
	}
}

// ── validate ─────────────────────────────────────────────────────────────────

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Ask the registry to verify its chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			report, err := c.Validate(cmd.Context())
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			out := cmd.OutOrStdout()
			if report.Valid {
				fmt.Fprintln(out, "✓ chain is valid")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HEIGHT\tPROBLEM")
			for _, f := range report.Errors {
				fmt.Fprintf(w, "%d\t%s\n", f.Height, f.Kind)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return fmt.Errorf("chain has %d integrity problem(s)", len(report.Errors))
		},
	}
}

// ── version ──────────────────────────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the starctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "starctl %s\n", version)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
