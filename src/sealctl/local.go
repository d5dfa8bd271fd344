package main

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/sealtrace/sealtrace/src/client"
	"github.com/sealtrace/sealtrace/src/ledger"
)

// sealed is a commitment together with the secret needed to open it.
type sealed struct {
	digest ledger.Digest
	nonce  *big.Int
}

// sealValue commits to value under a fresh random nonce.
func sealValue(s ledger.CommitmentScheme, value *big.Int) (sealed, error) {
	nonce, err := ledger.NewNonce()
	if err != nil {
		return sealed{}, err
	}
	d, err := ledger.CommitValue(s, value, nonce)
	if err != nil {
		return sealed{}, err
	}
	return sealed{digest: d, nonce: nonce}, nil
}

func sealText(s ledger.CommitmentScheme, text string) (sealed, error) {
	nonce, err := ledger.NewNonce()
	if err != nil {
		return sealed{}, err
	}
	d, err := ledger.CommitText(s, text, nonce)
	if err != nil {
		return sealed{}, err
	}
	return sealed{digest: d, nonce: nonce}, nil
}

// sealFlag commits to the uint256 in raw, or returns the zero digest when raw
// is empty.
func sealFlag(s ledger.CommitmentScheme, raw string) (sealed, error) {
	if raw == "" {
		return sealed{}, nil
	}
	v, err := ledger.ParseUint256(raw)
	if err != nil {
		return sealed{}, err
	}
	return sealValue(s, v)
}

func newNonceCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "nonce",
		Short: "Print random 256-bit nonces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return errors.New("--count must be positive")
			}
			for i := 0; i < count; i++ {
				n, err := ledger.NewNonce()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n.String())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of nonces")
	return cmd
}

func newCommitCmd() *cobra.Command {
	var value, text, nonce, scheme string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Compute a commitment locally",
		Long:  "Compute hash(value, nonce) or hash(text, nonce) without contacting a node. A random nonce is generated when --nonce is omitted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			textSet := cmd.Flags().Changed("text")
			if (value != "") == textSet {
				return errors.New("exactly one of --value or --text is required")
			}
			s, err := ledger.SchemeByName(scheme)
			if err != nil {
				return err
			}

			var n *big.Int
			if nonce == "" {
				if n, err = ledger.NewNonce(); err != nil {
					return err
				}
			} else if n, err = ledger.ParseUint256(nonce); err != nil {
				return fmt.Errorf("--nonce: %w", err)
			}

			var d ledger.Digest
			if textSet {
				d, err = ledger.CommitText(s, text, n)
			} else {
				var v *big.Int
				if v, err = ledger.ParseUint256(value); err != nil {
					return fmt.Errorf("--value: %w", err)
				}
				d, err = ledger.CommitValue(s, v, n)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printField(out, "scheme", s.Name())
			printField(out, "commitment", d.Hex())
			printSecret(out, "nonce", n.String())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&value, "value", "", "uint256 value (decimal or 0x hex)")
	f.StringVar(&text, "text", "", "text value")
	f.StringVar(&nonce, "nonce", "", "nonce (random when omitted)")
	f.StringVar(&scheme, "scheme", ledger.SchemeKeccak256, "commitment scheme: keccak256, sha256 or mimc")
	return cmd
}

func newCallerKeyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "caller-key",
		Short: "Derive the request signing key for --caller from --secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.caller == "" || g.secret == "" {
				return errors.New("--caller and --secret are required")
			}
			caller, err := ledger.ParseAddress(g.caller)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), client.DeriveCallerKey(g.secret, caller))
			return nil
		},
	}
}
