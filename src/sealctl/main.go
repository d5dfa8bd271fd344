// Command sealctl is the operator CLI for a sealtrace node. It computes
// commitments locally so plaintext values and nonces never leave the
// operator's machine.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sealtrace/sealtrace/src/client"
	"github.com/sealtrace/sealtrace/src/ledger"
)

const defaultNode = "http://localhost:8080"

// globalFlags are shared by every command that talks to a node.
type globalFlags struct {
	node   string
	caller string
	secret string
	key    string
}

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed)
	labelColor = color.New(color.FgCyan)
)

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "sealctl",
		Short:         "Operate a sealtrace supply-chain ledger node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.node, "node", envOr("SEALTRACE_NODE", defaultNode), "node base URL")
	pf.StringVar(&g.caller, "caller", os.Getenv("SEALTRACE_CALLER"), "caller address")
	pf.StringVar(&g.secret, "secret", os.Getenv("SEALTRACE_SECRET"), "node master secret used to derive the caller key")
	pf.StringVar(&g.key, "key", os.Getenv("SEALTRACE_CALLER_KEY"), "caller signing key (overrides --secret)")

	root.AddCommand(
		newNonceCmd(),
		newCommitCmd(),
		newCallerKeyCmd(g),
		newRegisterCmd(g),
		newCreateBatchCmd(g),
		newCheckpointCmd(g),
		newGrantCmd(g),
		newVerifyQualityCmd(g),
		newCommitDataCmd(g),
		newRevealCmd(g),
		newIntegrityCmd(g),
		newBatchCmd(g),
		newTrackCmd(g),
		newEventsCmd(g),
	)
	return root
}

// client builds an API client for the configured node and caller.
func (g *globalFlags) client() (*client.Client, error) {
	var opts []client.Option
	if g.caller != "" {
		caller, err := ledger.ParseAddress(g.caller)
		if err != nil {
			return nil, err
		}
		key := g.key
		if key == "" && g.secret != "" {
			key = client.DeriveCallerKey(g.secret, caller)
		}
		opts = append(opts, client.WithCaller(caller, key))
	}
	return client.New(g.node, opts...), nil
}

// scheme asks the node which commitment scheme it verifies against.
func (g *globalFlags) scheme(ctx context.Context, c *client.Client) (ledger.CommitmentScheme, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query node scheme: %w", err)
	}
	return ledger.SchemeByName(info.CommitmentScheme)
}

func printField(w io.Writer, label string, value interface{}) {
	labelColor.Fprintf(w, "%-18s", label+":")
	fmt.Fprintf(w, " %v\n", value)
}

func printSecret(w io.Writer, label string, value interface{}) {
	warnColor.Fprintf(w, "%-18s", label+":")
	fmt.Fprintf(w, " %v\n", value)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		errColor.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
