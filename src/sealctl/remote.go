package main

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sealtrace/sealtrace/src/client"
	"github.com/sealtrace/sealtrace/src/ledger"
)

func parseBatchArg(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid batch id %q", s)
	}
	return id, nil
}

func parseOptionalNonce(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return ledger.ParseUint256(s)
}

func requireBatch(id uint64) error {
	if id == 0 {
		return errors.New("--batch is required")
	}
	return nil
}

func newRegisterCmd(g *globalFlags) *cobra.Command {
	var address, role, rating string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a participant (admin only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := ledger.ParseAddress(address)
			if err != nil {
				return fmt.Errorf("--address: %w", err)
			}
			r, err := ledger.ParseRole(role)
			if err != nil {
				return fmt.Errorf("--role: %w", err)
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := g.scheme(ctx, c)
			if err != nil {
				return err
			}
			sr, err := sealFlag(s, rating)
			if err != nil {
				return fmt.Errorf("--rating: %w", err)
			}
			p, err := c.RegisterParticipant(ctx, client.RegisterParticipantRequest{
				Address:          addr,
				Role:             r,
				RatingCommitment: sr.digest,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			okColor.Fprintf(out, "registered %s as %s\n", p.Address, p.Role)
			if sr.nonce != nil {
				printSecret(out, "rating nonce", sr.nonce)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&address, "address", "", "participant address")
	f.StringVar(&role, "role", "", "Manufacturer, Distributor, Retailer, QualityInspector or Supplier")
	f.StringVar(&rating, "rating", "", "initial rating value to commit to")
	cmd.MarkFlagRequired("address")
	cmd.MarkFlagRequired("role")
	return cmd
}

func newCreateBatchCmd(g *globalFlags) *cobra.Command {
	var quantity, quality, price, metadata, opNonce string
	cmd := &cobra.Command{
		Use:   "create-batch",
		Short: "Create a product batch from plaintext values",
		Long:  "Commits to quantity, quality score and price under fresh random nonces, submits only the commitments and prints the nonces. Keep them: they are required to disclose the values later.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := g.scheme(ctx, c)
			if err != nil {
				return err
			}
			sq, err := sealFlag(s, quantity)
			if err != nil {
				return fmt.Errorf("--quantity: %w", err)
			}
			ss, err := sealFlag(s, quality)
			if err != nil {
				return fmt.Errorf("--quality: %w", err)
			}
			sp, err := sealFlag(s, price)
			if err != nil {
				return fmt.Errorf("--price: %w", err)
			}

			id, err := c.CreateBatch(ctx, client.CreateBatchRequest{
				HashedQuantity:     sq.digest,
				HashedQualityScore: ss.digest,
				HashedPrice:        sp.digest,
				PublicMetadata:     metadata,
				Nonce:              opNonce,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			okColor.Fprintf(out, "created batch %d\n", id)
			printSecret(out, "quantity nonce", sq.nonce)
			printSecret(out, "quality nonce", ss.nonce)
			printSecret(out, "price nonce", sp.nonce)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&quantity, "quantity", "", "quantity")
	f.StringVar(&quality, "quality", "", "quality score")
	f.StringVar(&price, "price", "", "unit price")
	f.StringVar(&metadata, "metadata", "", "public metadata")
	f.StringVar(&opNonce, "op-nonce", "", "operation nonce guarding against replay")
	cmd.MarkFlagRequired("quantity")
	cmd.MarkFlagRequired("quality")
	cmd.MarkFlagRequired("price")
	return cmd
}

func newCheckpointCmd(g *globalFlags) *cobra.Command {
	var (
		batch     uint64
		timestamp int64
		location  string
		note      string
		status    string
		opNonce   string
	)
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Record a custody checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireBatch(batch); err != nil {
				return err
			}
			st, err := ledger.ParseStatus(status)
			if err != nil {
				return fmt.Errorf("--status: %w", err)
			}
			if timestamp == 0 {
				timestamp = time.Now().Unix()
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := g.scheme(ctx, c)
			if err != nil {
				return err
			}
			sts, err := sealValue(s, big.NewInt(timestamp))
			if err != nil {
				return err
			}
			sloc, err := sealText(s, location)
			if err != nil {
				return err
			}
			index, err := c.AddCheckpoint(ctx, batch, client.AddCheckpointRequest{
				HashedTimestamp: sts.digest,
				HashedLocation:  sloc.digest,
				PublicNote:      note,
				NewStatus:       st,
				Nonce:           opNonce,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			okColor.Fprintf(out, "checkpoint %d recorded on batch %d (%s)\n", index, batch, st)
			printSecret(out, "timestamp nonce", sts.nonce)
			printSecret(out, "location nonce", sloc.nonce)
			return nil
		},
	}
	f := cmd.Flags()
	f.Uint64Var(&batch, "batch", 0, "batch id")
	f.Int64Var(&timestamp, "timestamp", 0, "unix time of the handover (now when omitted)")
	f.StringVar(&location, "location", "", "location text")
	f.StringVar(&note, "note", "", "public note")
	f.StringVar(&status, "status", "", "new status: InTransit, Delivered or Recalled")
	f.StringVar(&opNonce, "op-nonce", "", "operation nonce guarding against replay")
	cmd.MarkFlagRequired("status")
	return cmd
}

func newGrantCmd(g *globalFlags) *cobra.Command {
	var batch uint64
	var participant string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a participant access to a batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireBatch(batch); err != nil {
				return err
			}
			p, err := ledger.ParseAddress(participant)
			if err != nil {
				return fmt.Errorf("--participant: %w", err)
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			if err := c.GrantAccess(cmd.Context(), batch, p); err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "granted %s access to batch %d\n", p, batch)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&batch, "batch", 0, "batch id")
	cmd.Flags().StringVar(&participant, "participant", "", "grantee address")
	cmd.MarkFlagRequired("participant")
	return cmd
}

func newVerifyQualityCmd(g *globalFlags) *cobra.Command {
	var batch uint64
	var score, opNonce string
	cmd := &cobra.Command{
		Use:   "verify-quality",
		Short: "Record a quality inspection and mark the batch Verified",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireBatch(batch); err != nil {
				return err
			}
			n, err := parseOptionalNonce(opNonce)
			if err != nil {
				return fmt.Errorf("--op-nonce: %w", err)
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := g.scheme(ctx, c)
			if err != nil {
				return err
			}
			ss, err := sealFlag(s, score)
			if err != nil {
				return fmt.Errorf("--score: %w", err)
			}
			if err := c.VerifyQuality(ctx, batch, ss.digest, n); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			okColor.Fprintf(out, "batch %d verified\n", batch)
			printSecret(out, "score nonce", ss.nonce)
			return nil
		},
	}
	f := cmd.Flags()
	f.Uint64Var(&batch, "batch", 0, "batch id")
	f.StringVar(&score, "score", "", "inspected quality score")
	f.StringVar(&opNonce, "op-nonce", "", "operation nonce guarding against replay")
	cmd.MarkFlagRequired("score")
	return cmd
}

func newCommitDataCmd(g *globalFlags) *cobra.Command {
	var batch uint64
	var value string
	cmd := &cobra.Command{
		Use:   "commit-data",
		Short: "Commit to a private value on a batch for later disclosure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireBatch(batch); err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := g.scheme(ctx, c)
			if err != nil {
				return err
			}
			sv, err := sealFlag(s, value)
			if err != nil {
				return fmt.Errorf("--value: %w", err)
			}
			cm, err := c.CommitData(ctx, batch, sv.digest)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			okColor.Fprintf(out, "commitment stored for %s on batch %d\n", cm.Committer, batch)
			printField(out, "commitment", cm.CommitmentHash.Hex())
			printSecret(out, "nonce", sv.nonce)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&batch, "batch", 0, "batch id")
	cmd.Flags().StringVar(&value, "value", "", "value to commit to")
	cmd.MarkFlagRequired("value")
	return cmd
}

func newRevealCmd(g *globalFlags) *cobra.Command {
	var batch uint64
	var value, nonce string
	cmd := &cobra.Command{
		Use:   "reveal",
		Short: "Disclose a previously committed value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireBatch(batch); err != nil {
				return err
			}
			v, err := ledger.ParseUint256(value)
			if err != nil {
				return fmt.Errorf("--value: %w", err)
			}
			n, err := ledger.ParseUint256(nonce)
			if err != nil {
				return fmt.Errorf("--nonce: %w", err)
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			if err := c.RevealData(cmd.Context(), batch, v, n); err != nil {
				return err
			}
			okColor.Fprintf(cmd.OutOrStdout(), "revealed %s on batch %d\n", v, batch)
			return nil
		},
	}
	f := cmd.Flags()
	f.Uint64Var(&batch, "batch", 0, "batch id")
	f.StringVar(&value, "value", "", "committed value")
	f.StringVar(&nonce, "nonce", "", "nonce used for the commitment")
	cmd.MarkFlagRequired("value")
	cmd.MarkFlagRequired("nonce")
	return cmd
}

func newIntegrityCmd(g *globalFlags) *cobra.Command {
	var batch uint64
	var value, text, nonce, expected string
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Check a value and nonce against a commitment using the node's scheme",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireBatch(batch); err != nil {
				return err
			}
			textSet := cmd.Flags().Changed("text")
			if (value != "") == textSet {
				return errors.New("exactly one of --value or --text is required")
			}
			d, err := ledger.ParseDigest(expected)
			if err != nil {
				return fmt.Errorf("--expected: %w", err)
			}
			req := client.IntegrityRequest{Data: value, Nonce: nonce, ExpectedHash: d}
			if textSet {
				req.Text = &text
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			valid, err := c.VerifyIntegrity(cmd.Context(), batch, req)
			if err != nil {
				return err
			}
			if valid {
				okColor.Fprintln(cmd.OutOrStdout(), "valid")
			} else {
				errColor.Fprintln(cmd.OutOrStdout(), "invalid")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.Uint64Var(&batch, "batch", 0, "batch id")
	f.StringVar(&value, "value", "", "uint256 value")
	f.StringVar(&text, "text", "", "text value")
	f.StringVar(&nonce, "nonce", "", "nonce")
	f.StringVar(&expected, "expected", "", "expected commitment (hex)")
	cmd.MarkFlagRequired("nonce")
	cmd.MarkFlagRequired("expected")
	return cmd
}

func newBatchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <id>",
		Short: "Show the public view of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBatchArg(args[0])
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			info, err := c.GetBatch(cmd.Context(), id)
			if err != nil {
				return err
			}
			printBatchInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func newTrackCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "track <id>",
		Short: "Show a batch with its custody chain, disclosures and traceability records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBatchArg(args[0])
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			view, err := c.Track(cmd.Context(), id)
			if err != nil {
				return err
			}
			printTracking(cmd.OutOrStdout(), view)
			return nil
		},
	}
}

func newEventsCmd(g *globalFlags) *cobra.Command {
	var since, batch uint64
	var limit int
	var follow bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List ledger events, or follow them live with --follow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !follow {
				page, err := c.Events(cmd.Context(), since, limit)
				if err != nil {
					return err
				}
				for _, ev := range page.Events {
					if batch == 0 || ev.BatchID == batch {
						printEvent(out, ev)
					}
				}
				return nil
			}

			sub, err := c.Subscribe(cmd.Context(), client.SubscribeOptions{Since: since, BatchID: batch})
			if err != nil {
				return err
			}
			defer sub.Close()
			for ev := range sub.Events {
				printEvent(out, ev)
			}
			return sub.Err()
		},
	}
	f := cmd.Flags()
	f.Uint64Var(&since, "since", 0, "only events after this sequence number")
	f.Uint64Var(&batch, "batch", 0, "only events for this batch")
	f.IntVar(&limit, "limit", 100, "page size without --follow")
	f.BoolVar(&follow, "follow", false, "stream events over a websocket")
	return cmd
}
