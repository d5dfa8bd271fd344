package main

import (
	"fmt"
	"io"
	"time"

	"github.com/sealtrace/sealtrace/src/client"
	"github.com/sealtrace/sealtrace/src/ledger"
)

func statusColor(s ledger.Status) string {
	switch s {
	case ledger.StatusVerified, ledger.StatusDelivered:
		return okColor.Sprint(s)
	case ledger.StatusRecalled:
		return errColor.Sprint(s)
	}
	return warnColor.Sprint(s)
}

func printBatchInfo(w io.Writer, info *ledger.BatchInfo) {
	printField(w, "batch", info.BatchID)
	printField(w, "manufacturer", info.Manufacturer)
	printField(w, "status", statusColor(info.Status))
	printField(w, "created", info.CreatedAt.Format(time.RFC3339))
	printField(w, "metadata", info.PublicMetadata)
	printField(w, "checkpoints", info.CheckpointCount)
}

func printTracking(w io.Writer, v *client.TrackingView) {
	printBatchInfo(w, &v.Batch)
	if v.VerifiedBy != "" {
		printField(w, "verified by", v.VerifiedBy)
	}

	labelColor.Fprintln(w, "\ncustody chain")
	for i, cp := range v.Checkpoints {
		fmt.Fprintf(w, "  #%d %s %s by %s", i, cp.RecordedAt.Format(time.RFC3339), statusColor(cp.NewStatus), cp.Handler)
		if cp.PublicNote != "" {
			fmt.Fprintf(w, " %q", cp.PublicNote)
		}
		fmt.Fprintln(w)
	}

	if len(v.Grantees) > 0 {
		labelColor.Fprintln(w, "\naccess")
		for _, g := range v.Grantees {
			fmt.Fprintf(w, "  %s\n", g)
		}
	}

	if len(v.Disclosures) > 0 {
		labelColor.Fprintln(w, "\ndisclosures")
		for _, d := range v.Disclosures {
			fmt.Fprintf(w, "  %s revealed %s at %s\n", d.Committer, d.Data, d.RevealedAt.Format(time.RFC3339))
		}
	}

	t := v.Traceability
	if len(t.Components) > 0 || len(t.Certifications) > 0 || len(t.Feedback) > 0 || t.Metrics != nil {
		labelColor.Fprintln(w, "\ntraceability")
		printField(w, "  components", len(t.Components))
		printField(w, "  certifications", len(t.Certifications))
		printField(w, "  feedback", len(t.Feedback))
		printField(w, "  metrics", t.Metrics != nil)
	}
}

func printEvent(w io.Writer, ev ledger.Event) {
	labelColor.Fprintf(w, "%6d ", ev.Seq)
	fmt.Fprintf(w, "%s %-22s", ev.At.Format(time.RFC3339), ev.Kind)
	if ev.BatchID != 0 {
		fmt.Fprintf(w, " batch=%d", ev.BatchID)
	}
	if ev.Participant != "" {
		fmt.Fprintf(w, " participant=%s", ev.Participant)
	}
	if ev.Status != nil {
		fmt.Fprintf(w, " status=%s", statusColor(*ev.Status))
	}
	if ev.Data != "" {
		fmt.Fprintf(w, " data=%s", ev.Data)
	}
	fmt.Fprintln(w)
}
