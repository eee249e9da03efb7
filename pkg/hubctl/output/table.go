package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/telekom/integration-hub/pkg/api"
	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/retry"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
}

func WriteAuditTable(w io.Writer, records []audit.Record) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "TIMESTAMP\tMODULE\tACTION\tRESOURCE\tUSER\tSTATUS")
	for _, r := range records {
		resource := r.ResourceType + "/" + r.ResourceID
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			formatTime(r.Timestamp), r.Module, r.Action, resource, r.UserID, string(r.Status))
	}
	_ = tw.Flush()
}

func WriteDeadLetterTable(w io.Writer, dls []retry.DeadLetter) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "ID\tEVENT_TYPE\tHANDLER\tATTEMPTS\tREPLAYS\tCREATED\tLAST_ERROR")
	for _, dl := range dls {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			dl.ID, dl.Event.Type, dl.HandlerID, dl.Attempts, dl.ReplayCount,
			formatTime(dl.CreatedAt), truncate(dl.LastError, 60))
	}
	_ = tw.Flush()
}

func WriteSubscriptionTable(w io.Writer, subs api.SubscriptionsResponse) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "HANDLER\tEVENT_TYPE\tMODULE\tQUEUE\tSUCCEEDED\tFAILED\tDROPPED")
	for _, h := range subs.Health {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\n",
			h.HandlerID, h.EventType, h.Module, h.QueueLength, h.QueueCapacity, h.Succeeded, h.Failed, h.Dropped)
	}
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
