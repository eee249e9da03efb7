package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/integration-hub/pkg/hubctl/client"
	"github.com/telekom/integration-hub/pkg/hubctl/output"
)

func NewAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and verify the audit trail",
	}
	cmd.AddCommand(
		newAuditQueryCommand(),
		newAuditTrailCommand(),
		newAuditVerifyCommand(),
	)
	return cmd
}

func newAuditQueryCommand() *cobra.Command {
	var (
		q        client.AuditQuery
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List audit records matching the given filters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if q.From, err = parseTimeFlag("from", from); err != nil {
				return err
			}
			if q.To, err = parseTimeFlag("to", to); err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			records, err := apiClient.QueryAudit(cmd.Context(), q)
			if err != nil {
				return err
			}
			return render(rt, records, func(w io.Writer) { output.WriteAuditTable(w, records) })
		},
	}
	cmd.Flags().StringVar(&q.CorrelationID, "correlation-id", "", "Filter by correlation ID")
	cmd.Flags().StringVar(&q.Module, "module", "", "Filter by module, e.g. ASSETS")
	cmd.Flags().StringVar(&q.ResourceID, "resource-id", "", "Filter by resource ID")
	cmd.Flags().StringVar(&q.Action, "action", "", "Filter by action, e.g. ASSET_RECLAIMED")
	cmd.Flags().StringVar(&q.Status, "status", "", "Filter by status: success, failed, pending")
	cmd.Flags().StringVar(&from, "from", "", "Only records at or after this RFC 3339 time")
	cmd.Flags().StringVar(&to, "to", "", "Only records before this RFC 3339 time")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "Maximum number of records")
	return cmd
}

func newAuditTrailCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trail CORRELATION_ID",
		Short: "Show every record of one workflow in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			records, err := apiClient.QueryAudit(cmd.Context(), client.AuditQuery{CorrelationID: args[0]})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("no audit records for correlation ID %s", args[0])
			}
			return render(rt, records, func(w io.Writer) { output.WriteAuditTable(w, records) })
		},
	}
}

func newAuditVerifyCommand() *cobra.Command {
	var correlationID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			resp, err := apiClient.VerifyAudit(cmd.Context(), correlationID)
			var httpErr *client.HTTPError
			if errors.As(err, &httpErr) && httpErr.Code == "CHAIN_BROKEN" {
				return fmt.Errorf("audit trail verification FAILED: %s", httpErr.Details)
			}
			if err != nil {
				return err
			}
			return render(rt, resp, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "audit trail OK: %d record(s) verified\n", resp.Verified)
			})
		},
	}
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Only verify records of this workflow")
	return cmd
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t, nil
}
