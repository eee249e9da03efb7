package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/integration-hub/pkg/hubctl/client"
	"github.com/telekom/integration-hub/pkg/hubctl/output"
)

func NewDeadLetterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dl"},
		Short:   "Inspect and replay dead-lettered deliveries",
	}
	cmd.AddCommand(
		newDeadLetterListCommand(),
		newDeadLetterReplayCommand(),
	)
	return cmd
}

func newDeadLetterListCommand() *cobra.Command {
	var q client.DeadLetterQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			dls, err := apiClient.ListDeadLetters(cmd.Context(), q)
			if err != nil {
				return err
			}
			return render(rt, dls, func(w io.Writer) { output.WriteDeadLetterTable(w, dls) })
		},
	}
	cmd.Flags().StringVar(&q.HandlerID, "handler", "", "Filter by handler ID")
	cmd.Flags().StringVar(&q.EventType, "event-type", "", "Filter by event type")
	cmd.Flags().StringVar(&q.CorrelationID, "correlation-id", "", "Filter by correlation ID")
	cmd.Flags().BoolVar(&q.Unreplayed, "unreplayed", false, "Only dead letters never replayed")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "Maximum number of dead letters")
	return cmd
}

func newDeadLetterReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay ID",
		Short: "Schedule a dead letter for redelivery",
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
			resp, err := apiClient.ReplayDeadLetter(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(rt, resp, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "dead letter %s scheduled for replay\n", resp.ID)
			})
		},
	}
}
