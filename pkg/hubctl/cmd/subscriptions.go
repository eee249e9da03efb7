package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/integration-hub/pkg/hubctl/output"
)

func NewSubscriptionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "List registered handlers and their counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			subs, err := apiClient.Subscriptions(cmd.Context())
			if err != nil {
				return err
			}
			return render(rt, subs, func(w io.Writer) { output.WriteSubscriptionTable(w, subs) })
		},
	}
}
