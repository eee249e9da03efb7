package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/integration-hub/pkg/api"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/orchestrator"
)

func NewWorkflowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Start cross-module workflows",
	}
	cmd.AddCommand(newWorkflowOffboardCommand())
	return cmd
}

func newWorkflowOffboardCommand() *cobra.Command {
	var (
		req             orchestrator.OffboardingRequest
		offboardingType string
	)
	cmd := &cobra.Command{
		Use:   "offboard",
		Short: "Offboard an employee",
		Example: `  hubctl workflow offboard --employee-id 42 --type RESIGNATION --exit-date 2026-06-30 \
    --asset LAPTOP-17 --access vpn --access github`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			req.OffboardingType = event.OffboardingType(offboardingType)
			if err := req.Validate(); err != nil {
				return err
			}
			apiClient, err := buildClient(rt)
			if err != nil {
				return err
			}
			corr, err := apiClient.StartOffboarding(cmd.Context(), req)
			if err != nil {
				return err
			}
			resp := api.WorkflowResponse{CorrelationID: corr}
			return render(rt, resp, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "offboarding started, correlation ID %s\n", corr)
			})
		},
	}
	cmd.Flags().Int64Var(&req.EmployeeID, "employee-id", 0, "Employee ID")
	cmd.Flags().StringVar(&req.EmployeeName, "employee-name", "", "Employee display name")
	cmd.Flags().StringVar(&offboardingType, "type", "", "RESIGNATION, TERMINATION, RETIREMENT or CONTRACT_END")
	cmd.Flags().StringVar(&req.ExitDate, "exit-date", "", "Exit date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&req.AssetsToReturn, "asset", nil, "Asset tag to reclaim (repeatable)")
	cmd.Flags().StringSliceVar(&req.AccessToRevoke, "access", nil, "System to revoke access to (repeatable)")
	_ = cmd.MarkFlagRequired("employee-id")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("exit-date")
	return cmd
}
