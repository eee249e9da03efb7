package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/integration-hub/pkg/version"
)

type versionOutput struct {
	Client version.BuildInfo  `json:"client"`
	Server *version.BuildInfo `json:"server,omitempty"`
}

func NewVersionCommand() *cobra.Command {
	var clientOnly bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show hubctl and server versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			out := versionOutput{Client: version.GetBuildInfo()}
			var serverErr error
			if !clientOnly {
				apiClient, err := buildClient(rt)
				if err != nil {
					return err
				}
				info, err := apiClient.ServerVersion(cmd.Context())
				if err == nil {
					out.Server = &info
				}
				serverErr = err
			}
			return render(rt, out, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "hubctl %s built %s\n", out.Client, out.Client.BuildDate)
				switch {
				case out.Server != nil:
					_, _ = fmt.Fprintf(w, "server %s\n", out.Server)
				case serverErr != nil:
					_, _ = fmt.Fprintf(w, "server unreachable: %v\n", serverErr)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&clientOnly, "client", false, "Only print the client version")
	return cmd
}
