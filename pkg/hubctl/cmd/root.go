package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telekom/integration-hub/pkg/hubctl/client"
	"github.com/telekom/integration-hub/pkg/hubctl/output"
	"github.com/telekom/integration-hub/pkg/version"
)

// DefaultServer is used when neither --server nor HUBCTL_SERVER is set.
const DefaultServer = "http://localhost:8080"

type Config struct {
	OutputWriter io.Writer
	// Getenv resolves environment fallbacks; nil means os.Getenv.
	Getenv func(string) string
}

type runtimeState struct {
	outputFormat string
	server       string
	user         string
	caFile       string
	insecure     bool
	writer       io.Writer
	getenv       func(string) string
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{OutputWriter: os.Stdout}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{writer: cfg.OutputWriter, getenv: cfg.Getenv}
	if rt.getenv == nil {
		rt.getenv = os.Getenv
	}

	root := &cobra.Command{
		Use:           "hubctl",
		Short:         "Integration hub CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.server == "" {
				rt.server = rt.getenv("HUBCTL_SERVER")
			}
			if rt.server == "" {
				rt.server = DefaultServer
			}
			if rt.outputFormat == "" {
				rt.outputFormat = rt.getenv("HUBCTL_OUTPUT")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = string(output.FormatTable)
			}
			if !output.Format(rt.outputFormat).Valid() {
				return fmt.Errorf("unknown output format: %s", rt.outputFormat)
			}
			if rt.user == "" {
				rt.user = rt.getenv("HUBCTL_USER")
			}
			if !rt.insecure {
				rt.insecure, _ = strconv.ParseBool(rt.getenv("HUBCTL_INSECURE_SKIP_TLS_VERIFY"))
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml (env HUBCTL_OUTPUT)")
	root.PersistentFlags().StringVar(&rt.server, "server", "", "Hub API base URL (env HUBCTL_SERVER)")
	root.PersistentFlags().StringVar(&rt.user, "user", "", "Acting user sent as X-User-ID (env HUBCTL_USER)")
	root.PersistentFlags().StringVar(&rt.caFile, "ca-file", "", "CA bundle for the hub's TLS certificate")
	root.PersistentFlags().BoolVar(&rt.insecure, "insecure-skip-tls-verify", false, "Skip TLS certificate verification")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewAuditCommand(),
		NewDeadLetterCommand(),
		NewWorkflowCommand(),
		NewSubscriptionsCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)
	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Format() output.Format {
	return output.Format(rt.outputFormat)
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func buildClient(rt *runtimeState) (*client.Client, error) {
	return client.New(
		client.WithServer(rt.server),
		client.WithUser(rt.user),
		client.WithUserAgent(version.UserAgent("hubctl")),
		client.WithTLSConfig(rt.caFile, rt.insecure),
	)
}

// render writes obj as JSON/YAML, or calls table for the table format.
func render(rt *runtimeState, obj any, table func(io.Writer)) error {
	if rt.Format() == output.FormatTable {
		table(rt.Writer())
		return nil
	}
	return output.WriteObject(rt.Writer(), rt.Format(), obj)
}
