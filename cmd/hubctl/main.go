package main

import (
	"fmt"
	"os"

	hubctlcmd "github.com/telekom/integration-hub/pkg/hubctl/cmd"
)

func main() {
	root := hubctlcmd.NewRootCommand(hubctlcmd.DefaultConfig())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
