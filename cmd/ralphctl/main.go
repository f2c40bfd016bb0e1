// Command ralphctl is the remote control CLI for ralphd: it drives a
// running engine over the remote control plane (internal/remote/client)
// the same way agentctl once drove agentd over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per the remote push-config surface: 0 success, 1 transport or
// protocol failure, 2 argument error, 3 remote refused.
const (
	exitOK        = 0
	exitTransport = 1
	exitArgs      = 2
	exitRefused   = 3
)

func main() {
	root := &cobra.Command{
		Use:           "ralphctl",
		Short:         "Remote control CLI for ralphd",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRemoteCmd())
	root.AddCommand(newDoctorCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to the CLI's exit code taxonomy.
// argError and refusedError are sentinel wrappers set by the subcommands;
// anything else (dial failures, protocol errors) is a transport failure.
func exitCodeFor(err error) int {
	switch {
	case asArgError(err):
		return exitArgs
	case asRefusedError(err):
		return exitRefused
	default:
		return exitTransport
	}
}
