// Crucible - turn-based AI evaluation sessions.
//
// Defend your project in a Viva Simulation or fight the Boss Battle.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible - turn-based AI evaluation sessions",
	Long: `Crucible runs turn-based evaluation sessions against an AI judge.
Defend your project in a Viva Simulation or fight the Boss Battle.

  crucible serve                                Start the server
  crucible start owner/repo --mode battle       Start a session
  crucible answer <id> "my answer"              Submit a response
  crucible advance <id>                         Advance a viva to the next question
  crucible finish <id>                          Complete a viva
  crucible abandon <id>                         Abandon a session
  crucible list                                 List sessions
  crucible status <id>                          Check session status
  crucible watch <id>                           Stream session events`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CRUCIBLE_SERVER", "http://localhost:7080"), "Crucible server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
