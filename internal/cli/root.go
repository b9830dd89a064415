package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// userFlag overrides the configured current user for one invocation.
var userFlag string

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "duegate",
	Short: "duegate - overdue task gatekeeper",
	Long: `duegate tracks task due dates in business days and enforces the
overdue policy on a shared task board.

Tasks left overdue past the grace period are moved to blocked, and
their assignees are blocked until the work is completed or paused.
A blocked user can self-unblock once, which opens a short grace window
for resolving the overdue work.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("duegate %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "Act as this user (defaults to the configured user)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
