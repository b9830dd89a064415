package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/pkg/models"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage user accounts and blocking",
}

var accountStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the current user is blocked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Accounts == nil || Lifecycle == nil {
			return fmt.Errorf("account store not initialized")
		}
		session, err := currentSession()
		if err != nil {
			return err
		}

		account, err := Accounts.GetUser(cmd.Context(), session.User)
		if errors.Is(err, core.ErrUserNotFound) {
			account = &models.UserAccount{Username: session.User}
		} else if err != nil {
			return fmt.Errorf("getting account: %w", err)
		}

		var lines []string
		if account.IsBlocked {
			lines = append(lines, fmt.Sprintf("%s is %s", account.Username, blockedStyle.Render("BLOCKED")))
			lines = append(lines, "Reason:  "+account.BlockedReason)
			lines = append(lines, "Since:   "+formatTimestamp(account.BlockedAt))
		} else {
			lines = append(lines, fmt.Sprintf("%s is %s", account.Username, okStyle.Render("active")))
		}

		status, err := Lifecycle.GraceStatus(session)
		if err != nil {
			return fmt.Errorf("reading grace period: %w", err)
		}
		if status.Active {
			remaining := time.Duration(status.RemainingMs) * time.Millisecond
			lines = append(lines, warnStyle.Render(fmt.Sprintf("Grace period: %s remaining", remaining.Round(time.Second))))
		}

		fmt.Println(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
		return nil
	},
}

var accountCreateRole string

var accountCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Register a user account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Accounts == nil {
			return fmt.Errorf("account store not initialized")
		}
		account, err := Accounts.CreateUser(cmd.Context(), args[0], accountCreateRole)
		if err != nil {
			return fmt.Errorf("creating account: %w", err)
		}
		fmt.Printf("Created account %s\n", account.Username)
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Accounts == nil {
			return fmt.Errorf("account store not initialized")
		}
		users, err := Accounts.ListUsers(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing accounts: %w", err)
		}
		if len(users) == 0 {
			fmt.Println("No accounts found.")
			return nil
		}
		fmt.Printf("%-20s  %-10s  %-8s  %s\n", "USER", "ROLE", "BLOCKED", "SINCE")
		for _, u := range users {
			blocked := "no"
			if u.IsBlocked {
				blocked = "yes"
			}
			fmt.Printf("%-20s  %-10s  %-8s  %s\n", u.Username, u.Role, blocked, formatTimestamp(u.BlockedAt))
		}
		return nil
	},
}

var accountSelfUnblockCmd = &cobra.Command{
	Use:   "self-unblock",
	Short: "Lift your own block and start the grace period",
	Long: `Lift the current user's account block and open the self-unblock
grace period.

Use the window to complete or pause your overdue tasks. When it ends,
your account is blocked again if any overdue task is still open. Run
'duegate grace watch' to follow the countdown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Lifecycle == nil {
			return fmt.Errorf("task manager not initialized")
		}
		session, err := currentSession()
		if err != nil {
			return err
		}

		status, err := Lifecycle.SelfUnblock(cmd.Context(), session, nil)
		if errors.Is(err, core.ErrAccountNotBlocked) {
			fmt.Printf("%s is not blocked.\n", session.User)
			return nil
		}
		if err != nil {
			return err
		}

		remaining := time.Duration(status.RemainingMs) * time.Millisecond
		fmt.Printf("%s unblocked. Grace period: %s.\n", session.User, remaining.Round(time.Second))
		fmt.Println(subtleStyle.Render("Complete or pause your overdue tasks before it ends."))
		return nil
	},
}

var accountInstructionsCmd = &cobra.Command{
	Use:   "instructions",
	Short: "Explain how to resolve your blocked tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLifecycle(); err != nil {
			return err
		}
		user, err := currentUser()
		if err != nil {
			return err
		}
		tasks, err := listAllTasks(cmd.Context())
		if err != nil {
			return err
		}

		if !core.CanUserUnblockSelf(tasks, user) {
			fmt.Printf("%s has no blocked tasks to resolve.\n", user)
			return nil
		}
		fmt.Println(core.SelfUnblockInstructions(tasks, user))
		for _, t := range core.UserBlockedTasks(tasks, user) {
			fmt.Printf("  %-36s  %s\n", t.ID, t.Title)
		}
		return nil
	},
}

func init() {
	accountCreateCmd.Flags().StringVar(&accountCreateRole, "role", "", "Account role")
	accountCmd.AddCommand(accountStatusCmd, accountCreateCmd, accountListCmd, accountSelfUnblockCmd, accountInstructionsCmd)
	rootCmd.AddCommand(accountCmd)
}
