package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chaptertrack/internal/apperr"
	"chaptertrack/internal/identity"
	"chaptertrack/internal/remote"
	"chaptertrack/pkg/models"
)

func newAuthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Sign in to the cloud backup"}

	var username, email, password string

	register := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := needPassword(&password); err != nil {
				return err
			}
			res, err := a.httpStore().Register(cmd.Context(), username, email, password)
			if err != nil {
				return err
			}
			return a.signIn(cmd, res)
		},
	}
	register.Flags().StringVar(&username, "username", "", "username (3-30 chars)")
	register.Flags().StringVar(&email, "email", "", "email address")
	register.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	_ = register.MarkFlagRequired("username")
	_ = register.MarkFlagRequired("email")

	login := &cobra.Command{
		Use:   "login",
		Short: "Sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := needPassword(&password); err != nil {
				return err
			}
			res, err := a.httpStore().Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			return a.signIn(cmd, res)
		},
	}
	login.Flags().StringVar(&email, "email", "", "email address")
	login.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	_ = login.MarkFlagRequired("email")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Sign out on every device",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.identity()
			if err != nil {
				return err
			}
			if !id.Empty() {
				if err := a.httpStore().Logout(cmd.Context(), id); err != nil && apperr.CodeOf(err) != apperr.CodeUnauthenticated {
					printToast(cmd.ErrOrStderr(), toastWarn, "Server logout failed", err.Error())
				}
			}
			if err := a.signOut(cmd.Context()); err != nil {
				return err
			}
			printToast(cmd.OutOrStdout(), toastSuccess, "Signed out", "")
			return nil
		},
	}

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.identity()
			if err != nil {
				return err
			}
			p, err := a.httpStore().Me(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}

	var yes bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Schedule the account for deletion",
		Long: `Schedules the account and its cloud data for deletion after a grace
period and signs out everywhere. Log in again before the date and run
"auth cancel-delete" to keep the account.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.identity()
			if err != nil {
				return err
			}
			if err := id.Require(); err != nil {
				return err
			}
			if !yes {
				ok, err := confirm(cmd.Context(), "Delete your account?",
					"Your cloud backup and covers will be removed when the grace period ends.")
				if err != nil {
					return err
				}
				if !ok {
					printToast(cmd.OutOrStdout(), toastInfo, "Deletion cancelled", "")
					return nil
				}
			}
			p, err := a.httpStore().RequestDeletion(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := a.signOut(cmd.Context()); err != nil {
				return err
			}
			printToast(cmd.OutOrStdout(), toastWarn, "Account scheduled for deletion", scheduledText(p))
			return nil
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation")

	cancel := &cobra.Command{
		Use:   "cancel-delete",
		Short: "Keep an account scheduled for deletion",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.identity()
			if err != nil {
				return err
			}
			if _, err := a.httpStore().CancelDeletion(cmd.Context(), id); err != nil {
				return err
			}
			printToast(cmd.OutOrStdout(), toastSuccess, "Deletion cancelled", "your account stays active")
			return nil
		},
	}

	var oldPassword, newPassword string
	passwd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the password and sign in again",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.identity()
			if err != nil {
				return err
			}
			if err := id.Require(); err != nil {
				return err
			}
			if oldPassword == "" {
				if oldPassword, err = readPassword("Current password: "); err != nil {
					return err
				}
			}
			if newPassword == "" {
				if newPassword, err = readPassword("New password: "); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			if err := a.httpStore().ChangePassword(ctx, id, oldPassword, newPassword); err != nil {
				return err
			}
			res, err := a.httpStore().Login(ctx, id.Email, newPassword)
			if err != nil {
				_ = a.signOut(ctx)
				return err
			}
			return a.signIn(cmd, res)
		},
	}
	passwd.Flags().StringVar(&oldPassword, "old", "", "current password (prompted when empty)")
	passwd.Flags().StringVar(&newPassword, "new", "", "new password (prompted when empty)")

	cmd.AddCommand(register, login, logout, whoami, passwd, del, cancel)
	return cmd
}

func needPassword(p *string) error {
	if *p != "" {
		return nil
	}
	pw, err := readPassword("Password: ")
	if err != nil {
		return err
	}
	*p = pw
	return nil
}

// signIn stores the token. Switching accounts forgets the last sync so
// the first sync of the new account merges both sides.
func (a *app) signIn(cmd *cobra.Command, res remote.AuthResult) error {
	prev, _ := a.identity()
	if err := identity.Save(a.cfg.TokenPath, res.Token); err != nil {
		return apperr.Storage("save token", err)
	}
	if prev.UserID != res.User.ID {
		if err := a.open(); err != nil {
			return err
		}
		if err := a.settings.ClearLastSync(cmd.Context()); err != nil {
			return err
		}
	}

	detail := "signed in as " + res.User.Username
	if res.User.PendingDeletion {
		detail += "\n" + scheduledText(res.User) + "; run `auth cancel-delete` to keep it"
	}
	printToast(cmd.OutOrStdout(), toastSuccess, "Welcome", detail)
	return nil
}

func (a *app) signOut(ctx context.Context) error {
	if err := identity.Clear(a.cfg.TokenPath); err != nil {
		return apperr.Storage("remove token", err)
	}
	if err := a.open(); err != nil {
		return err
	}
	return a.settings.ClearLastSync(ctx)
}

func scheduledText(p models.UserProfile) string {
	if p.DeletionScheduledDate == nil {
		return "deletion pending"
	}
	return fmt.Sprintf("deletion on %s", strings.TrimSpace(p.DeletionScheduledDate.Local().Format(time.DateOnly)))
}
