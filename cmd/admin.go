package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/marcus/portal/internal/clientconfig"
	"github.com/marcus/portal/internal/output"
	"github.com/marcus/portal/internal/portal"
)

var adminCmd = &cobra.Command{
	Use:     "admin",
	Short:   "Manage the administrator credential",
	GroupID: "config",
}

var adminEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Set the administrator in the local draft",
	Long: `Sets the administrator username and password in the local draft. A fresh
salt is generated and only the salted hash is stored. The change takes
effect on the server with the next commit, which must still be
authorized by the current administrator.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := openContext(cmd.Context(), false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cc.Close()

		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if username == "" {
			username = portal.DefaultAdminUsername
			if current := cc.store.Effective().Administrator; current != nil && current.Username != "" {
				username = current.Username
			}
		}
		if password == "" {
			var confirm string
			if err := adminForm(&username, &password, &confirm).Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				output.Error("%v", err)
				return err
			}
		}
		if err := validateUsername(username); err != nil {
			output.Error("%v", err)
			return err
		}

		admin, err := portal.NewAdministrator(strings.TrimSpace(username), password)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if _, err := cc.store.SetField("administrator", admin); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("administrator %s set in draft %s", admin.Username, output.DraftBadge(true))
		output.Info("run 'portal config commit' to save it")
		return nil
	},
}

var adminLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save the administrator credential for commits",
	Long: `Hashes the password with the salt of the configured administrator and
saves the result in ~/.config/portal/auth.json (mode 0600).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := openContext(cmd.Context(), false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cc.Close()

		admin := cc.store.Base().Administrator
		if admin == nil {
			err := errors.New("the server has no administrator yet; use 'portal admin edit' and commit")
			output.Error("%v", err)
			return err
		}

		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		if username == "" {
			username = admin.Username
		}
		if password == "" {
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().Title("Username").Value(&username).Validate(validateUsername),
				huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&password),
			))
			if err := form.Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return nil
				}
				output.Error("%v", err)
				return err
			}
		}

		cred := admin.Credential(password)
		cred.Username = username
		if err := clientconfig.SaveAuth(&clientconfig.AuthCredentials{
			Username:     cred.Username,
			PasswordHash: cred.PasswordHash,
			ServerURL:    clientconfig.GetServerURL(),
		}); err != nil {
			output.Error("save credential: %v", err)
			return err
		}
		if !admin.Verify(cred) {
			output.Warning("credential saved but does not match the server's administrator")
			return nil
		}
		output.Success("logged in as %s", username)
		return nil
	},
}

var adminLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the saved credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := clientconfig.ClearAuth(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("logged out")
		return nil
	},
}

var adminHashCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print the salted hash of a password",
	Long:  `Prints hex(sha256(salt + password)), the value sent as auth.passwordHash.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		salt, _ := cmd.Flags().GetString("salt")
		if salt == "" {
			var err error
			if salt, err = portal.GenerateSalt(); err != nil {
				output.Error("%v", err)
				return err
			}
			fmt.Printf("salt: %s\n", salt)
		}
		fmt.Println(portal.HashPassword(salt, args[0]))
		return nil
	},
}

// adminForm asks for a username and a confirmed password.
func adminForm(username, password, confirm *string) *huh.Form {
	return huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Administrator username").
			Value(username).
			Validate(validateUsername),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(password).
			Validate(validatePassword),
		huh.NewInput().
			Title("Confirm password").
			EchoMode(huh.EchoModePassword).
			Value(confirm).
			Validate(func(s string) error { return confirmPassword(*password, s) }),
	))
}

func validateUsername(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("username is required")
	}
	return nil
}

func validatePassword(s string) error {
	if len(s) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}

func confirmPassword(password, confirm string) error {
	if password != confirm {
		return errors.New("passwords do not match")
	}
	return nil
}

func init() {
	adminEditCmd.Flags().String("username", "", "administrator username")
	adminEditCmd.Flags().String("password", "", "administrator password (skips the form)")
	adminLoginCmd.Flags().String("username", "", "administrator username")
	adminLoginCmd.Flags().String("password", "", "administrator password (skips the form)")
	adminHashCmd.Flags().String("salt", "", "salt (default: a fresh one, printed first)")

	adminCmd.AddCommand(adminEditCmd, adminLoginCmd, adminLogoutCmd, adminHashCmd)
	rootCmd.AddCommand(adminCmd)
}
