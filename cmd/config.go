package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marcus/portal/internal/clientconfig"
	"github.com/marcus/portal/internal/output"
	"github.com/marcus/portal/internal/portal"
	"github.com/marcus/portal/internal/store"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Show and edit the portal configuration",
	GroupID: "config",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Shows the effective configuration: the server's base configuration with
the local draft layered on top. --base and --override show the layers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := openContext(cmd.Context(), false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cc.Close()

		base, _ := cmd.Flags().GetBool("base")
		override, _ := cmd.Flags().GetBool("override")
		asJSON, _ := cmd.Flags().GetBool("json")
		asYAML, _ := cmd.Flags().GetBool("yaml")

		cfg := cc.store.Effective()
		switch {
		case base:
			cfg = cc.store.Base()
		case override:
			cfg = cc.store.Override()
		}

		switch {
		case asJSON:
			return output.JSON(cfg)
		case asYAML:
			out, err := toYAML(cfg)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			fmt.Print(out)
			return nil
		}

		draft := cc.store.Override()
		fmt.Print(output.FormatSummary(cfg, !base && hasDraft(draft)))
		if len(cfg.Branding.Colors) > 0 {
			fmt.Print(output.SectionHeader("colors"))
			drafted := map[string]bool{}
			if !base {
				for k := range draft.Branding.Colors {
					drafted[k] = true
				}
			}
			fmt.Print(output.FormatColors(cfg.Branding.Colors, drafted))
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Print one field of the effective configuration",
	Example: `  portal config get branding.title
  portal config get branding.colors.primary
  portal config get links.staff`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := openContext(cmd.Context(), false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cc.Close()

		raw, ok := cc.store.Effective().Lookup(args[0])
		if !ok {
			err := fmt.Errorf("%s is not set", args[0])
			output.Error("%v", err)
			return err
		}
		fmt.Println(formatRaw(raw))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <path> <value>",
	Short: "Set a field in the local draft",
	Long: `Sets a field in the local draft. The value is parsed as JSON when it is
valid JSON and taken as a string otherwise. Colors are normalized to hex;
values that are not colors are rejected.

Setting a field inside a role's links copies that role's current list into
the draft first, so the draft always carries the whole list.`,
	Example: `  portal config set branding.title "Northside Academy"
  portal config set branding.colors.primary rebeccapurple
  portal config set links.staff.0.title Mail
  portal config set links.students '[{"title":"Library","url":"https://lib.example"}]'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSet(cmd, args[0], portal.ParseValue(args[1]))
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <path>",
	Short: "Remove a field from the local draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSet(cmd, args[0], nil)
	},
}

func runSet(cmd *cobra.Command, path string, value any) error {
	cc, err := openContext(cmd.Context(), false)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer cc.Close()

	eff, err := cc.store.SetField(path, value)
	if err != nil {
		if errors.Is(err, portal.ErrInvalidColor) || errors.Is(err, portal.ErrInvalidPath) || errors.Is(err, portal.ErrInvalidTransparency) || errors.Is(err, portal.ErrInvalidValue) {
			output.Error("%v (draft unchanged)", err)
		} else {
			output.Error("set %s: %v", path, err)
		}
		return err
	}

	if raw, ok := eff.Lookup(path); ok {
		output.Success("%s = %s %s", path, formatRaw(raw), output.DraftBadge(true))
	} else {
		output.Success("%s removed from draft", path)
	}

	if publish, _ := cmd.Flags().GetBool("publish"); publish {
		return publishDraft(cmd, cc)
	}
	return nil
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the local draft",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := openContext(cmd.Context(), false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cc.Close()

		if err := cc.store.ResetToDefault(); err != nil {
			output.Error("reset: %v", err)
			return err
		}
		if cc.worker != nil {
			if err := cc.store.ClearPublished(cmd.Context()); err != nil {
				output.Warning("%v", err)
			}
		}
		output.Success("draft discarded")
		return nil
	},
}

var configDiffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show what the draft changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := openContext(cmd.Context(), false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cc.Close()

		diff := cmp.Diff(cc.store.Base(), cc.store.Effective())
		if diff == "" {
			fmt.Println("no draft changes")
			return nil
		}
		fmt.Print(diff)
		return nil
	},
}

var configCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Save the effective configuration to the server",
	Long: `Saves the effective configuration to the server and clears the draft.

The credential comes from --username/--password when given (the password is
hashed with the salt of the configured administrator), otherwise from
PORTAL_ADMIN_USER/PORTAL_ADMIN_HASH or the one saved by 'portal admin login'.
When the server rejects the credential the draft is kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := openContext(cmd.Context(), false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cc.Close()

		auth, err := commitCredential(cmd, cc)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		cfg, err := cc.store.Commit(cmd.Context(), auth)
		if err != nil {
			if errors.Is(err, store.ErrAuth) {
				output.Error("the server rejected the credentials for %s; your draft is kept", auth.Username)
			} else {
				output.Error("%v; your draft is kept", err)
			}
			return err
		}
		output.Success("saved %q to %s", cfg.TitleOrDefault(), clientconfig.GetServerURL())
		return nil
	},
}

// commitCredential resolves the save credential. A password is hashed with
// the salt of the administrator in the effective configuration, which is
// what the server will hold after a first save.
func commitCredential(cmd *cobra.Command, cc *clientContext) (portal.Credential, error) {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	if password != "" {
		admin := cc.store.Effective().Administrator
		if admin == nil {
			return portal.Credential{}, errors.New("no administrator is configured; run 'portal admin edit' first")
		}
		cred := admin.Credential(password)
		if username != "" {
			cred.Username = username
		}
		return cred, nil
	}
	if cred, ok := clientconfig.GetCredential(); ok {
		return cred, nil
	}
	return portal.Credential{}, errors.New("no credential: pass --password or run 'portal admin login'")
}

var configPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Push the effective configuration to the edge worker",
	Long: `Pushes the effective configuration to the edge worker named by
PORTAL_WORKER_URL. Until it is cleared or a commit succeeds, every fetch of
/config.json through the worker returns this configuration.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := openContext(cmd.Context(), false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cc.Close()
		return publishDraft(cmd, cc)
	},
}

func publishDraft(cmd *cobra.Command, cc *clientContext) error {
	if err := cc.store.PublishOverride(cmd.Context()); err != nil {
		if errors.Is(err, store.ErrNoController) {
			output.Error("no edge worker configured; set PORTAL_WORKER_URL or run 'portal edge'")
		} else {
			output.Error("%v", err)
		}
		return err
	}
	output.Success("preview published to %s", clientconfig.GetWorkerURL())
	return nil
}

var configClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Make the edge worker serve the server's configuration again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := openContext(cmd.Context(), false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cc.Close()

		if err := cc.store.ClearPublished(cmd.Context()); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("edge worker override cleared")
		return nil
	},
}

// formatRaw prints strings bare and everything else as indented JSON.
func formatRaw(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func hasDraft(override portal.Config) bool {
	return override.String() != "{}"
}

// toYAML renders cfg through its JSON form so unknown keys are kept.
func toYAML(cfg portal.Config) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return "", err
	}
	out, err := yaml.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	return string(out), nil
}

func init() {
	configShowCmd.Flags().Bool("base", false, "show the server's configuration without the draft")
	configShowCmd.Flags().Bool("override", false, "show only the local draft")
	configShowCmd.Flags().Bool("json", false, "JSON output")
	configShowCmd.Flags().Bool("yaml", false, "YAML output")
	configShowCmd.MarkFlagsMutuallyExclusive("base", "override")
	configShowCmd.MarkFlagsMutuallyExclusive("json", "yaml")

	configSetCmd.Flags().Bool("publish", false, "also push the result to the edge worker")
	configUnsetCmd.Flags().Bool("publish", false, "also push the result to the edge worker")

	configCommitCmd.Flags().String("username", "", "administrator username (default: the configured one)")
	configCommitCmd.Flags().String("password", "", "administrator password")

	configCmd.AddCommand(
		configShowCmd,
		configGetCmd,
		configSetCmd,
		configUnsetCmd,
		configResetCmd,
		configDiffCmd,
		configCommitCmd,
		configPublishCmd,
		configClearCmd,
	)
	rootCmd.AddCommand(configCmd)
}
