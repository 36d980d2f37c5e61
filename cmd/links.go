package cmd

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/portal/internal/output"
	"github.com/marcus/portal/internal/portal"
)

var linksCmd = &cobra.Command{
	Use:   "links [role]",
	Short: "List the links shown to a role",
	Long: `Lists the links of the effective configuration, for one role or for all of them.

With --claims, the role is picked from the roles claim of an identity token
(a JSON object; "-" reads stdin) the way the portal page picks it for a
signed-in user. Unrecognized roles fall back to anonymous.`,
	Example: `  portal links staff
  portal links --claims id_token_claims.json`,
	GroupID:   "preview",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: roleNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		var role portal.Role
		claimsPath, _ := cmd.Flags().GetString("claims")
		switch {
		case len(args) == 1 && claimsPath != "":
			err := errors.New("give a role or --claims, not both")
			output.Error("%v", err)
			return err
		case len(args) == 1:
			r, err := parseRole(args[0])
			if err != nil {
				output.Error("%v", err)
				return err
			}
			role = r
		case claimsPath != "":
			claims, err := readClaims(claimsPath)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			role = portal.RoleFromClaims(claims)
			output.Info("role %s (claims: %s)", role, cmp.Or(strings.Join(portal.RolesFromClaims(claims), ", "), "none"))
		}

		cc, err := openContext(cmd.Context(), false)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cc.Close()

		rendered, err := output.RenderLinks(cc.store.Effective(), role)
		if err != nil {
			output.Error("render links: %v", err)
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func roleNames() []string {
	names := make([]string, len(portal.Roles))
	for i, r := range portal.Roles {
		names[i] = string(r)
	}
	return names
}

// parseRole accepts a known role name in any case.
func parseRole(s string) (portal.Role, error) {
	r := portal.Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q (valid: %s)", s, strings.Join(roleNames(), ", "))
	}
	return r, nil
}

// readClaims decodes a JSON object of identity token claims from path, or
// from stdin when path is "-".
func readClaims(path string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read claims: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("parse claims %s: %w", path, err)
	}
	return claims, nil
}

func init() {
	linksCmd.Flags().String("claims", "", "pick the role from an identity token claims file")
	rootCmd.AddCommand(linksCmd)
}
