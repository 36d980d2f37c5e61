package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/portal/internal/clientconfig"
	"github.com/marcus/portal/internal/output"
	"github.com/marcus/portal/internal/portal"
	"github.com/marcus/portal/internal/portalclient"
)

var schemaCmd = &cobra.Command{
	Use:     "schema",
	Short:   "Print the JSON Schema of the configuration document",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")
		if !remote {
			return output.JSON(portal.Schema())
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		raw, err := portalclient.New(clientconfig.GetServerURL(), nil).Schema(ctx)
		if err != nil {
			output.Error("fetch schema: %v", err)
			return err
		}
		fmt.Println(formatRaw(raw))
		return nil
	},
}

func init() {
	schemaCmd.Flags().Bool("remote", false, "fetch the schema served by the origin")
	rootCmd.AddCommand(schemaCmd)
}
