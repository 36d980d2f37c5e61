package cmd

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/portal/internal/output"
	"github.com/marcus/portal/internal/tui/monitor"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of the effective configuration",
	Long: `Opens a live view of the effective configuration. It redraws when this
or any other context on the host edits the draft, and reloads from the
server when another context commits.`,
	GroupID: "preview",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := openContext(cmd.Context(), true)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer cc.Close()

		m := monitor.NewModel(cc.store)
		defer m.Close()

		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		if _, err := p.Run(); err != nil {
			output.Error("watch: %v", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
