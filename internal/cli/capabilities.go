package cli

import (
	"fmt"

	"github.com/harun/agentcore/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "List known capabilities",
	Long: `List every capability the runtime can build. Capabilities enabled for
the configured tenant are marked with '*'.`,
	RunE: runCapabilities,
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tenant := cfg.TenantConfig()
	toolbox := tools.NewToolbox(cfg.ToolSettings(), zerolog.Nop())
	defer toolbox.Close()

	out := cmd.OutOrStdout()
	for _, name := range toolbox.CatalogNames() {
		mark := " "
		if tenant.HasCapability(name) {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %s\n", mark, name)
	}
	return nil
}
