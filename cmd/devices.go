package cmd

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/darkistan/routerbot/internal/output"
	"github.com/darkistan/routerbot/internal/registry"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the registered devices",
	Long: `Load and validate the device registry, then print each device with
its endpoint, script count, and allowed-user count. Secrets are never
printed. A validation failure names the offending device and field.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return devicesRun()
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func devicesRun() error {
	path := viper.GetString("registry_path")
	reg, err := registry.Load(path)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	ui.Info("Registry: %s (%d devices)", path, len(reg))

	table := ui.Table([]string{"Name", "Endpoint", "User", "Scripts", "Allowed Users"})
	for _, name := range reg.Names() {
		dev := reg[name]
		scriptCount := fmt.Sprintf("%d", len(dev.Scripts))
		if !dev.Actionable() {
			scriptCount = output.Yellow("0 (not actionable)")
		}
		table.Append([]string{
			output.Cyan(dev.Name),
			net.JoinHostPort(dev.Address, fmt.Sprintf("%d", dev.Port)),
			dev.Username,
			scriptCount,
			fmt.Sprintf("%d", len(dev.AllowedUsers)),
		})
	}
	return table.Render()
}
