package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/njoerd114/familywall/internal/config"
	"github.com/njoerd114/familywall/internal/service"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run the daemon as a background service (launchd or systemd)",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the background service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := newServiceManager()
		if err != nil {
			return err
		}
		cfgPath := viper.GetString("config")
		if _, err := config.Load(cfgPath); err != nil {
			return fmt.Errorf("refusing to install with an unusable config: %w", err)
		}
		dest, err := m.Install()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Service installed at %s\n", dest)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the background service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := newServiceManager()
		if err != nil {
			return err
		}
		if err := m.Uninstall(); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Service removed. Config and cache were left in place.")
		return nil
	},
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd, serviceUninstallCmd)
	rootCmd.AddCommand(serviceCmd)
}

func newServiceManager() (*service.Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving current executable path: %w", err)
	}
	if self, err = filepath.EvalSymlinks(self); err != nil {
		return nil, fmt.Errorf("resolving executable symlinks: %w", err)
	}
	cfgPath, err := filepath.Abs(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	return service.New(home, self, cfgPath), nil
}
