package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/certvault-go/config"
	"github.com/bitfsorg/certvault-go/identity"
)

func newInitCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file, encryption key and issuer identity",
		Long: `Create a configuration file, encryption key and issuer identity in the
data directory. Existing files are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir := cmd.Flag("datadir").Value.String()
			cfgPath := cmd.Flag("config").Value.String()
			if cfgPath == "" {
				cfgPath = config.ConfigPath(dataDir)
			}

			cfg, _, err := loadConfig(cfgPath, dataDir)
			if err != nil {
				return err
			}
			if _, err := config.EnsureEncryptionKey(cfgPath, &cfg); err != nil {
				return err
			}
			issuer, _, err := identity.LoadOrCreate(cfg.IdentityPath())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config:   %s\n", cfgPath)
			fmt.Fprintf(out, "identity: %s\n", cfg.IdentityPath())
			fmt.Fprintf(out, "issuer:   %s\n", issuer.ID())
			return nil
		},
	}
	c.Flags().StringP("datadir", "d", config.DefaultDataDir(), "Data directory")
	c.Flags().StringP("config", "c", "", "Configuration file (default {datadir}/config)")
	return c
}
