package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/targetd/pkg/config"
)

func newValidateConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate the profile config file without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}

			profile, err := config.Load(configPath, profileName)
			if err != nil {
				return fmt.Errorf("load profile: %w", err)
			}

			log.Info().
				Str("profile", profile.Name).
				Str("database", profile.Database.Path).
				Str("listen", profile.Listen.Address).
				Int("tokens", len(profile.Tokens)).
				Msg("profile is valid")

			fmt.Printf("profile %q is valid\n", profile.Name)
			return nil
		},
	}
	return cmd
}
