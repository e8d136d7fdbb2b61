package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"stockwatch/internal/config"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			view := redacted(app.Config)
			if output.IsStructured() {
				return output.Structured(view)
			}
			data, err := yaml.Marshal(view)
			if err != nil {
				return err
			}
			output.Printf("%s", data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsStructured() {
				return output.Structured(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and push credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if err := app.Config.RequirePushCredentials(); err != nil {
				output.Error("Push credentials: %v", err)
				return err
			}
			if output.IsStructured() {
				return output.Structured(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "init",
		Short:       "Write config.toml and credentials.toml templates",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			// Load writes config.toml when it is missing and reports that as an error.
			if _, err := config.Load(app.ConfigDir); err != nil {
				app.Logger.Debug().Err(err).Msg("Config load during init")
			}
			creds, err := config.WriteCredentialsTemplate(app.ConfigDir)
			if err != nil {
				return err
			}
			paths := map[string]string{
				"config":      filepath.Join(app.ConfigDir, "config.toml"),
				"credentials": creds,
			}
			if output.IsStructured() {
				return output.Structured(paths)
			}
			output.Success("Config:      %s", paths["config"])
			output.Success("Credentials: %s", paths["credentials"])
			return nil
		},
	})

	return cmd
}

// redacted copies cfg with secrets blanked for display.
func redacted(cfg *config.Config) config.Config {
	view := *cfg
	if view.Credentials.PrivateKey != "" {
		view.Credentials.PrivateKey = "[redacted]"
	}
	if view.Database.DSN != "" {
		view.Database.DSN = "[redacted]"
	}
	return view
}
