package cmd

import (
	"fmt"
	"io"

	"github.com/eduia/tutor/internal/config"
	"github.com/eduia/tutor/internal/exitcode"
	"github.com/eduia/tutor/internal/llm"
	"github.com/eduia/tutor/internal/ui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration after merging the config file,
EDUIA_* environment variables and API key fallbacks. The API key is masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return showConfig(cmd.OutOrStdout(), cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if config.Exists() && !configInitForce {
			path, _ := config.GetConfigPath()
			return exitcode.Misuse(fmt.Sprintf("%s already exists (use --force to overwrite)", path))
		}
		if err := config.Save(config.Default()); err != nil {
			return err
		}
		path, _ := config.GetConfigPath()
		styles := ui.NewStyles(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), styles.FormatResult(true, "wrote "+path))
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func showConfig(w io.Writer, cfg *config.Config) error {
	shown := *cfg
	shown.APIKey = maskKey(cfg.Credential())

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return err
	}
	if path, err := config.GetConfigPath(); err == nil {
		fmt.Fprintf(w, "# file: %s\n", path)
	}
	if cred := cfg.Credential(); cred != "" {
		fmt.Fprintf(w, "# backend: %s\n", llm.ModeForCredential(cred))
	}
	_, err = w.Write(data)
	return err
}

// maskKey keeps the routing prefix readable and hides the rest.
func maskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 10:
		return "****"
	default:
		return key[:6] + "****" + key[len(key)-4:]
	}
}
