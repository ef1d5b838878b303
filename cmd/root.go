package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/eduia/tutor/internal/config"
	"github.com/eduia/tutor/internal/exitcode"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/eduia/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Write debug logs to stderr")
}

var rootCmd = &cobra.Command{
	Use:   "eduia",
	Short: "Chat with subject tutors from the terminal",
	Long: `eduia is a tutoring chat client. Pick a subject and ask questions in
text or with an image; answers stream back as they are generated.

The API key decides the backend: keys starting with "sk-or-" use OpenRouter,
anything else uses Google Gemini.

Examples:
  eduia chat                             # interactive, general tutor
  eduia chat -s math                     # start with the math tutor
  eduia chat -s ciencias "O que é DNA?"  # one question and exit
  eduia chat -i lousa.png "Resolva"      # ask about an image
  eduia subjects                         # list tutors
  eduia config                           # view configuration`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cmd.ErrOrStderr(), cfg.LogLevel, debugLog)
		return nil
	},
}

var (
	configPath string
	debugLog   bool

	loadedConfig *config.Config
)

// loadConfig reads the configuration once per process.
func loadConfig() (*config.Config, error) {
	if loadedConfig != nil {
		return loadedConfig, nil
	}
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, configError(err)
	}
	loadedConfig = cfg
	return cfg, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr exitcode.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, "Error:", exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitcode.Error)
	}
}

// configError turns a failed secret lookup into a missing-credential exit
// that names the field.
func configError(err error) error {
	var resolveErr *config.ResolveError
	if errors.As(err, &resolveErr) {
		return exitcode.NoConfig(fmt.Sprintf("could not resolve %s in config (%s): %v", resolveErr.Field, resolveErr.Source, resolveErr.Err))
	}
	return err
}
