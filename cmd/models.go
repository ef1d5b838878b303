package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/eduia/tutor/internal/config"
	"github.com/eduia/tutor/internal/exitcode"
	"github.com/eduia/tutor/internal/llm"
	"github.com/spf13/cobra"
)

var modelsPrefix string
var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available on OpenRouter",
	Long: `List models available on OpenRouter.

Requires an OpenRouter key (sk-or-...). Useful for picking values for
openrouter.model and openrouter.reasoning_model.

Examples:
  eduia models                  # list every model
  eduia models --prefix google/ # only Google models
  eduia models --json           # output as JSON`,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringVarP(&modelsPrefix, "prefix", "p", "", "Only list model IDs starting with this prefix")
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
}

// ModelLister is implemented by backends that can list available models
type ModelLister interface {
	ListModels(ctx context.Context) ([]llm.ModelInfo, error)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	lister, err := modelListerFor(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	return listModels(ctx, cmd.OutOrStdout(), lister, modelsPrefix, modelsJSON)
}

func modelListerFor(cfg *config.Config) (ModelLister, error) {
	credential := cfg.Credential()
	if credential == "" {
		return nil, exitcode.NoConfig(llm.MessageConfigMissing)
	}
	if llm.ModeForCredential(credential) != llm.ModeHTTP {
		return nil, exitcode.Misuse("model listing is only supported with an OpenRouter key (sk-or-...)")
	}
	return llm.NewOpenRouterProvider(credential, cfg.OpenRouter, cfg.AppURL, cfg.AppTitle), nil
}

func listModels(ctx context.Context, w io.Writer, lister ModelLister, prefix string, asJSON bool) error {
	models, err := lister.ListModels(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "connection refused") {
			return fmt.Errorf("cannot connect to OpenRouter. Check openrouter.base_url and your network")
		}
		return fmt.Errorf("failed to list models: %w", err)
	}
	models = llm.FilterModels(models, prefix)

	if len(models) == 0 {
		fmt.Fprintln(w, "No models found.")
		return nil
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	fmt.Fprintf(w, "Available models (%d):\n\n", len(models))
	for _, m := range models {
		if m.OwnedBy != "" {
			fmt.Fprintf(w, "  %s (%s)\n", m.ID, m.OwnedBy)
		} else {
			fmt.Fprintf(w, "  %s\n", m.ID)
		}
	}

	fmt.Fprintf(w, "\nTo use a model, add to your config:\n")
	fmt.Fprintf(w, "  openrouter:\n    model: <model-name>\n")
	return nil
}
