package cmd

import (
	"fmt"
	"io"

	"github.com/eduia/tutor/internal/persona"
	"github.com/eduia/tutor/internal/ui"
	"github.com/spf13/cobra"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "List available tutors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		catalog, err := persona.Load(cfg.PersonasFile)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printSubjects(out, ui.NewStyles(out), catalog, "")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(subjectsCmd)
}

// printSubjects lists the catalog, marking current when set.
func printSubjects(w io.Writer, styles *ui.Styles, catalog *persona.Catalog, current string) {
	for _, p := range catalog.All() {
		marker := " "
		if p.ID == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s %-10s %s\n", marker, styles.Bullet(p.Color), p.ID, styles.PersonaLabel(p.Name, p.Color))
		if p.Description != "" {
			fmt.Fprintf(w, "    %s\n", styles.Muted.Render(p.Description))
		}
	}
}
