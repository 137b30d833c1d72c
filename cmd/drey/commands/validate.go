package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/manifest"
	"github.com/dyluth/drey/internal/printer"
)

var validateManifestsDir string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate every manifest in a directory",
	Long: `Parse and validate each component manifest, reporting per-file results.

Unlike a run, which skips malformed manifests with a warning, validate fails
when any manifest cannot be parsed, so it can gate a deployment.

Examples:
  drey validate --manifests ./manifests`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateManifestsDir, "manifests", "m", "manifests", "Manifest directory")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(validateManifestsDir)
	if err != nil {
		return printer.Error(
			"failed to read manifest directory",
			fmt.Sprintf("Could not read %s: %v", validateManifestsDir, err),
			[]string{"Check the --manifests path"},
		)
	}

	var checked, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		checked++

		path := filepath.Join(validateManifestsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			failed++
			printer.Warning("%s: %v\n", entry.Name(), err)
			continue
		}
		m, err := manifest.Parse(data)
		if err != nil {
			failed++
			printer.Warning("%s: %v\n", entry.Name(), err)
			continue
		}
		printer.Success("%s: %s (priority %d, %d trigger(s))\n",
			entry.Name(), m.Name, m.EffectivePriority(), len(m.Conditions()))
	}

	if failed > 0 {
		return printer.Error(
			"manifest validation failed",
			fmt.Sprintf("%d of %d manifest(s) are invalid.", failed, checked),
			[]string{"Fix the warnings above and re-run"},
		)
	}
	printer.Info("%d manifest(s) valid\n", checked)
	return nil
}
