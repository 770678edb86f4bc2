package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ismaiel54/alert-trade-router/internal/index"
	"github.com/ismaiel54/alert-trade-router/internal/parser"
	"github.com/spf13/cobra"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Manage the index and keyword tables",
}

var tablesInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the built-in tables as YAML for editing",
	Long: `Init writes index.yaml and keywords.yaml with the built-in content.
Point INDEX_MAPPER_PATH and KEYWORDS_PATH at the edited files.`,
	Args: cobra.NoArgs,
	RunE: runTablesInit,
}

var (
	tablesDir   string
	tablesForce bool
)

func init() {
	rootCmd.AddCommand(tablesCmd)
	tablesCmd.AddCommand(tablesInitCmd)

	tablesInitCmd.Flags().StringVar(&tablesDir, "dir", "./config", "directory to write the tables to")
	tablesInitCmd.Flags().BoolVar(&tablesForce, "force", false, "overwrite existing files")
}

func runTablesInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(tablesDir, 0755); err != nil {
		return err
	}

	indexPath := filepath.Join(tablesDir, "index.yaml")
	keywordPath := filepath.Join(tablesDir, "keywords.yaml")
	if !tablesForce {
		for _, p := range []string{indexPath, keywordPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s exists; use --force to overwrite", p)
			}
		}
	}

	if err := index.Default().Save(indexPath); err != nil {
		return err
	}
	if err := parser.DefaultKeywords().Save(keywordPath); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nwrote %s\n", indexPath, keywordPath)
	return nil
}
