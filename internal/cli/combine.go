package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/sleepsync/sleepsync/internal/export"
	"github.com/sleepsync/sleepsync/internal/fileutil"
	"github.com/spf13/cobra"
)

var combineFlags struct {
	watch    bool
	debounce time.Duration
}

// combineCmd represents the combine command
var combineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Merge all JSON mirrors into one expanded CSV",
	Long: `Read every sleep mirror in export.json_dir, expand the nested score
objects back into columns, tag each row with its user and source file and
write one combined CSV into export.combined_dir.

With --watch the combine re-runs whenever mirrors change, until interrupted.`,
	RunE: runCombine,
}

func init() {
	combineCmd.Flags().BoolVar(&combineFlags.watch, "watch", false, "Re-run when mirrors change")
	combineCmd.Flags().DurationVar(&combineFlags.debounce, "debounce", 2*time.Second, "Quiet period before a watched re-run")
	RootCmd.AddCommand(combineCmd)
}

func runCombine(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	w := a.writer()

	if !combineFlags.watch {
		result, err := w.Combine(ctx)
		if err != nil {
			return err
		}
		return outputCombine(a.out, result)
	}

	if err := fileutil.EnsureDir(w.Layout().JSONDir); err != nil {
		return err
	}
	err = w.WatchCombine(ctx, combineFlags.debounce, func(result *export.CombineResult, err error) {
		if err != nil {
			a.logger.ErrorWithContext(ctx, "combine failed", "error", err)
			return
		}
		if err := outputCombine(a.out, result); err != nil {
			a.logger.WarnWithContext(ctx, "printing combine result failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Watching %s for mirror changes (Ctrl-C to stop)\n", w.Layout().JSONDir)
	<-ctx.Done()
	return nil
}

func outputCombine(w io.Writer, result *export.CombineResult) error {
	if globalFlags.JSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "✓ Combined %d records from %d files (%d columns) into %s\n",
		result.Records, len(result.Files), result.Columns, result.Path)
	for _, path := range result.Skipped {
		fmt.Fprintf(w, "! skipped unreadable %s\n", path)
	}
	return nil
}
