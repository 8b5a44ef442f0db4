package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/weaponid/internal/repository"
)

const defaultExportLimit = 10000

// HistoryLister is the slice of the store the exporter reads from.
type HistoryLister interface {
	GetUserByUsername(ctx context.Context, username string) (*repository.User, error)
	ListRecognitions(ctx context.Context, userID string, limit int) ([]repository.RecognitionLog, error)
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored recognition history",
	}
	cmd.AddCommand(newHistoryExportCmd())
	return cmd
}

func newHistoryExportCmd() *cobra.Command {
	var (
		out      string
		username string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recognition history to a Parquet file",
		Example: `  # Everything, newest first
  weaponid history export --out history.parquet

  # One account, last 500 requests
  weaponid history export --out analyst.parquet --user analyst --limit 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}

			n, err := exportHistory(ctx, a.store, f, username, limit)
			if cerr := f.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("failed to close output file: %w", cerr)
			}
			if err != nil {
				_ = os.Remove(out)
				return err
			}

			a.logger.Info("history exported", zap.String("path", out), zap.Int("rows", n))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", n, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "history.parquet", "Output Parquet file")
	cmd.Flags().StringVar(&username, "user", "", "Only export this account's requests")
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultExportLimit, "Maximum number of rows")

	return cmd
}

// exportHistory writes up to limit recognition logs, newest first, as Parquet rows.
func exportHistory(ctx context.Context, store HistoryLister, w io.Writer, username string, limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var userID string
	if username != "" {
		user, err := store.GetUserByUsername(ctx, username)
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("user %q does not exist", username)
		}
		if err != nil {
			return 0, err
		}
		userID = user.ID
	}

	logs, err := store.ListRecognitions(ctx, userID, limit)
	if err != nil {
		return 0, fmt.Errorf("list recognitions: %w", err)
	}

	writer := parquet.NewGenericWriter[repository.RecognitionLog](w)
	n, err := writer.Write(logs)
	if err != nil {
		return n, fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return n, nil
}
