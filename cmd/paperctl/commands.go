package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/metadata"
)

var (
	listPending  bool
	reprocessAll bool
	searchLimit  int
	uploadName   string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the documents schema to PostgreSQL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openDB()
		if err != nil {
			return err
		}
		defer b.close()
		if err := metadata.Migrate(cmd.Context(), b.db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openDB()
		if err != nil {
			return err
		}
		defer b.close()
		store := metadata.NewStore(b.db)
		var docs []*document.Document
		if listPending {
			docs, err = store.ListPending(cmd.Context())
		} else {
			docs, err = store.List(cmd.Context())
		}
		if err != nil {
			return err
		}
		printDocuments(cmd, docs)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete documents from every store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		b, err := openCoordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()
		for _, id := range ids {
			if err := b.coord.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("deleting %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", id)
		}
		return nil
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess [<id>...]",
	Short: "Queue documents for OCR again",
	Long: `reprocess republishes the upload event of each given document. With --all it
queues every document that has no extracted text yet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if reprocessAll == (len(args) > 0) {
			return fmt.Errorf("%w: give document ids or --all", errUsage)
		}
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		b, err := openCoordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()
		if reprocessAll {
			n, err := b.coord.ReprocessPending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d documents\n", n)
			return nil
		}
		for _, id := range ids {
			if err := b.coord.Reprocess(cmd.Context(), id); err != nil {
				return fmt.Errorf("reprocessing %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d\n", id)
		}
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rewrite every document into the search index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openCoordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()
		start := time.Now()
		n, err := b.coord.Reindex(cmd.Context())
		if err != nil {
			return fmt.Errorf("reindexed %d before failing: %w", n, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d documents in %s\n", n, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Query the search index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openCoordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()
		hits, err := b.coord.Search(cmd.Context(), args[0], searchLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSCORE\tNAME")
		for _, h := range hits {
			fmt.Fprintf(tw, "%d\t%.4f\t%s\n", h.ID, h.Score, h.Name)
		}
		return tw.Flush()
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a local file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		name := uploadName
		if name == "" {
			name = filepath.Base(args[0])
		}
		b, err := openCoordinator(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()
		doc, err := b.coord.Upload(cmd.Context(), name, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d as %s\n", doc.ID, doc.StorageKey)
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listPending, "pending", false, "only documents without extracted text")
	reprocessCmd.Flags().BoolVar(&reprocessAll, "all", false, "queue every document without extracted text")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum number of hits")
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "document name (defaults to the file name)")

	rootCmd.AddCommand(migrateCmd, listCmd, deleteCmd, reprocessCmd, reindexCmd, searchCmd, uploadCmd)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: %q is not a document id", errUsage, arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printDocuments(cmd *cobra.Command, docs []*document.Document) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tUPLOADED\tOCR")
	for _, d := range docs {
		status := "pending"
		if d.OcrText != nil {
			status = fmt.Sprintf("%d chars", len(*d.OcrText))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.ID, d.Name, d.UploadedAt.Format(time.RFC3339), status)
	}
	tw.Flush()
}
