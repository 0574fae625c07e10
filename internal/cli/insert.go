package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ethanyzhang/clickhouse-http-go"
)

// NewInsertCommand creates the insert command.
func NewInsertCommand() *cobra.Command {
	var (
		columns []string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "insert TABLE FILE...",
		Short: "Bulk load files into a table",
		Long: `Upload each file into TABLE as a separate request, with up to
max_concurrency uploads in flight. A failing file does not stop the others.`,
		Example: `  chq insert summing_url_views views_*.csv --columns event_date,site_id,url_hash,views --compression`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, files := args[0], args[1:]
			dataFormat, err := clickhouse.ParseDataFormat(format)
			if err != nil {
				return err
			}

			client, closeClient, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient()
			results, err := client.InsertBatchFiles(cmd.Context(), table, files, columns, dataFormat)

			var batchErr *clickhouse.BatchInsertError
			if err != nil && !errors.As(err, &batchErr) {
				return err
			}
			renderInsertSummary(cmd, files, results, batchErr)
			if batchErr != nil {
				return fmt.Errorf("%d of %d file(s) failed", len(batchErr.Failures), len(files))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&columns, "columns", nil, "column list of the files, comma separated")
	cmd.Flags().StringVarP(&format, "format", "f", "CSV", "input format (CSV, CSVWithNames, TabSeparated, TabSeparatedWithNames, JSONEachRow)")

	return cmd
}

func renderInsertSummary(cmd *cobra.Command, files []string, results map[string]*clickhouse.Statement, batchErr *clickhouse.BatchInsertError) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"file", "query_id", "status", "sent", "time"})

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, f := range sorted {
		if st, ok := results[f]; ok {
			info := st.Info()
			t.AppendRow(table.Row{f, st.QueryID(), "ok", info.BytesSent, info.TotalTime.Round(time.Millisecond)})
			continue
		}
		status := "failed"
		if batchErr != nil {
			if ferr, ok := batchErr.Failures[f]; ok {
				status = firstLine(ferr.Error())
			}
		}
		t.AppendRow(table.Row{f, "", status, "", ""})
	}
	t.Render()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
