package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ethanyzhang/clickhouse-http-go"
)

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	var (
		params    map[string]string
		rawParams map[string]string
		settings  map[string]string
		rawFormat string
		extFile   string
		extName   string
		extFormat string
		extStruct string
	)

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run a query and print the result",
		Long: `Run a query template and print its result.

The SQL is read from stdin when omitted or "-". :name tokens are bound from
--param and {name} tokens are replaced verbatim from --raw.`,
		Example: `  chq query "SELECT * FROM {table} WHERE site_id = :site" --raw table=summing_url_views --param site=11
  echo "SELECT 1" | chq query -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			bindings := clickhouse.Bindings{}
			for k, v := range params {
				bindings[k] = paramValue(v)
			}
			for k, v := range rawParams {
				bindings[k] = clickhouse.Raw(v)
			}

			var opts []clickhouse.QueryOption
			if len(settings) > 0 {
				s := make(map[string]any, len(settings))
				for k, v := range settings {
					s[k] = v
				}
				opts = append(opts, clickhouse.WithSettings(s))
			}
			if extFile != "" {
				ext, err := externalTable(extFile, extName, extStruct, extFormat)
				if err != nil {
					return err
				}
				opts = append(opts, clickhouse.WithExternalData(ext))
			}

			output := configFrom(cmd).Output
			if output == "raw" {
				opts = append(opts, clickhouse.WithFormat(rawFormat))
			}

			client, closeClient, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient()
			st, err := client.Select(cmd.Context(), sql, bindings, opts...)
			if err != nil {
				return err
			}
			return renderStatement(cmd.OutOrStdout(), st, output)
		},
	}

	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "bind parameter name=value for :name tokens")
	cmd.Flags().StringToStringVar(&rawParams, "raw", nil, "raw substitution name=value for {name} tokens")
	cmd.Flags().StringToStringVarP(&settings, "setting", "s", nil, "server setting name=value for this query")
	cmd.Flags().StringVar(&rawFormat, "format", "TabSeparatedWithNames", "output format requested with -o raw")
	cmd.Flags().StringVar(&extFile, "external-file", "", "local file sent as an external table")
	cmd.Flags().StringVar(&extName, "external-name", "_data", "name of the external table")
	cmd.Flags().StringVar(&extStruct, "external-structure", "", `structure of the external table, e.g. "site_id Int32, url String"`)
	cmd.Flags().StringVar(&extFormat, "external-format", "CSV", "format of the external file")

	return cmd
}

func readSQL(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	if stdin == nil {
		stdin = os.Stdin
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read query from stdin: %w", err)
	}
	sql := strings.TrimSpace(string(data))
	if sql == "" {
		return "", fmt.Errorf("no query given")
	}
	return sql, nil
}

// paramValue binds integers and floats as numbers and anything else as a string.
func paramValue(s string) clickhouse.Value {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return clickhouse.Int(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return clickhouse.Float(f)
	}
	return clickhouse.String(s)
}

func externalTable(path, name, structure, format string) (*clickhouse.ExternalData, error) {
	if structure == "" {
		return nil, fmt.Errorf("--external-structure is required with --external-file")
	}
	s, err := parseStructure(structure)
	if err != nil {
		return nil, err
	}
	f, err := clickhouse.ParseDataFormat(format)
	if err != nil {
		return nil, err
	}
	ext := clickhouse.NewExternalData()
	if err := ext.AttachFile(path, name, s, f); err != nil {
		return nil, err
	}
	return ext, nil
}

// parseStructure parses "a Int32, b Decimal(10, 2)" into column declarations.
// Commas inside parentheses belong to the type.
func parseStructure(s string) (clickhouse.Structure, error) {
	var out clickhouse.Structure
	depth, start := 0, 0
	for i := 0; i <= len(s); i++ {
		if i < len(s) {
			switch s[i] {
			case '(':
				depth++
				continue
			case ')':
				depth--
				continue
			case ',':
				if depth > 0 {
					continue
				}
			default:
				continue
			}
		}
		decl := strings.TrimSpace(s[start:i])
		start = i + 1
		name, typ, ok := strings.Cut(decl, " ")
		if !ok || strings.TrimSpace(typ) == "" {
			return nil, fmt.Errorf("invalid column declaration %q", decl)
		}
		out = append(out, clickhouse.ColumnDef{Name: name, Type: strings.TrimSpace(typ)})
	}
	return out, nil
}
