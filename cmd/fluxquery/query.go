package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"fluxquery/internal/driver"
	"fluxquery/internal/results"
)

func queryCmd() *cobra.Command {
	var (
		take  int
		first bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "query <statement>",
		Short: "Print rows as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cli.open(args[0], limit)
			if err != nil {
				return err
			}
			defer s.Close()
			return printRows(cmd.Context(), os.Stdout, s, take, first)
		},
	}
	cmd.Flags().IntVar(&take, "take", 0, "print only the first n rows")
	cmd.Flags().BoolVar(&first, "first", false, "print only the first row")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap the rows the query may deliver (default QUERY_LIMIT)")
	return cmd
}

func countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <statement>",
		Short: "Print the number of rows a statement returns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := cli.open(args[0], 0)
			if err != nil {
				return err
			}
			defer s.Close()
			n, err := s.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
}

// printRows writes rows as JSON objects keyed by column name. Only the rows
// that are printed are fetched.
func printRows(ctx context.Context, w io.Writer, s *results.Stream[driver.Row], take int, first bool) error {
	header, err := s.Header(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	write := func(row driver.Row) error {
		return enc.Encode(rowObject(header.Columns, row))
	}

	switch {
	case first:
		row, ok, err := s.First(ctx)
		if err != nil || !ok {
			return err
		}
		return write(row)
	case take > 0:
		rows, err := s.Take(ctx, take)
		for _, row := range rows {
			if werr := write(row); werr != nil {
				return werr
			}
		}
		return err
	default:
		return s.Stream(ctx, write)
	}
}

func rowObject(columns []string, row driver.Row) map[string]any {
	obj := make(map[string]any, len(row))
	for i, v := range row {
		name := fmt.Sprintf("column_%d", i+1)
		if i < len(columns) && columns[i] != "" {
			name = columns[i]
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		obj[name] = v
	}
	return obj
}
