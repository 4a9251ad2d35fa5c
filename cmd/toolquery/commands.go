package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jonwraymond/toolquery"
)

// criteriaFlags build a Criteria from a JSON file plus shorthand flags.
type criteriaFlags struct {
	file       string
	query      string
	mode       string
	tags       []string
	namespaces []string
}

func (c *criteriaFlags) register(fs *flag.FlagSet, queryHelp string) {
	fs.StringVar(&c.file, "criteria", "", "Criteria file (JSON)")
	fs.StringVarP(&c.query, "query", "q", "", queryHelp)
	fs.StringVar(&c.mode, "mode", "", "Text match mode: fuzzy, exact, contains")
	fs.StringSliceVarP(&c.tags, "tags", "t", nil, "Require any of these tags")
	fs.StringSliceVarP(&c.namespaces, "namespace", "n", nil, "Require one of these namespaces")
}

// build returns the criteria, or nil when no flag was set. The shorthand
// flags are combined with the file criteria through And.
func (c *criteriaFlags) build() (*toolquery.Criteria, error) {
	var parts []*toolquery.Criteria
	if c.file != "" {
		data, err := os.ReadFile(filepath.Clean(c.file))
		if err != nil {
			return nil, fmt.Errorf("failed to read criteria file: %w", err)
		}
		fc, err := toolquery.ParseCriteria(data)
		if err != nil {
			return nil, err
		}
		parts = append(parts, fc)
	}
	flags := &toolquery.Criteria{Namespaces: c.namespaces}
	if len(c.tags) > 0 {
		flags.Tags = &toolquery.TagFilter{Any: c.tags}
	}
	if c.query != "" {
		flags.Text = &toolquery.TextQuery{Query: c.query, Mode: toolquery.MatchMode(c.mode)}
	}
	if len(flags.Namespaces) > 0 || flags.Tags != nil || flags.Text != nil {
		parts = append(parts, flags)
	}
	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		return parts[0], nil
	}
	return &toolquery.Criteria{And: parts}, nil
}

func runFilter(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	var cf criteriaFlags
	cf.register(fs, "Free-text query")
	if err := fs.Parse(args); err != nil {
		return err
	}

	crit, err := cf.build()
	if err != nil {
		return err
	}
	tools, err := e.engine.Filter(ctx, crit)
	if err != nil {
		return err
	}
	e.log.Debug("filter done", zap.Int("matches", len(tools)))

	if e.json {
		return writeJSON(e, tools)
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\n", toolquery.RecordID(t), t.Description)
	}
	return tw.Flush()
}

func runSearch(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	var cf criteriaFlags
	cf.register(fs, "Free-text query, used to filter and to rank")
	prefer := fs.StringSlice("prefer", nil, "Preferred tags, boosting the score")
	limit := fs.IntP("limit", "l", 10, "Page size (0 for all)")
	offset := fs.Int("offset", 0, "Index of the first result")
	cursor := fs.String("cursor", "", "Cursor from a previous page")
	sel := fs.String("select", string(toolquery.SelectSummary), "Result projection: name, summary, tool")
	if err := fs.Parse(args); err != nil {
		return err
	}

	crit, err := cf.build()
	if err != nil {
		return err
	}
	q := toolquery.Query{
		Criteria: crit,
		Rank: &toolquery.Rank{
			Text:          cf.query,
			Mode:          toolquery.MatchMode(cf.mode),
			PreferredTags: *prefer,
		},
		Limit:   *limit,
		Offset:  *offset,
		Cursor:  *cursor,
		Select:  toolquery.Select(*sel),
		Summary: toolquery.SummaryOptions{Tags: true},
	}
	res, err := e.engine.Search(ctx, q)
	if err != nil {
		return err
	}

	if e.json {
		return writeJSON(e, res)
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	for _, m := range res.Matches {
		desc := ""
		switch {
		case m.Summary != nil:
			desc = m.Summary.ShortDescription
		case m.Tool != nil:
			desc = m.Tool.Description
		}
		fmt.Fprintf(tw, "%.3f\t%s\t%s\n", m.Score, m.ID, desc)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "\n%d of %d", len(res.Matches), res.Total)
	if res.NextCursor != "" {
		fmt.Fprintf(e.out, ", next: --cursor %s", res.NextCursor)
	}
	fmt.Fprintln(e.out)
	return nil
}

func runNamespaces(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("namespaces", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	namespaces, err := e.catalog.ListNamespaces()
	if err != nil {
		return err
	}
	if e.json {
		return writeJSON(e, namespaces)
	}
	for _, ns := range namespaces {
		if ns == "" {
			ns = "(none)"
		}
		fmt.Fprintln(e.out, ns)
	}
	return nil
}

func writeJSON(e *env, v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
