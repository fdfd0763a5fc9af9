package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pricetracker/internal/aggregate"
	"pricetracker/internal/price"
	"pricetracker/internal/provider"
	"pricetracker/internal/provider/registry"
)

type fetchOptions struct {
	assets  []string
	each    bool
	asJSON  bool
	timeout time.Duration
}

type fetchRow struct {
	Provider string        `json:"provider"`
	Quotes   []price.Quote `json:"quotes,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	fo := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch prices once through the failover chain and print them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			assets := cfg.EnabledAssets()
			if len(fo.assets) > 0 {
				if assets, err = price.ParseAssets(fo.assets); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), fo.timeout)
			defer cancel()

			if fo.each {
				ps, err := registry.Build(cfg, registry.Deps{Logger: logger})
				if err != nil {
					return err
				}
				rows := fetchEach(ctx, ps, assets)
				return printComparison(cmd.OutOrStdout(), rows, fo.asJSON)
			}

			chain, err := registry.Chain(cfg, registry.Deps{Logger: logger})
			if err != nil {
				return err
			}
			res, err := chain.Resolve(ctx, 0, assets)
			if err != nil {
				return err
			}
			rows := []fetchRow{{Provider: res.Provider, Quotes: sortedQuotes(res.Prices, assets)}}
			return printRows(cmd.OutOrStdout(), rows, fo.asJSON)
		},
	}
	cmd.Flags().StringSliceVarP(&fo.assets, "assets", "a", nil, "assets to fetch (default tracker.assets)")
	cmd.Flags().BoolVar(&fo.each, "each", false, "query every configured provider concurrently instead of failing over")
	cmd.Flags().BoolVar(&fo.asJSON, "json", false, "print JSON")
	cmd.Flags().DurationVar(&fo.timeout, "timeout", 30*time.Second, "overall deadline")
	return cmd
}

// fetchEach asks every provider at once. A failing provider gets an error
// row; it does not cancel the others.
func fetchEach(ctx context.Context, ps []provider.Provider, assets []price.Asset) []fetchRow {
	rows := make([]fetchRow, len(ps))
	var mu sync.Mutex
	var g errgroup.Group
	for i, p := range ps {
		g.Go(func() error {
			qs, err := p.FetchPrices(ctx, assets)
			row := fetchRow{Provider: p.Name()}
			if err != nil {
				row.Error = err.Error()
			} else {
				row.Quotes = sortedQuotes(qs, assets)
			}
			mu.Lock()
			rows[i] = row
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

// sortedQuotes orders qs like assets; assets without a quote are skipped.
func sortedQuotes(qs map[price.Asset]price.Quote, assets []price.Asset) []price.Quote {
	order := make(map[price.Asset]int, len(assets))
	for i, a := range assets {
		order[a] = i
	}
	out := make([]price.Quote, 0, len(qs))
	for _, q := range qs {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].Asset] < order[out[j].Asset] })
	return out
}

func printRows(w io.Writer, rows []fetchRow, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tASSET\tPRICE_USD\tTIMESTAMP")
	for _, r := range rows {
		if r.Error != "" {
			fmt.Fprintf(tw, "%s\t-\terror: %s\t-\n", r.Provider, r.Error)
			continue
		}
		for _, q := range r.Quotes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Provider, q.Asset, q.USD.String(), q.Timestamp.Format(time.RFC3339))
		}
	}
	return tw.Flush()
}

type comparison struct {
	Providers []fetchRow          `json:"providers"`
	Summary   []aggregate.Summary `json:"summary"`
}

// printComparison prints every provider's answer followed by the
// cross-provider median and spread per asset.
func printComparison(w io.Writer, rows []fetchRow, asJSON bool) error {
	var all []price.Quote
	for _, r := range rows {
		all = append(all, r.Quotes...)
	}
	c := comparison{Providers: rows, Summary: aggregate.Summarize(all)}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}
	if err := printRows(w, rows, false); err != nil {
		return err
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tMEDIAN_USD\tSPREAD_%\tNEWEST_FROM\tSOURCES")
	for _, s := range c.Summary {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", s.Asset, s.Median.String(), s.SpreadPct.String(), s.Latest.Source, len(s.Sources))
	}
	return tw.Flush()
}
