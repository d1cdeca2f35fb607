package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"feedinput/internal/torznab"
)

var errNoTorznab = errors.New("config has no torznab section")

// torznabConfigError wraps torznab config validation failures.
type torznabConfigError struct{ err error }

func (e *torznabConfigError) Error() string { return "torznab: " + e.err.Error() }
func (e *torznabConfigError) Unwrap() error { return e.err }

func (s *session) torznabClient(e *env) (*torznab.Client, error) {
	if s.cfg.Torznab == nil {
		return nil, usageError{err: errNoTorznab}
	}
	// Copy so the timeout does not leak into the shared client.
	hc := *e.httpClient
	rc := resty.NewWithClient(&hc).
		SetTimeout(torznab.DefaultTimeout).
		SetHeader("User-Agent", torznab.UserAgent)
	c, err := torznab.New(*s.cfg.Torznab, torznab.WithHTTPClient(rc), torznab.WithLogger(s.log))
	if err != nil {
		return nil, &torznabConfigError{err: err}
	}
	return c, nil
}

// capsReport is what `torznab caps` prints.
type capsReport struct {
	Searcher        string   `json:"searcher"`
	Element         string   `json:"element"`
	SupportedParams []string `json:"supported_params"`
	Categories      []int    `json:"categories"`
	Advertised      []int    `json:"advertised_categories"`
}

func newTorznabCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "torznab",
		Short: "Query a torznab indexer.",
	}
	cmd.AddCommand(newTorznabCapsCmd(e), newTorznabURLCmd(e))
	return cmd
}

func newTorznabCapsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Fetch capabilities and print the selected searcher and categories.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, e)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.torznabClient(e)
			if err != nil {
				return err
			}
			if err := c.Setup(ctx); err != nil {
				return err
			}

			kind, sc := c.Searcher()
			report := capsReport{
				Searcher:        kind,
				Element:         sc.Name,
				SupportedParams: sc.SupportedParams,
				Categories:      c.Categories(),
				Advertised:      c.Caps().CategoryIDs(),
			}
			if report.Categories == nil {
				report.Categories = []int{}
			}
			enc := json.NewEncoder(e.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newTorznabURLCmd(e *env) *cobra.Command {
	var q torznab.SearchQuery

	cmd := &cobra.Command{
		Use:   "url",
		Short: "Print the search URL for a query.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if q.Query == "" {
				return usagef("--query is required")
			}
			ctx := cmd.Context()
			s, err := openSession(ctx, e)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.torznabClient(e)
			if err != nil {
				return err
			}
			u, err := c.SearchURL(ctx, q)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(e.stdout, u)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&q.Query, "query", "q", "", "search terms")
	f.StringVar(&q.Season, "season", "", "season number")
	f.StringVar(&q.Ep, "ep", "", "episode number")
	f.StringVar(&q.IMDBID, "imdbid", "", "IMDb id")
	f.StringVar(&q.TVDBID, "tvdbid", "", "TVDB id")
	f.StringVar(&q.RID, "rid", "", "TVRage id")
	return cmd
}
