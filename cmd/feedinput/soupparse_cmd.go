package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"feedinput/internal/logger"
	"feedinput/internal/soupparse"
)

var errNoSoupParse = errors.New("config has no soup_parse section")

func soupParseConfig(s *session) (*soupparse.Config, error) {
	if s.cfg.SoupParse == nil {
		return nil, usageError{err: errNoSoupParse}
	}
	return s.cfg.SoupParse, nil
}

func newSoupParseCmd(e *env) *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "soup-parse",
		Short: "Extract entries from the configured source and print them as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, e)
			if err != nil {
				return err
			}
			defer s.Close()

			cfg, err := soupParseConfig(s)
			if err != nil {
				return err
			}
			c, err := s.cache(ctx, s.extractor(e))
			if err != nil {
				return err
			}

			res, err := c.Run(ctx, cfg, noCache)
			if err != nil {
				return err
			}
			s.log.Info("soup_parse finished",
				logger.String(logger.KeySource, soupparse.RedactSource(cfg.Source)),
				logger.Int("entries", len(res.Entries)),
				logger.Int("dropped", res.Dropped),
			)

			entries := res.Entries
			if entries == nil {
				entries = []soupparse.Entry{}
			}
			enc := json.NewEncoder(e.stdout)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "ignore in-process cached entries and always fetch")
	return cmd
}

func newValidateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer s.Close()

			if s.cfg.SoupParse == nil && s.cfg.Torznab == nil {
				return usagef("config has neither soup_parse nor torznab")
			}
			if s.cfg.SoupParse != nil {
				if err := s.cfg.SoupParse.Validate(); err != nil {
					return err
				}
			}
			if s.cfg.Torznab != nil {
				if err := s.cfg.Torznab.Normalized().Validate(); err != nil {
					return &torznabConfigError{err: err}
				}
			}
			if _, err := s.cfg.Cache.persist(); err != nil {
				return usageError{err: err}
			}
			fmt.Fprintf(e.stdout, "config is valid: %s\n", e.configPath)
			return nil
		},
	}
}

func newDebugSectionsCmd(e *env) *cobra.Command {
	var textOnly bool

	cmd := &cobra.Command{
		Use:   "debug-sections",
		Short: "Print the sections the configured rules carve the source into.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, e)
			if err != nil {
				return err
			}
			defer s.Close()

			cfg, err := soupParseConfig(s)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			page, err := s.loader(e).Load(ctx, cfg.FetchSource())
			if err != nil {
				return soupparse.NewFetchError(cfg.Source, err)
			}
			return soupparse.DebugSections(e.stdout, page, cfg.Sections, textOnly)
		},
	}
	cmd.Flags().BoolVar(&textOnly, "text", false, "print trimmed text instead of outer HTML")
	return cmd
}
