// Command feedinput runs the soup_parse HTML extractor and the torznab
// capability client from a config file.
//
// Usage:
//
//	feedinput soup-parse --config feedinput.yaml [--no-cache]
//	feedinput validate --config feedinput.yaml
//	feedinput debug-sections --config feedinput.yaml [--text]
//	feedinput torznab caps --config feedinput.yaml
//	feedinput torznab url --config feedinput.yaml --query "name" [--season 1 --ep 2]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"feedinput/internal/soupparse"

	// every cache backend is selectable from config.
	_ "feedinput/internal/inputcache/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, http.DefaultClient)
	stop()
	os.Exit(code)
}

// usageError marks problems with flags or configuration (exit 2).
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, a ...any) error {
	return usageError{err: fmt.Errorf(format, a...)}
}

// env holds what commands share: streams, the HTTP client and the root
// flags.
type env struct {
	stdout     io.Writer
	stderr     io.Writer
	httpClient *http.Client
	configPath string
}

// run is split from main so the command can be tested in-process.
//
// Exit codes:
//   - 0 success
//   - 1 runtime error (fetch failure, indexer error)
//   - 2 usage or configuration error
func run(ctx context.Context, args []string, stdout, stderr io.Writer, httpClient *http.Client) int {
	e := &env{stdout: stdout, stderr: stderr, httpClient: httpClient}
	root := newRootCmd(e)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "feedinput: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var ue usageError
	var te *torznabConfigError
	switch {
	case errors.As(err, &ue), soupparse.IsConfigError(err), errors.As(err, &te):
		return 2
	default:
		return 1
	}
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "feedinput",
		Short:         "Extract entries from HTML pages and query torznab indexers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "feedinput.yaml", "config file (yaml, yml, json or json5)")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.AddCommand(
		newSoupParseCmd(e),
		newValidateCmd(e),
		newDebugSectionsCmd(e),
		newTorznabCmd(e),
	)
	return root
}
