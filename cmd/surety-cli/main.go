package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidahmann/surety/internal/auth"
)

const defaultAddr = "http://localhost:8080"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

// errFailed reports a check that ran and failed; its output is already written.
var errFailed = errors.New("check failed")

type usageError struct{ error }

type globals struct {
	addr    string
	token   string
	address string
	jsonOut bool
	client  *http.Client
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args[1:])
	err := root.Execute()
	var uerr usageError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errFailed):
		return 1
	case errors.As(err, &uerr):
		fmt.Fprintln(stderr, uerr.Error())
		usage(stderr)
		return 2
	case strings.HasPrefix(err.Error(), "unknown command"):
		usage(stderr)
		return 2
	default:
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
}

func newRootCmd(stdout io.Writer, stderr io.Writer) *cobra.Command {
	g := &globals{client: http.DefaultClient}
	root := &cobra.Command{
		Use:           "surety",
		Short:         "Surety marketplace CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&g.addr, "addr", envOrDefault("SURETY_ADDR", defaultAddr), "Surety API address")
	flags.StringVar(&g.token, "token", envOrDefault("SURETY_TOKEN", os.Getenv("SURETY_DEV_TOKEN")), "bearer token")
	flags.StringVar(&g.address, "as", os.Getenv("SURETY_ADDRESS"), "address to act as with a dev token")
	flags.BoolVar(&g.jsonOut, "json", false, "print raw JSON response")

	root.AddCommand(
		paramsCmd(),
		statusCmd(g),
		verifyCmd(g),
		tokenCmd(),
	)
	return root
}

func exactArgs(n int, what string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{fmt.Errorf("%s requires %s", cmd.CommandPath(), what)}
		}
		return nil
	}
}

func (g *globals) get(path string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, g.addr+path, nil)
	if err != nil {
		return nil, 0, err
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if g.address != "" {
		req.Header.Set(auth.AddressHeader, g.address)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Surety CLI

Usage:
  surety params lint <params_path>
  surety status <flight_key> [--addr URL] [--token TOKEN] [--as ADDRESS] [--json]
  surety verify <receipt_id> [--addr URL] [--token TOKEN] [--as ADDRESS] [--json]
  surety verify --journal [--addr URL] [--token TOKEN] [--as ADDRESS]
  surety token <address> [--secret SECRET] [--ttl 1h]
`)
}
