package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidahmann/surety/internal/api"
	"github.com/davidahmann/surety/internal/auth"
	"github.com/davidahmann/surety/internal/params"
	"github.com/davidahmann/surety/internal/surety"
)

func paramsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "params",
		Short: "Protocol parameter tools",
		Args:  cobra.ArbitraryArgs,
		RunE: func(*cobra.Command, []string) error {
			return usageError{fmt.Errorf("params requires a subcommand")}
		},
	}
	c.AddCommand(&cobra.Command{
		Use:   "lint <params_path>",
		Short: "Validate a parameters file and print its hash",
		Args:  exactArgs(1, "<params_path>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := params.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok params_id=%s params_hash=%s\n", loaded.Params.ParamsID, loaded.Hash)
			return nil
		},
	})
	return c
}

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status <flight_key>",
		Short: "Show the resolved status of a flight",
		Args:  exactArgs(1, "<flight_key>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, status, err := g.get("/v1/flights/" + args[0])
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("status failed: %s", strings.TrimSpace(string(body)))
			}
			if g.jsonOut {
				_, _ = cmd.OutOrStdout().Write(body)
				return nil
			}

			var flight api.FlightView
			if err := json.Unmarshal(body, &flight); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "flight=%s airline=%s timestamp=%d status=%s code=%d credited=%t\n",
				flight.Name, flight.Airline, flight.Timestamp, flight.Status, int(flight.StatusCode), flight.Credited)
			return nil
		},
	}
}

func verifyCmd(g *globals) *cobra.Command {
	var journal bool
	c := &cobra.Command{
		Use:   "verify <receipt_id>",
		Short: "Verify a receipt signature and chain link, or the whole journal",
		Args: func(cmd *cobra.Command, args []string) error {
			if journal {
				return exactArgs(0, "no arguments with --journal")(cmd, args)
			}
			return exactArgs(1, "<receipt_id>")(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if journal {
				return verifyJournal(cmd, g)
			}
			return verifyReceipt(cmd, g, args[0])
		},
	}
	c.Flags().BoolVar(&journal, "journal", false, "verify every receipt in the journal")
	return c
}

func verifyReceipt(cmd *cobra.Command, g *globals, receiptID string) error {
	body, status, err := g.get("/v1/receipts/" + receiptID + "/verify")
	if err != nil {
		return err
	}
	if g.jsonOut && status == http.StatusOK {
		_, _ = cmd.OutOrStdout().Write(body)
		return nil
	}

	var check surety.ReceiptCheck
	if err := json.Unmarshal(body, &check); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("verify failed: %s", strings.TrimSpace(string(body)))
	}

	if check.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "valid=true receipt_id=%s seq=%d\n", check.ReceiptID, check.Seq)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "valid=false receipt_id=%s error=%s\n", check.ReceiptID, check.Error)
	return errFailed
}

func verifyJournal(cmd *cobra.Command, g *globals) error {
	body, status, err := g.get("/v1/journal/verify")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("verify failed: %s", strings.TrimSpace(string(body)))
	}

	var payload struct {
		Valid    bool   `json:"valid"`
		Receipts int64  `json:"receipts"`
		Error    string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	if payload.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "valid=true receipts=%d\n", payload.Receipts)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "valid=false receipts=%d error=%s\n", payload.Receipts, payload.Error)
	return errFailed
}

func tokenCmd() *cobra.Command {
	var (
		secret string
		ttl    time.Duration
	)
	c := &cobra.Command{
		Use:   "token <address>",
		Short: "Mint a JWT that authenticates as address",
		Args:  exactArgs(1, "<address>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return usageError{fmt.Errorf("token requires --secret or SURETY_JWT_SECRET")}
			}
			token, err := auth.NewJWTAuthenticator(secret).Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	c.Flags().StringVar(&secret, "secret", os.Getenv("SURETY_JWT_SECRET"), "gateway JWT secret")
	c.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return c
}
