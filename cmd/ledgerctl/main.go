// Package main is the command-line client of the custody ledger daemon.
//
// Usage:
//
//	ledgerctl keygen  --out id.json
//	ledgerctl address --keyfile id.json [--program-id ID]
//	ledgerctl submit  --keyfile id.json --op deposit --amount 0.5
//	ledgerctl balance --owner ADDRESS
//	ledgerctl stats
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"custody-ledger/internal/address"
	"custody-ledger/internal/auth"
	"custody-ledger/internal/domain"
)

const defaultProgramID = "4wBqpZM9xaSheZzJSMawUKKwhdpChKbZ5eu5ky4Vigw"

func main() {
	logger := log.New(os.Stderr, "[ledgerctl] ", 0)

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Fatalf("%s: %v", os.Args[1], err)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: ledgerctl <keygen|address|submit|balance|stats> [flags]")
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "keygen":
		return cmdKeygen(args, out)
	case "address":
		return cmdAddress(args, out)
	case "submit":
		return cmdSubmit(ctx, args, out)
	case "balance":
		return cmdBalance(ctx, args, out)
	case "stats":
		return cmdStats(ctx, args, out)
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serverFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("LEDGER_SERVER")
	if def == "" {
		def = "http://localhost:8080"
	}
	return fs.String("server", def, "Ledger daemon base URL")
}

func cmdKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	path := fs.String("out", "", "Keyfile to write (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("--out is required")
	}
	if _, err := os.Stat(*path); err == nil {
		return fmt.Errorf("%s already exists", *path)
	}

	kp, err := auth.Generate()
	if err != nil {
		return err
	}
	if err := kp.SaveKeyfile(*path); err != nil {
		return err
	}
	fmt.Fprintln(out, kp.Public())
	return nil
}

// cmdAddress prints an identity and the ledger records derived for it.
func cmdAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keyfile := fs.String("keyfile", "", "Keyfile of the identity")
	owner := fs.String("owner", "", "Identity address (instead of --keyfile)")
	programID := fs.String("program-id", defaultProgramID, "Program ID the ledger derives addresses under")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := resolveOwner(*keyfile, *owner)
	if err != nil {
		return err
	}
	pid, err := address.Parse(*programID)
	if err != nil {
		return fmt.Errorf("--program-id: %w", err)
	}

	d := address.NewDeriver(pid)
	userLedger, err := d.UserLedger(id)
	if err != nil {
		return err
	}
	tokenBalance, err := d.UserTokenBalance(id)
	if err != nil {
		return err
	}
	second, err := d.TokenAccount(id, string(domain.AssetSecond))
	if err != nil {
		return err
	}

	return printJSON(out, map[string]any{
		"identity":             id,
		"user_ledger":          userLedger.Address,
		"user_token_balance":   tokenBalance.Address,
		"second_asset_account": second.Address,
	})
}

func resolveOwner(keyfile, owner string) (address.Address, error) {
	switch {
	case owner != "":
		return address.Parse(owner)
	case keyfile != "":
		kp, err := auth.LoadKeyfile(keyfile)
		if err != nil {
			return address.Zero, err
		}
		return kp.Public(), nil
	default:
		return address.Zero, errors.New("--keyfile or --owner is required")
	}
}

// cmdSubmit builds, signs and posts one operation envelope.
func cmdSubmit(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	server := serverFlag(fs)
	keyfile := fs.String("keyfile", "", "Signer keyfile (required)")
	opName := fs.String("op", "", "Operation, e.g. deposit, withdraw, wrap, user_swap (required)")
	amount := fs.String("amount", "0", "Amount in whole units")
	minOut := fs.String("min-out", "0", "Minimum swap output in whole units")
	decimals := fs.Int("decimals", domain.NativeDecimals, "Decimals used to convert amounts to base units")
	owner := fs.String("owner", "", "Ledger owner (defaults to the signer)")
	recipient := fs.String("recipient", "", "Withdrawal recipient (defaults to the owner)")
	ttl := fs.Duration("ttl", 2*time.Minute, "Envelope lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyfile == "" || *opName == "" {
		return errors.New("--keyfile and --op are required")
	}

	kp, err := auth.LoadKeyfile(*keyfile)
	if err != nil {
		return err
	}
	op, err := buildOperation(*opName, *amount, *minOut, int32(*decimals), *owner, *recipient, time.Now().Add(*ttl))
	if err != nil {
		return err
	}
	env, err := auth.Seal(kp, op)
	if err != nil {
		return err
	}

	var resp json.RawMessage
	if err := newClient(*server).post(ctx, "/v1/operations", env, &resp); err != nil {
		return err
	}
	return printJSON(out, resp)
}

func buildOperation(opName, amount, minOut string, decimals int32, owner, recipient string, expires time.Time) (*auth.Operation, error) {
	op := &auth.Operation{
		Op:        domain.Op(opName),
		Nonce:     uuid.NewString(),
		ExpiresAt: expires.Unix(),
	}

	var err error
	if op.Amount, err = domain.ParseAmount(amount, decimals); err != nil {
		return nil, fmt.Errorf("--amount: %w", err)
	}
	if op.MinimumOut, err = domain.ParseAmount(minOut, decimals); err != nil {
		return nil, fmt.Errorf("--min-out: %w", err)
	}
	if owner != "" {
		if op.Owner, err = address.Parse(owner); err != nil {
			return nil, fmt.Errorf("--owner: %w", err)
		}
	}
	if recipient != "" {
		if op.Recipient, err = address.Parse(recipient); err != nil {
			return nil, fmt.Errorf("--recipient: %w", err)
		}
	}
	return op, nil
}

func cmdBalance(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	server := serverFlag(fs)
	keyfile := fs.String("keyfile", "", "Keyfile of the owner")
	owner := fs.String("owner", "", "Owner address (instead of --keyfile)")
	tokens := fs.Bool("tokens", false, "Show swap-side token balances instead")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := resolveOwner(*keyfile, *owner)
	if err != nil {
		return err
	}

	path := "/v1/users/" + id.String() + "/balance"
	if *tokens {
		path = "/v1/users/" + id.String() + "/tokens"
	}

	var resp json.RawMessage
	if err := newClient(*server).get(ctx, path, &resp); err != nil {
		return err
	}
	return printJSON(out, resp)
}

func cmdStats(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	server := serverFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := newClient(*server)
	var vault, swaps json.RawMessage
	if err := c.get(ctx, "/v1/vault/stats", &vault); err != nil {
		return err
	}
	stats := map[string]json.RawMessage{"vault": vault}

	// Token custody is optional.
	if err := c.get(ctx, "/v1/swap-state", &swaps); err == nil {
		stats["swap_state"] = swaps
	}
	return printJSON(out, stats)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
