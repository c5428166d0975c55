package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"recycler/config"
	"recycler/crypto"
	"recycler/native/recycler"
	"recycler/services/recyclerd/server"
)

const (
	tokenCommand    = "token"
	scheduleCommand = "schedule"
	addressCommand  = "address"
	keygenCommand   = "keygen"
	defaultConfig   = "recyclerd.toml"
	secondsPerDay   = 86_400
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case scheduleCommand:
		err = runSchedule(os.Args[2:], os.Stdout)
	case addressCommand:
		err = runAddress(os.Args[2:], os.Stdout)
	case keygenCommand:
		err = runKeygen(os.Args[2:], os.Stdout)
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the recyclerd config file")
	subject := fs.String("subject", "", "Caller address the token authenticates")
	ttl := fs.Duration("ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(*subject)
	if err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	lifetime := cfg.Auth.TokenTTL.Duration
	if *ttl > 0 {
		lifetime = *ttl
	}
	token, err := server.IssueToken(server.AuthConfig{
		HMACSecret: cfg.HMACSecret(),
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, addr, lifetime, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runSchedule(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(scheduleCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the recyclerd config file")
	days := fs.Uint64("days", 30, "Number of days to print")
	step := fs.Uint64("step", 1, "Days between rows")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *step == 0 {
		return fmt.Errorf("step must be positive")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	params, err := scheduleParams(cfg.Params)
	if err != nil {
		return err
	}
	return printSchedule(out, params, *days, *step)
}

func scheduleParams(p config.Params) (recycler.Params, error) {
	base, err := config.ParseAmount(p.BasePrice)
	if err != nil {
		return recycler.Params{}, err
	}
	slope, err := config.ParseAmount(p.GrowthSlopePerDay)
	if err != nil {
		return recycler.Params{}, err
	}
	params := recycler.Params{BasePrice: base, DecayRatePPM: p.DecayRatePPM, GrowthSlopePerDay: slope}
	return params, params.Validate()
}

func printSchedule(out io.Writer, params recycler.Params, days, step uint64) error {
	fmt.Fprintf(out, "%-6s %s\n", "DAY", "WEIGHT_PRICE")
	for day := uint64(0); day <= days; day += step {
		price, err := recycler.WeightPriceAt(params, 0, day*secondsPerDay)
		if err != nil {
			return fmt.Errorf("day %d: %w", day, err)
		}
		fmt.Fprintf(out, "%-6d %s\n", day, price.String())
		if price.Cmp(big.NewInt(1)) == 0 {
			fmt.Fprintf(out, "price floor reached on day %d\n", day)
			break
		}
	}
	return nil
}

func runAddress(args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: recyclerctl %s <address>", addressCommand)
	}
	addr, err := crypto.ParseAddress(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "hex:    %s\nbech32: %s\n", addr.Hex(), crypto.EncodeAddress(addr))
	return nil
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "engine.keystore", "Output path for the engine keystore")
	passEnv := fs.String("pass-env", "RECYCLER_ENGINE_PASS", "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	passphrase := ""
	if env := strings.TrimSpace(*passEnv); env != "" {
		val, ok := os.LookupEnv(env)
		if !ok {
			return fmt.Errorf("environment variable %s is not set", env)
		}
		passphrase = val
	}
	key, created, err := crypto.LoadOrCreateKeystore(*keystorePath, passphrase)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(out, "Wrote keystore to %s\n", *keystorePath)
	} else {
		fmt.Fprintf(out, "Keystore %s already exists\n", *keystorePath)
	}
	fmt.Fprintf(out, "Engine account: %s (%s)\n", key.Address().Hex(), crypto.EncodeAddress(key.Address()))
	return nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "recyclerctl <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintf(w, "  %-9s Mint an API bearer token for a caller address\n", tokenCommand)
	fmt.Fprintf(w, "  %-9s Print the weight price curve for the configured params\n", scheduleCommand)
	fmt.Fprintf(w, "  %-9s Convert an address between hex and bech32\n", addressCommand)
	fmt.Fprintf(w, "  %-9s Create the engine keystore\n", keygenCommand)
}
