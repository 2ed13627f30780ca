package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/weintegritywork/weintegrity-ppm/internal/app"
	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/config"
	"github.com/weintegritywork/weintegrity-ppm/internal/crud"
	"github.com/weintegritywork/weintegrity-ppm/internal/seed"
)

func main() {
	// ---- seed ----
	seedCmd := flag.NewFlagSet("seed", flag.ExitOnError)
	seedFile := seedCmd.String("file", "", "seed JSON file (default: built-in development data)")
	seedTimeout := seedCmd.Duration("timeout", time.Minute, "overall timeout")

	// ---- hash-password ----
	hashCmd := flag.NewFlagSet("hash-password", flag.ExitOnError)
	hashPass := hashCmd.String("password", "", "password to hash (read from stdin when empty)")

	// ---- token ----
	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)
	tokenSub := tokenCmd.String("sub", "", "user id")
	tokenEmail := tokenCmd.String("email", "", "user email")
	tokenRole := tokenCmd.String("role", string(auth.RoleEmployee), "role claim")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "seed":
		_ = seedCmd.Parse(os.Args[2:])
		dieIf(runSeed(*seedFile, *seedTimeout))

	case "hash-password":
		_ = hashCmd.Parse(os.Args[2:])
		pw := *hashPass
		if pw == "" {
			var err error
			pw, err = readLine()
			dieIf(err)
		}
		hash, err := auth.HashPassword(auth.DefaultArgon, pw)
		dieIf(err)
		fmt.Println(hash)

	case "token":
		_ = tokenCmd.Parse(os.Args[2:])
		if *tokenSub == "" {
			dieIf(errors.New("-sub is required"))
		}
		cfg, err := config.Load()
		dieIf(err)
		if cfg.GeneratedSecret {
			dieIf(errors.New("TRACKER_JWT_SECRET must be set to mint tokens"))
		}
		tokens, err := auth.NewTokenService(cfg.JWTSecret)
		dieIf(err)
		tok, id, err := tokens.Issue(*tokenSub, *tokenEmail, auth.Role(*tokenRole))
		dieIf(err)
		fmt.Println(tok)
		fmt.Fprintf(os.Stderr, "expires %s\n", id.ExpiresAt.Format(time.RFC3339))

	default:
		usage()
		os.Exit(2)
	}
}

// runSeed writes the seed data to the configured storage.
func runSeed(file string, timeout time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := config.SetupLogger(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, err := seed.Load(file)
	if err != nil {
		return err
	}
	b, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close(context.WithoutCancel(ctx))
	if err := b.EnsureIndexes(ctx, app.Indexes(crud.Resources(auth.DefaultArgon))); err != nil {
		return err
	}
	counts, err := seed.Apply(ctx, b, data, auth.DefaultArgon)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Printf("%-16s %d\n", n, counts[n])
	}
	return nil
}

func readLine() (string, error) {
	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: trackerctl <command> [flags]

commands:
  seed           load seed data into the configured storage
  hash-password  print an argon2id hash for a password
  token          mint an access token with the configured secret`)
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
