package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/woedy/snelroi-chat/internal/config"
	"github.com/woedy/snelroi-chat/internal/credentials"
	"github.com/woedy/snelroi-chat/internal/redact"
)

const usage = `usage: credentials [-config path] <command> [args]

commands:
  set <key> <token>   store a token under key
  get [key]           print the token under key, or the resolved token
  delete <key>        remove key
  which               print the key the clients will use
`

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if err := run(*configPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load(configPath, false)
	if err != nil {
		return err
	}
	store, err := credentials.OpenSQLite(cfg.Credentials.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	resolver := credentials.NewResolver(store, cfg.Credentials.Keys...)

	switch cmd, rest := args[0], args[1:]; cmd {
	case "set":
		if len(rest) != 2 {
			return errors.New("set takes <key> <token>")
		}
		return store.Set(ctx, rest[0], strings.TrimSpace(rest[1]))

	case "get":
		if len(rest) == 0 {
			tok, err := resolver.Token(ctx)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		}
		v, ok, err := store.Get(ctx, rest[0])
		if err != nil {
			return err
		}
		if !ok {
			return errors.Errorf("no value stored under %q", rest[0])
		}
		fmt.Println(v)
		return nil

	case "delete":
		if len(rest) != 1 {
			return errors.New("delete takes <key>")
		}
		return store.Delete(ctx, rest[0])

	case "which":
		key, tok, err := resolver.Lookup(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (from %s)\n", key, redact.Token(tok), cfg.Credentials.DBPath)
		return nil

	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}
