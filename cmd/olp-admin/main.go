// Command olp-admin manages API clients and issued tokens against the
// server's persistent storage.
//
//	olp-admin client create -name NAME [-description TEXT]
//	olp-admin client show -id ID
//	olp-admin client list
//	olp-admin client revoke -id ID
//	olp-admin token show -jti JTI
//	olp-admin token revoke (-jti JTI | -order ID | -subscription ID)
//	olp-admin cleanup
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/iliyamo/content-license-server/internal/app"
	"github.com/iliyamo/content-license-server/internal/client"
	"github.com/iliyamo/content-license-server/internal/config"
	"github.com/iliyamo/content-license-server/internal/repository"
	"github.com/iliyamo/content-license-server/internal/revocation"
	"github.com/iliyamo/content-license-server/internal/session"
)

const usage = `usage:
  olp-admin client create -name NAME [-description TEXT]
  olp-admin client show -id ID
  olp-admin client list
  olp-admin client revoke -id ID
  olp-admin token show -jti JTI
  olp-admin token revoke (-jti JTI | -order ID | -subscription ID)
  olp-admin cleanup`

var errUsage = errors.New(usage)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	ctx := context.Background()
	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open stores")
	}
	defer stores.Close()

	if err := run(ctx, os.Args[1:], cfg, stores, log, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, cfg config.Config, stores *app.Stores, log zerolog.Logger, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "client":
		clients, err := client.NewRegistry(stores.Clients, cfg.BcryptCost, log)
		if err != nil {
			return err
		}
		return runClient(ctx, args[1:], clients, out)
	case "token":
		return runToken(ctx, args[1:], revocation.NewRegistry(stores.Tokens, log), out)
	case "cleanup":
		tokens, err := revocation.NewRegistry(stores.Tokens, log).CleanupExpired(ctx)
		if err != nil {
			return err
		}
		sessions, err := session.NewManager(stores.Sessions, cfg.SessionTTL, log).Cleanup(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"tokens_removed": tokens, "sessions_removed": sessions})
	default:
		return errUsage
	}
}

func runClient(ctx context.Context, args []string, clients *client.Registry, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	fs := flag.NewFlagSet("client "+args[0], flag.ContinueOnError)
	id := fs.String("id", "", "client id")
	name := fs.String("name", "", "client name")
	desc := fs.String("description", "", "client description")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	switch args[0] {
	case "create":
		creds, err := clients.Create(ctx, *name, client.CreateOptions{Description: *desc})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "store the secret now; it cannot be shown again")
		return printJSON(out, creds)
	case "show":
		if *id == "" {
			return errUsage
		}
		c, err := clients.Get(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(out, c)
	case "list":
		list, err := clients.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, list)
	case "revoke":
		if *id == "" {
			return errUsage
		}
		if err := clients.Revoke(ctx, *id); err != nil {
			return err
		}
		return printJSON(out, map[string]any{"client_id": *id, "active": false})
	default:
		return errUsage
	}
}

func runToken(ctx context.Context, args []string, tokens *revocation.Registry, out io.Writer) error {
	if len(args) > 0 && args[0] == "show" {
		return showToken(ctx, args[1:], tokens, out)
	}
	if len(args) == 0 || args[0] != "revoke" {
		return errUsage
	}
	fs := flag.NewFlagSet("token revoke", flag.ContinueOnError)
	jti := fs.String("jti", "", "token id")
	order := fs.String("order", "", "order id")
	sub := fs.String("subscription", "", "subscription id")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	switch {
	case *jti != "":
		changed, err := tokens.Revoke(ctx, *jti)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"jti": *jti, "revoked": changed})
	case *order != "":
		n, err := tokens.RevokeForOrder(ctx, *order)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"order_id": *order, "revoked": n})
	case *sub != "":
		n, err := tokens.RevokeForSubscription(ctx, *sub)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]any{"subscription_id": *sub, "revoked": n})
	default:
		return errUsage
	}
}

func showToken(ctx context.Context, args []string, tokens *revocation.Registry, out io.Writer) error {
	fs := flag.NewFlagSet("token show", flag.ContinueOnError)
	jti := fs.String("jti", "", "token id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *jti == "" {
		return errUsage
	}
	rec, err := tokens.Lookup(ctx, *jti)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("token %s not found", *jti)
	}
	if err != nil {
		return err
	}
	return printJSON(out, map[string]any{
		"jti":             rec.JTI,
		"client_id":       rec.ClientID,
		"license_id":      rec.LicenseID,
		"order_id":        rec.OrderID,
		"subscription_id": rec.SubscriptionID,
		"expires_at":      rec.ExpiresAt,
		"revoked":         rec.Revoked(),
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
