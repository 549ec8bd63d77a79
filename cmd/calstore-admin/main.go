// Command calstore-admin manages principals, app passwords and shares.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/jw6ventures/calstore/internal/auth"
	"github.com/jw6ventures/calstore/internal/config"
	"github.com/jw6ventures/calstore/internal/store"
)

const usage = `usage: calstore-admin <command> [flags]

commands:
  create-user        -user NAME
  app-password       -user NAME -label LABEL [-ttl DURATION]
  revoke-password    -id ID
  create-calendar    -user NAME -name NAME
  create-addressbook -user NAME -name NAME
  share-calendar     -id ID -user NAME [-editor]
  share-addressbook  -id ID -user NAME [-editor]
`

var errUsage = errors.New("invalid usage")

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo, TimeFormat: time.Kitchen})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		slog.Error("failed to create db pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	stor := store.New(pool)
	a := &admin{
		users:          stor.Users,
		passwords:      stor.AppPasswords,
		containers:     stor.Containers,
		auth:           auth.NewService(stor.Users, stor.AppPasswords),
		ensureDefaults: stor.EnsureDefaultCollections,
		out:            os.Stdout,
	}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

type admin struct {
	users          store.UserRepository
	passwords      store.AppPasswordRepository
	containers     store.ContainerRepository
	auth           *auth.Service
	ensureDefaults func(ctx context.Context, userID int64) error
	out            io.Writer
}

func (a *admin) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	username := fs.String("user", "", "user name")
	label := fs.String("label", "", "app password label")
	ttl := fs.Duration("ttl", 0, "app password lifetime, 0 for none")
	name := fs.String("name", "", "collection name")
	id := fs.Int64("id", 0, "record id")
	editor := fs.Bool("editor", false, "grant write access")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	switch cmd {
	case "create-user":
		if *username == "" {
			return errUsage
		}
		u, err := a.users.Create(ctx, *username)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if err := a.ensureDefaults(ctx, u.ID); err != nil {
			return fmt.Errorf("create default collections: %w", err)
		}
		fmt.Fprintf(a.out, "user %s created with id %d\n", u.Username, u.ID)

	case "app-password":
		if *username == "" || *label == "" {
			return errUsage
		}
		u, err := a.users.GetByUsername(ctx, *username)
		if err != nil {
			return fmt.Errorf("find user %s: %w", *username, err)
		}
		token, record, err := a.auth.NewAppPassword(ctx, u.ID, *label, *ttl)
		if err != nil {
			return fmt.Errorf("create app password: %w", err)
		}
		fmt.Fprintf(a.out, "app password %d (%s): %s\n", record.ID, record.Label, token)

	case "revoke-password":
		if *id <= 0 {
			return errUsage
		}
		if err := a.passwords.Revoke(ctx, *id); err != nil {
			return fmt.Errorf("revoke app password %d: %w", *id, err)
		}
		fmt.Fprintf(a.out, "app password %d revoked\n", *id)

	case "create-calendar", "create-addressbook":
		if *username == "" || *name == "" {
			return errUsage
		}
		u, err := a.users.GetByUsername(ctx, *username)
		if err != nil {
			return fmt.Errorf("find user %s: %w", *username, err)
		}
		if cmd == "create-calendar" {
			c, err := a.containers.CreateCalendar(ctx, u.ID, *name)
			if err != nil {
				return fmt.Errorf("create calendar: %w", err)
			}
			fmt.Fprintf(a.out, "calendar %d created\n", c.ID)
		} else {
			b, err := a.containers.CreateAddressBook(ctx, u.ID, *name)
			if err != nil {
				return fmt.Errorf("create address book: %w", err)
			}
			fmt.Fprintf(a.out, "address book %d created\n", b.ID)
		}

	case "share-calendar", "share-addressbook":
		if *id <= 0 || *username == "" {
			return errUsage
		}
		u, err := a.users.GetByUsername(ctx, *username)
		if err != nil {
			return fmt.Errorf("find user %s: %w", *username, err)
		}
		share := a.containers.ShareCalendar
		if cmd == "share-addressbook" {
			share = a.containers.ShareAddressBook
		}
		if err := share(ctx, *id, u.ID, *editor); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		fmt.Fprintf(a.out, "%d shared with %s (editor=%t)\n", *id, u.Username, *editor)

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	return nil
}
