// Command aislectl manages users, API keys and stores directly in the aisle
// database.
package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/aisle/internal/apikey"
	"github.com/dukerupert/aisle/internal/config"
	"github.com/dukerupert/aisle/internal/database"
	"github.com/dukerupert/aisle/internal/docstore"
	"github.com/dukerupert/aisle/internal/logging"
	"github.com/dukerupert/aisle/internal/middleware"
	"github.com/dukerupert/aisle/internal/registry"
	"github.com/dukerupert/aisle/internal/store"
	"github.com/dukerupert/aisle/internal/validate"
)

// app holds what the subcommands share once the database is open.
type app struct {
	dbPath string
	pepper string

	db       *sql.DB
	users    *store.UserStore
	registry *registry.Registry
	gate     *apikey.Gate
}

func (a *app) open(cmd *cobra.Command, _ []string) error {
	db, err := database.Open(a.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	logger := logging.New(cmd.ErrOrStderr(), "warn", "text")
	a.db = db
	a.users = store.NewUserStore(db)
	a.registry = registry.New(docstore.NewSQLiteStore(db), a.users, logger)
	a.gate = apikey.New(a.users, a.registry, middleware.NewRateLimiter(), logger, apikey.WithPepper(a.pepper))
	return nil
}

func (a *app) close(*cobra.Command, []string) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	a := &app{dbPath: cfg.DBPath, pepper: cfg.APIKeyPepper}

	root := &cobra.Command{
		Use:   "aislectl",
		Short: "Manage aisle users, API keys and stores",
		Long: `aislectl works on the same SQLite database as the aisle server.

Examples:
  aislectl users add --email alice@example.com --name Alice
  aislectl keys generate <user-id>
  aislectl stores list --owner <user-id>`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.open,
		PersistentPostRunE: a.close,
	}
	root.PersistentFlags().StringVarP(&a.dbPath, "db", "d", cfg.DBPath, "Database file path")
	root.PersistentFlags().StringVar(&a.pepper, "pepper", cfg.APIKeyPepper, "API key hashing secret, must match the server")

	root.AddCommand(a.usersCmd(), a.keysCmd(), a.storesCmd())
	return root
}

func (a *app) usersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage users"}

	var id, email, name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a user and accept their pending store invites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			normalized, err := validate.Email(email)
			if err != nil {
				return err
			}
			u, err := a.users.Create(id, normalized, name)
			if err != nil {
				return err
			}
			n, err := a.registry.ConvertPendingToAccepted(cmd.Context(), u.Email, u.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s), accepted %d pending shares\n", u.ID, u.Email, n)
			return nil
		},
	}
	add.Flags().StringVar(&id, "id", "", "User id (generated when empty)")
	add.Flags().StringVar(&email, "email", "", "Email address")
	add.Flags().StringVar(&name, "name", "", "Display name")
	add.MarkFlagRequired("email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := a.users.List()
			if err != nil {
				return err
			}
			tw := table(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tAPI KEY")
			for _, u := range users {
				key := "-"
				if u.APIKeyHash != nil {
					key = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Name, key)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func (a *app) keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Manage API keys"}

	generate := &cobra.Command{
		Use:   "generate <user-id>",
		Short: "Generate a new API key, replacing the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.gate.GenerateKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			fmt.Fprintln(cmd.ErrOrStderr(), "Save this key now. It will not be shown again.")
			return nil
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Revoke a user's API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.gate.Revoke(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked key for %s\n", args[0])
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show whether a user has a key and when it was last used",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.gate.Status(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !st.HasKey {
				fmt.Fprintln(out, "no key")
				return nil
			}
			fmt.Fprintf(out, "created %s, last used %s\n", stamp(st.CreatedAt), stamp(st.LastUsed))
			return nil
		},
	}

	cmd.AddCommand(generate, revoke, status)
	return cmd
}

func (a *app) storesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "stores", Short: "Inspect stores"}

	var owner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List stores, optionally those a user can access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stores, err := a.registry.ListAll(ctx)
			if owner != "" {
				stores, err = a.registry.ListForUser(ctx, owner)
			}
			if err != nil {
				return err
			}
			tw := table(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tNAME\tOWNER\tSECTIONS\tSHARED\tPENDING")
			for _, s := range stores {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
					s.ID, s.Name, s.OwnerID, len(s.Sections), len(s.SharedWith), len(s.PendingShares))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "Only stores this user id owns or shares")

	cmd.AddCommand(list)
	return cmd
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func stamp(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
