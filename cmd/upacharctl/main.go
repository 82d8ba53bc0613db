// Command upacharctl is the operator CLI: schema migrations, catalog seeding, admin grants
// and a Stripe webhook simulator.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/md-rashed-zaman/upachar/libs/config"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/md-rashed-zaman/upachar/libs/runtime"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	_ = config.LoadDotEnv()
	ctx, stop := runtime.SignalContext()
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:          "upacharctl",
		Short:        "Operator tooling for the Upachar platform",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadConfig(v)
		},
	}
	root.PersistentFlags().String("config", "", "config file (yaml, json, toml or .env)")
	root.PersistentFlags().String("database-url", "", "postgres url (env DATABASE_URL)")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("database_url", root.PersistentFlags().Lookup("database-url"))
	_ = v.BindEnv("database_url", "DATABASE_URL")

	root.AddCommand(newMigrateCmd(v), newSeedCmd(v), newAdminCmd(v), newStripeCmd())
	return root
}

func loadConfig(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func databaseURL(v *viper.Viper) (string, error) {
	url := strings.TrimSpace(v.GetString("database_url"))
	if url == "" {
		return "", errors.New("database url is required (--database-url or DATABASE_URL)")
	}
	return url, nil
}

// withPool opens a pool for the duration of fn.
func withPool(ctx context.Context, v *viper.Viper, fn func(db.Conn) error) error {
	url, err := databaseURL(v)
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()
	return fn(pool)
}
