package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/storewallet/internal/config"
	"github.com/MarkoPoloResearchLab/storewallet/internal/httpapi"
	"github.com/MarkoPoloResearchLab/storewallet/internal/metrics"
	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagListenAddr     = "listen-addr"
	flagDatabaseURL    = "database-url"
	flagUsePgx         = "use-pgx"
	flagRequestTimeout = "request-timeout"
	flagHistoryLimit   = "history-limit"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagAdminRole      = "admin-role"
	flagKafkaBrokers   = "kafka-brokers"
	flagKafkaTopic     = "kafka-topic"
	flagRedisAddr      = "redis-addr"
	flagRedisPrefix    = "redis-channel-prefix"
	flagCatalogFile    = "catalog-file"
	flagEnvFile        = "env-file"
	envPrefix          = "STOREWALLET"
	defaultDatabaseURL = "sqlite:///tmp/storewallet.db"
)

var configFlags = []string{
	flagListenAddr, flagDatabaseURL, flagUsePgx, flagRequestTimeout, flagHistoryLimit,
	flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName, flagAdminRole,
	flagKafkaBrokers, flagKafkaTopic, flagRedisAddr, flagRedisPrefix, flagCatalogFile,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Store wallet and perk entitlement server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagListenAddr, "", "HTTP listen address (default :8080)")
	flags.String(flagDatabaseURL, defaultDatabaseURL, "postgres:// or sqlite:// database URL")
	flags.Bool(flagUsePgx, false, "use the pgx store instead of gorm (postgres only)")
	flags.Duration(flagRequestTimeout, 0, "per-request timeout (default 5s)")
	flags.Int(flagHistoryLimit, 0, "maximum ledger and perk history rows per response (default 20)")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	flags.String(flagJWTIssuer, "", "expected JWT issuer")
	flags.String(flagJWTCookieName, "", "JWT cookie name")
	flags.String(flagAdminRole, "", "session role allowed to review wallet requests")
	flags.String(flagKafkaBrokers, "", "comma-separated Kafka brokers for notifications")
	flags.String(flagKafkaTopic, "", "Kafka notification topic")
	flags.String(flagRedisAddr, "", "Redis address for balance events")
	flags.String(flagRedisPrefix, "", "Redis channel prefix for balance events")
	flags.String(flagCatalogFile, "", "perk catalog file (YAML, JSON or TOML)")
	flags.String(flagEnvFile, "", "environment file loaded before reading configuration (default .env)")

	cmd.AddCommand(newServeCommand(cfg), newMigrateCommand(cfg), newLinkStoreCommand(cfg), newReconcileCommand(cfg))
	return cmd
}

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, cfg)
		},
	}
}

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, cleanup, _, err := openDatabase(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = cleanup() }()
			return migrateSchema(db)
		},
	}
}

func newLinkStoreCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "link-store <store-id> <owner-user-id>",
		Short: "Attach a store to the wallet of its owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			storeID, err := wallet.NewStoreID(args[0])
			if err != nil {
				return err
			}
			ownerID, err := wallet.NewUserID(args[1])
			if err != nil {
				return err
			}
			return withDaemon(cmd, cfg, func(rt *daemon) error {
				if err := rt.service.LinkStore(cmd.Context(), storeID, ownerID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "linked %s to %s\n", storeID, ownerID)
				return nil
			})
		},
	}
}

func newReconcileCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <user-id>...",
		Short: "Recompute balances and report mismatches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(cmd, cfg, func(rt *daemon) error {
				var failed int
				for _, raw := range args {
					userID, err := wallet.NewUserID(raw)
					if err != nil {
						return err
					}
					reconciliation, err := rt.service.Reconcile(cmd.Context(), userID)
					if err != nil {
						return err
					}
					state := "ok"
					if !reconciliation.Consistent() || reconciliation.Negative() {
						state = "mismatch"
						failed++
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\taggregate=%s\tfolded=%s\tentries=%d\n",
						userID, state,
						wallet.FormatCents(reconciliation.AggregateCents),
						wallet.FormatCents(reconciliation.FoldedCents),
						reconciliation.EntryCount)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d accounts failed reconciliation", failed, len(args))
				}
				return nil
			})
		},
	}
}

func runServe(cmd *cobra.Command, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)
	return withDaemon(cmd, cfg, func(rt *daemon) error {
		return httpapi.Run(ctx, *cfg, rt.service, rt.recorder, rt.logger)
	})
}

func withDaemon(cmd *cobra.Command, cfg *config.Config, fn func(rt *daemon) error) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	rt, err := newDaemon(cmd.Context(), *cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(rt)
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	envFile, err := cmd.Flags().GetString(flagEnvFile)
	if err != nil {
		return err
	}
	if envFile != "" {
		err = config.LoadDotEnv(envFile)
	} else {
		err = config.LoadDotEnv()
	}
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range configFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.UsePgx = v.GetBool(flagUsePgx)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.HistoryLimit = v.GetInt(flagHistoryLimit)
	cfg.AllowedOrigins = config.ParseList(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.AdminRole = strings.TrimSpace(v.GetString(flagAdminRole))
	cfg.KafkaBrokers = config.ParseList(v.GetString(flagKafkaBrokers))
	cfg.KafkaTopic = strings.TrimSpace(v.GetString(flagKafkaTopic))
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.RedisChannelPrefix = strings.TrimSpace(v.GetString(flagRedisPrefix))
	cfg.CatalogFile = strings.TrimSpace(v.GetString(flagCatalogFile))

	if cmd.Name() == "walletd" || cmd.Name() == "serve" {
		return cfg.Validate()
	}
	return cfg.ValidateStorage()
}
