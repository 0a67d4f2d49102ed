package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexproject/amconfig/pkg/alertmanager"
	"github.com/cortexproject/amconfig/pkg/configstore"
	"github.com/cortexproject/amconfig/pkg/configstore/memory"
	"github.com/cortexproject/amconfig/pkg/configstore/postgres"
	"github.com/cortexproject/amconfig/pkg/crypto"
	"github.com/cortexproject/amconfig/pkg/definitions"
	"github.com/cortexproject/amconfig/pkg/permissions"
	"github.com/cortexproject/amconfig/pkg/provisioning"
)

type config struct {
	listenAddr string

	storeBackend  string
	postgresURI   string
	migrationsDir string

	secret string

	shutdownTimeout time.Duration
}

func (c *config) registerFlags(f *flag.FlagSet) {
	f.StringVar(&c.listenAddr, "server.http-listen-address", ":8080", "HTTP listen address.")
	f.StringVar(&c.storeBackend, "store.backend", "memory", "Configuration store backend. Supported: memory, postgres.")
	f.StringVar(&c.postgresURI, "store.postgres.uri", "", "Postgres connection URI, required with -store.backend=postgres.")
	f.StringVar(&c.migrationsDir, "store.postgres.migrations-dir", "", "Directory with database migrations. Empty disables migrations.")
	f.StringVar(&c.secret, "crypto.secret", "", "Secret used to encrypt stored secure settings and extra configurations.")
	f.DurationVar(&c.shutdownTimeout, "server.shutdown-timeout", 15*time.Second, "Time to wait for inflight requests on shutdown.")
}

func main() {
	var cfg config
	cfg.registerFlags(flag.CommandLine)
	flag.Parse()

	logger := log.With(
		log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr)),
		"ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller,
	)

	if err := run(cfg, logger); err != nil {
		level.Error(logger).Log("msg", "exiting with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config, logger log.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		store     configstore.Store
		provStore provisioning.ProvisioningStore
		xact      provisioning.TransactionManager
	)
	switch cfg.storeBackend {
	case "memory":
		mem := memory.New()
		store, provStore, xact = mem, provisioning.NewInMemProvisioningStore(), mem
	case "postgres":
		db, err := postgres.New(cfg.postgresURI, cfg.migrationsDir, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		store, provStore, xact = db, db, db
	default:
		level.Error(logger).Log("msg", "unsupported store backend", "backend", cfg.storeBackend)
		os.Exit(2)
	}
	store = configstore.NewTimed(configstore.NewTraced(store, logger), reg)

	cryptoSvc := crypto.New(cfg.secret)
	perms := permissions.NewInMemoryService()

	factory := alertmanager.NewEmbeddedAlertmanagerFactory(store, cryptoSvc, logger)
	moa := alertmanager.NewMultiOrgAlertmanager(factory, store, provStore, cryptoSvc, perms, logger, reg)

	policies := provisioning.NewNotificationPolicyService(
		provisioning.NewRevisionStore(store, cryptoSvc),
		provStore,
		xact,
		definitions.DefaultConfigurationJSON,
		logger,
	)

	router := mux.NewRouter()
	alertmanager.NewAPI(moa, policies, logger).RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: cfg.listenAddr, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "listening", "addr", cfg.listenAddr, "backend", cfg.storeBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	level.Info(logger).Log("msg", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
