package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"buybackd/bank"
	"buybackd/config"
	"buybackd/ledger"
	"buybackd/native/buyback"
	"buybackd/observability/logging"
	telemetry "buybackd/observability/otel"
	"buybackd/oracle"
	"buybackd/server"
	"buybackd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to buybackd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("buybackd: load config: %v", err)
	}

	env := strings.TrimSpace(cfg.Environment)
	if fromEnv := strings.TrimSpace(os.Getenv("BUYBACKD_ENV")); fromEnv != "" {
		env = fromEnv
	}
	logger := logging.Setup("buybackd", env)
	if strings.TrimSpace(cfg.LogFile) != "" {
		logger = logging.SetupWithFile("buybackd", env, cfg.LogFile)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "buybackd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("buybackd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	params, err := config.LoadEngineParams(cfg.EngineParams)
	if err != nil {
		log.Fatalf("buybackd: %v", err)
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("buybackd: open storage: %v", err)
	}
	defer store.Close()

	specs := make([]oracle.SourceSpec, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		specs = append(specs, oracle.SourceSpec{
			Name:     src.Name,
			Type:     src.Type,
			Endpoint: src.Endpoint,
			APIKey:   src.APIKey,
			Assets:   src.Assets,
		})
	}
	sources, err := oracle.BuildSources(specs, nil)
	if err != nil {
		log.Fatalf("buybackd: build oracle sources: %v", err)
	}

	pair := oracle.Pair{Base: cfg.Pair.Base, Quote: cfg.Pair.Quote}
	mgr, err := oracle.New(store, sources, []oracle.Pair{pair},
		cfg.Oracle.Interval.Duration, cfg.Oracle.MaxAge.Duration, cfg.Oracle.MinFeeds)
	if err != nil {
		log.Fatalf("buybackd: oracle manager: %v", err)
	}
	feed, err := oracle.NewFeed(mgr, pair.Base, pair.Quote, cfg.Oracle.MaxAge.Duration)
	if err != nil {
		log.Fatalf("buybackd: oracle feed: %v", err)
	}

	receiver, err := config.ParseAddress(cfg.Ledger.Receiver)
	if err != nil {
		log.Fatalf("buybackd: ledger receiver: %v", err)
	}
	debtLedger, err := ledger.New(nil, cfg.Ledger.URL, cfg.Ledger.Token, receiver)
	if err != nil {
		log.Fatalf("buybackd: ledger client: %v", err)
	}

	treasury, err := config.ParseAddress(cfg.Bank.Treasury)
	if err != nil {
		log.Fatalf("buybackd: bank treasury: %v", err)
	}
	payToken, err := bank.New(nil, cfg.Bank.URL, cfg.Bank.Token, cfg.Bank.PayAsset, treasury)
	if err != nil {
		log.Fatalf("buybackd: pay asset client: %v", err)
	}
	inventory, err := bank.New(nil, cfg.Bank.URL, cfg.Bank.Token, cfg.Bank.SellAsset, treasury)
	if err != nil {
		log.Fatalf("buybackd: sell asset client: %v", err)
	}

	ownerAddr, err := config.ParseAddress(cfg.Auth.Owner.Address)
	if err != nil {
		log.Fatalf("buybackd: owner address: %v", err)
	}

	engine, err := buyback.NewEngine(ownerAddr, debtLedger, feed, payToken, inventory, params)
	if err != nil {
		log.Fatalf("buybackd: engine: %v", err)
	}
	if strings.TrimSpace(cfg.Auth.Admin.Token) != "" {
		adminAddr, err := config.ParseAddress(cfg.Auth.Admin.Address)
		if err != nil {
			log.Fatalf("buybackd: admin address: %v", err)
		}
		if err := engine.SetAdmin(ownerAddr, adminAddr); err != nil {
			log.Fatalf("buybackd: set admin: %v", err)
		}
	}
	recorder := storage.NewRecorder(store, logger)
	engine.SetEmitter(recorder)
	engine.SetReceiptSink(recorder)

	auth, err := server.NewAuthenticator(buildAuthConfig(cfg))
	if err != nil {
		log.Fatalf("buybackd: configure auth: %v", err)
	}

	limits := make(map[string]server.RateLimit, len(cfg.RateLimits))
	for route, limit := range cfg.RateLimits {
		limits[route] = server.RateLimit{
			RequestsPerMinute: limit.RequestsPerMinute,
			Burst:             limit.Burst,
		}
	}
	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		RateLimits:    limits,
	}, engine, store, auth, logger)
	if err != nil {
		log.Fatalf("buybackd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := mgr.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("oracle manager exited", "error", err)
			stop()
		}
	}()

	if err := srv.Run(rootCtx); err != nil {
		log.Fatalf("buybackd: server exited: %v", err)
	}
}

func buildAuthConfig(cfg config.Config) server.AuthConfig {
	authCfg := server.AuthConfig{}
	if addr, err := config.ParseAddress(cfg.Auth.Owner.Address); err == nil {
		authCfg.Owner = server.Credential{Token: cfg.Auth.Owner.Token, Address: addr}
	}
	if addr, err := config.ParseAddress(cfg.Auth.Admin.Address); err == nil {
		authCfg.Admin = server.Credential{Token: cfg.Auth.Admin.Token, Address: addr}
	}
	for _, trader := range cfg.Auth.Traders {
		addr, err := config.ParseAddress(trader.Address)
		if err != nil {
			continue
		}
		authCfg.Traders = append(authCfg.Traders, server.Credential{Token: trader.Token, Address: addr})
	}
	return authCfg
}
