package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"parimutuel-engine/internal/api"
	"parimutuel-engine/internal/cache"
	"parimutuel-engine/internal/config"
	"parimutuel-engine/internal/db"
	"parimutuel-engine/internal/engine"
	"parimutuel-engine/internal/model"
	"parimutuel-engine/internal/ws"
)

func main() {
	cfgPath := flag.String("config", "config.toml", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	store, err := db.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer store.Close()
	log.Println("[main] connected to database")

	// Migrations
	if err := store.Migrate(cfg.Database.MigrationsDir); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("[main] migrations applied")

	// Daily creation counter
	var counter engine.DailyCounter = engine.NewMemoryCounter()
	if cfg.Redis.Addr != "" {
		rc, err := cache.New(ctx, cache.ClientConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rc.Close()
		counter = cache.NewDailyCounter(rc, cfg.Redis.Key)
		log.Printf("[main] daily limit counter on redis %s", cfg.Redis.Addr)
	}

	// WS Hub
	hub := ws.NewHub()

	// Engine
	ledger := engine.NewLedger(engine.Options{
		Bank:            db.NewWalletBank(store),
		Seeds:           cfg.SeedSource(),
		Counter:         counter,
		FeeRecipient:    cfg.Engine.FeeRecipient,
		MinParticipants: cfg.Engine.MinParticipants,
		DailyLimit:      cfg.Engine.DailyLimit,
	})
	eng := engine.New(ledger, store, hub.Publish)
	if err := eng.Boot(ctx); err != nil {
		log.Fatalf("engine boot: %v", err)
	}
	eng.Start(ctx)

	bootstrapAssets(ctx, eng, cfg.Assets)
	if cfg.Admin.Email != "" {
		bootstrapAdmin(ctx, store, cfg.Admin)
	}

	// HTTP
	srv := api.NewServer(store, eng, hub.HandleWS, cfg.Server.JWTSecret)
	httpSrv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: srv.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Printf("[main] listening on :%s", cfg.Server.Port)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server: %v", err)
	}
	log.Println("[main] shut down")
}

// bootstrapAssets registers configured assets the ledger does not know yet.
// Known assets keep their stored limits and accepted flag.
func bootstrapAssets(ctx context.Context, eng *engine.Engine, assets []config.AssetConfig) {
	for _, a := range assets {
		minStake, maxStake, err := a.Limits()
		if err != nil {
			log.Fatalf("asset %s: %v", a.ID, err)
		}
		cfg, created, err := eng.EnsureAsset(ctx, a.ID, minStake, maxStake, a.Decimals, a.Symbol)
		if err != nil {
			log.Fatalf("register asset %s: %v", a.ID, err)
		}
		if created {
			log.Printf("[main] registered asset %s (%s)", cfg.ID, cfg.Symbol)
		} else if !cfg.Accepted {
			log.Printf("[main] asset %s is deactivated; leaving it that way", cfg.ID)
		}
	}
}

func bootstrapAdmin(ctx context.Context, store *db.Store, admin config.AdminConfig) {
	if u, _ := store.GetUserByEmail(ctx, admin.Email); u != nil {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("admin hash: %v", err)
	}
	if _, err := store.CreateUser(ctx, admin.Email, string(hash), model.RoleAdmin); err != nil {
		log.Fatalf("create admin: %v", err)
	}
	log.Printf("[main] created admin %s", admin.Email)
}
