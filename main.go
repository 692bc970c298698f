package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v4/stdlib"
	"go.uber.org/zap"

	"github.com/saugat-sapkota-2/digital-wallet/admin"
	"github.com/saugat-sapkota-2/digital-wallet/api"
	"github.com/saugat-sapkota-2/digital-wallet/config"
	"github.com/saugat-sapkota-2/digital-wallet/db"
	"github.com/saugat-sapkota-2/digital-wallet/ledger"
	"github.com/saugat-sapkota-2/digital-wallet/loans"
	"github.com/saugat-sapkota-2/digital-wallet/notify"
	"github.com/saugat-sapkota-2/digital-wallet/pending"
	"github.com/saugat-sapkota-2/digital-wallet/requests"
	"github.com/saugat-sapkota-2/digital-wallet/store"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := sql.Open("pgx", cfg.DBURL)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer sqlDB.Close()
	if err := sqlDB.PingContext(ctx); err != nil {
		log.Fatal("ping database", zap.Error(err))
	}
	if err := db.Initialize(sqlDB); err != nil {
		log.Fatal("initialize schema", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("ping redis", zap.Error(err))
	}

	accounts := store.NewPostgres(sqlDB)
	sink := notify.NewStoreSink(accounts, log)

	books := ledger.New(accounts, sink, cfg.Currency, log)
	loanEngine := loans.New(accounts, books, sink, cfg.Currency, log)
	requestEngine := requests.New(accounts, books, sink, cfg.Currency, log)
	adminActions := admin.New(accounts, books, sink, cfg.Currency, log)
	confirmations := pending.NewStore(rdb, accounts, books, requestEngine, adminActions, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	api.New(accounts, books, loanEngine, requestEngine, adminActions, confirmations, log).RegisterRoutes(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Info("wallet service listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}
