package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/VerDatAs/tud-assistance-backbone/internal/api"
	"github.com/VerDatAs/tud-assistance-backbone/internal/auth"
	"github.com/VerDatAs/tud-assistance-backbone/internal/config"
	"github.com/VerDatAs/tud-assistance-backbone/internal/delivery"
	"github.com/VerDatAs/tud-assistance-backbone/internal/dispatch"
	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
	"github.com/VerDatAs/tud-assistance-backbone/internal/evaluator"
	"github.com/VerDatAs/tud-assistance-backbone/internal/registry"
	"github.com/VerDatAs/tud-assistance-backbone/internal/store/postgres"
	httptransport "github.com/VerDatAs/tud-assistance-backbone/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewRepository(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	kafkaChannel := delivery.NewKafkaChannel(cfg.KafkaBrokers, cfg.DecisionTopic)
	defer kafkaChannel.Close()

	pipeline := delivery.NewPipeline(cfg.DeliveryCooldown,
		[]delivery.Channel{delivery.NewRedisChannel(redisClient), kafkaChannel},
		delivery.WithAuditLog(postgres.NewDeliveryLog(pool)),
	)

	reg := registry.New()
	if err := registerAssistanceTypes(reg, cfg.DisabledTypes); err != nil {
		log.Fatalf("failed to register assistance types: %v", err)
	}

	reactive := dispatch.NewReactive(reg, repo, pipeline,
		dispatch.WithMaxAttempts(cfg.MaxCASAttempts),
		dispatch.WithEvaluatorTimeout(cfg.EvaluatorTimeout),
	)

	scheduler := dispatch.NewScheduled(reg, repo, repo, pipeline,
		dispatch.WithTick(cfg.SchedulerTick),
		dispatch.WithCoreOptions(
			dispatch.WithMaxAttempts(cfg.MaxCASAttempts),
			dispatch.WithEvaluatorTimeout(cfg.EvaluatorTimeout),
		),
	)
	go scheduler.Start(ctx)

	handler := api.NewHandler(reg, reactive)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		func(r *http.Request) bool {
			return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
		},
	)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("assistance backbone listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	scheduler.Wait()
}

// registerAssistanceTypes wires the built-in evaluators, honouring the
// disabled-types configuration.
func registerAssistanceTypes(reg *registry.Registry, disabled []string) error {
	bindings := []struct {
		descriptor domain.AssistanceType
		impl       any
	}{
		{evaluator.TypeHintOnFailure(), &evaluator.HintOnFailure{}},
		{evaluator.TypeGreeting(), &evaluator.Greeting{}},
		{evaluator.TypeDiaryReminder(), &evaluator.DiaryReminder{}},
		{evaluator.TypeExchangeWillingness(), &evaluator.ExchangeWillingness{}},
	}

	for _, b := range bindings {
		if err := reg.Register(b.descriptor, b.impl); err != nil {
			return err
		}
	}

	for _, id := range disabled {
		if err := reg.SetEnabled(id, false); err != nil {
			return err
		}
	}
	return nil
}
