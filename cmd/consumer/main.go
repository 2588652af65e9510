package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/VerDatAs/tud-assistance-backbone/internal/config"
	"github.com/VerDatAs/tud-assistance-backbone/internal/consumer"
	"github.com/VerDatAs/tud-assistance-backbone/internal/delivery"
	"github.com/VerDatAs/tud-assistance-backbone/internal/dispatch"
	"github.com/VerDatAs/tud-assistance-backbone/internal/evaluator"
	"github.com/VerDatAs/tud-assistance-backbone/internal/registry"
	"github.com/VerDatAs/tud-assistance-backbone/internal/store/postgres"
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

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.StatementTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})

	proc := consumer.NewProcessor(reader, consumer.NewDispatchHandler(reactive))

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer reader.Close()

		log.Printf("consumer started (topic=%s, group=%s)", cfg.StatementTopic, cfg.ConsumerGroupID)
		if err := proc.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("consumer stopped with error: %v", err)
		}
	}()

	<-stop
	log.Println("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	wg.Wait()
}

// registerAssistanceTypes wires the built-in evaluators, honouring the
// disabled-types configuration. The consumer registers the same set as the
// API so a statement is evaluated identically on either intake path.
func registerAssistanceTypes(reg *registry.Registry, disabled []string) error {
	if err := reg.Register(evaluator.TypeHintOnFailure(), &evaluator.HintOnFailure{}); err != nil {
		return err
	}
	if err := reg.Register(evaluator.TypeGreeting(), &evaluator.Greeting{}); err != nil {
		return err
	}
	if err := reg.Register(evaluator.TypeDiaryReminder(), &evaluator.DiaryReminder{}); err != nil {
		return err
	}
	if err := reg.Register(evaluator.TypeExchangeWillingness(), &evaluator.ExchangeWillingness{}); err != nil {
		return err
	}
	for _, id := range disabled {
		if err := reg.SetEnabled(id, false); err != nil {
			return err
		}
	}
	return nil
}
