// Worker ships session events from Kafka to Loki.
// Requires KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"phone-verification-server/internal/config"
	"phone-verification-server/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	brokers := cfg.TelemetryKafkaBrokersList()
	switch {
	case len(brokers) == 0:
		log.Fatal("worker: KAFKA_BROKERS is required")
	case cfg.TelemetryKafkaTopic == "":
		log.Fatal("worker: TELEMETRY_KAFKA_TOPIC is required")
	case cfg.LokiURL == "":
		log.Fatal("worker: LOKI_URL is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.TelemetryKafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker: %s (group %s) -> %s", cfg.TelemetryKafkaTopic, cfg.KafkaGroupID, cfg.LokiURL)
	s := newShipper(reader, loki.NewClient(cfg.LokiURL))
	if err := s.run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("worker: %v", err)
	}
	log.Printf("worker: stopped after %d events (%d dropped)", s.shipped, s.dropped)
}
