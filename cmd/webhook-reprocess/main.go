package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/app"
	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/service/payment"
)

const defaultListLimit = 100

// Оператор перезапускает webhook-события, исчерпавшие автоматические retry.
// По умолчанию инструмент только перечисляет записи; повторная обработка
// включается флагом -execute.
func main() {
	var (
		dsn     string
		limit   int
		execute bool
	)

	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: SHOPCORE_POSTGRES_DSN)")
	flag.IntVar(&limit, "limit", defaultListLimit, "maximum number of exhausted webhooks to load")
	flag.BoolVar(&execute, "execute", false, "re-dispatch events instead of listing them")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.WarnLevel)

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv("SHOPCORE_POSTGRES_DSN"))
	}
	if dsn == "" {
		fail("SHOPCORE_POSTGRES_DSN (or -dsn) is required")
	}

	cfg := app.FromEnv(app.DefaultConfig())
	cfg.StorageDriver = app.StoragePostgres
	cfg.PostgresDSN = dsn

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	deps, err := app.NewDependencies(ctx, cfg, log.WithField("component", "webhook-reprocess"))
	if err != nil {
		fail("init dependencies: %v", err)
	}
	defer deps.Close()

	exhausted, err := deps.Webhooks.ListExhausted(limit)
	if err != nil {
		fail("list exhausted webhooks: %v", err)
	}
	if len(exhausted) == 0 {
		fmt.Println("no exhausted webhooks found")
		return
	}

	if !execute {
		fmt.Printf("found %d exhausted webhook(s); dry run, pass -execute to re-dispatch\n\n", len(exhausted))
		for _, record := range exhausted {
			printRecord(record)
		}
		return
	}

	recovered, failed := reprocess(deps.Webhooks, deps.Payments, exhausted)
	fmt.Printf("\nreprocessed: recovered=%d failed=%d\n", recovered, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func printRecord(record domain.FailedWebhook) {
	fmt.Printf("id=%s event_type=%s retries=%d/%d created_at=%s\n  error: %s\n",
		record.ID, record.EventType, record.Retries, record.MaxRetries,
		record.CreatedAt.Format(time.RFC3339), record.Error)
}

func reprocess(webhooks domain.WebhookRepository, payments payment.Service, records []domain.FailedWebhook) (recovered, failed int) {
	for _, record := range records {
		if err := dispatchOne(webhooks, payments, record); err != nil {
			failed++
			fmt.Printf("FAIL %s (%s): %v\n", record.ID, record.EventType, err)
			if retryErr := webhooks.RecordRetry(record.ID, err.Error(), time.Now().UTC()); retryErr != nil {
				fmt.Printf("  warn: record retry: %v\n", retryErr)
			}
			continue
		}
		recovered++
		fmt.Printf("OK   %s (%s)\n", record.ID, record.EventType)
	}
	return recovered, failed
}

// dispatchOne повторяет обработку одной записи. Подпись не перепроверяется:
// она уже была проверена при первичном приёме, тело хранится как принятое.
func dispatchOne(webhooks domain.WebhookRepository, payments payment.Service, record domain.FailedWebhook) error {
	event, err := domain.DecodeGatewayEvent(record.Payload)
	if err != nil {
		return err
	}
	if err := payments.HandleGatewayEvent(event); err != nil {
		return err
	}

	if err := webhooks.MarkFailedProcessed(record.ID); err != nil {
		return fmt.Errorf("mark failed webhook processed: %w", err)
	}
	if record.EventID != "" {
		if stored, err := webhooks.GetEvent(record.EventID); err == nil && !stored.Processed {
			if err := webhooks.MarkEventProcessed(stored.ID); err != nil {
				return fmt.Errorf("mark webhook event processed: %w", err)
			}
		}
	}
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
