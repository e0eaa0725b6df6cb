package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/api"
	"github.com/vladislavdragonenkov/shopcore/internal/health"
)

// razorpaySignatureHeader — заголовок подписи webhook от шлюза.
const razorpaySignatureHeader = "X-Razorpay-Signature"

// newWebhookHandler принимает сырой webhook и передаёт его фасаду.
// Тело читается целиком до разбора: подпись считается над сырыми байтами.
func newWebhookHandler(facade *api.API, maxBodyBytes int, logger *log.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		// +1 байт, чтобы отличить ровно лимит от превышения.
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(maxBodyBytes)+1))
		if err != nil {
			logger.WithError(err).Warn("failed to read webhook body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp, code := facade.IngestWebhook(body, r.Header.Get(razorpaySignatureHeader))
		writeJSON(w, code, resp)
	}
}

// newFailedWebhooksHandler отдаёт события с исчерпанными retries.
func newFailedWebhooksHandler(facade *api.API) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		resp, code := facade.ListFailedWebhooks(100)
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// newPublicMux собирает внешние маршруты сервиса.
func newPublicMux(facade *api.API, maxBodyBytes int, logger *log.Entry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/razorpay", newWebhookHandler(facade, maxBodyBytes, logger))
	mux.HandleFunc("/admin/failed-webhooks", newFailedWebhooksHandler(facade))
	return mux
}

// newOpsMux собирает служебные маршруты: метрики и health probes.
func newOpsMux(healthHandler *health.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// startHTTPServer запускает сервер и останавливает его по отмене ctx.
func startHTTPServer(ctx context.Context, addr string, handler http.Handler, name string, logger *log.Entry) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("%s сервер слушает %s", name, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warnf("%s server failed", name)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
