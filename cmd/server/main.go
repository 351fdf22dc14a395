package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wwnotes-sync/internal/bootstrap"
	"wwnotes-sync/internal/config"
	"wwnotes-sync/internal/handler"
	"wwnotes-sync/internal/middleware"
	"wwnotes-sync/pkg/response"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}
	defer app.Close()

	wsMessageHandler := handler.NewWebSocketMessageHandler(app.WebSocket, app.Notifier)
	app.WebSocket.SetMessageHandler(wsMessageHandler)
	app.Registry.OnChange(handler.CatalogBroadcaster(app.WebSocket))

	go app.WebSocket.Run(ctx)

	app.Start(ctx)

	documentHandler := handler.NewDocumentHandler(app.Registry, app.Uploads)
	wsHandler := handler.NewWebSocketHandler(app.WebSocket, app.Registry, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)

	promMiddleware, err := middleware.NewPrometheusMiddleware(app.Metrics)
	if err != nil {
		log.Fatalf("Failed to register HTTP metrics: %v", err)
	}

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(promMiddleware.Handler())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/documents", documentHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/documents/search", documentHandler.Search).Methods("GET", "OPTIONS")
	api.HandleFunc("/documents/{id}", documentHandler.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/uploads", documentHandler.Upload).Methods("POST", "OPTIONS")
	api.HandleFunc("/sync/refresh", documentHandler.Refresh).Methods("POST", "OPTIONS")
	api.HandleFunc("/sync/status", documentHandler.Status).Methods("GET", "OPTIONS")
	api.HandleFunc("/config/upload", uploadConfigHandler(cfg)).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)
	r.Handle("/metrics", promhttp.HandlerFor(app.Metrics, promhttp.HandlerOpts{})).Methods("GET")

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting World Wide Notes sync node on %s (env: %s)", srv.Addr, cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	app.Stop()

	log.Println("Server stopped gracefully")
}

// uploadConfigHandler exposes what a UI needs to open the upload widget.
func uploadConfigHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.Success(w, map[string]string{
			"cloudName":    cfg.Cloudinary.CloudName,
			"uploadPreset": cfg.Cloudinary.UploadPreset,
		})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"wwnotes-sync"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"World Wide Notes sync node","version":"1.0.0","endpoints":{"/api/v1/documents":"GET","/api/v1/documents/search":"GET","/api/v1/uploads":"POST","/api/v1/sync/refresh":"POST","/ws":"GET"}}`))
}
