package server

import (
	"crypto/tls"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/urfave/negroni"
	"golang.org/x/crypto/acme/autocert"

	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/handlers"
)

// Handlers bundles everything SetupRoutes mounts.
type Handlers struct {
	Documents *handlers.DocumentHandler
	Search    *handlers.DocumentSearchHandler
	Knowledge *handlers.KnowledgeHandler
	Chat      *handlers.ChatHandler
	DB        handlers.Pinger
}

func SetupRoutes(h Handlers) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", handlers.Health(h.DB)).Methods("GET")

	// Search is registered before /documents/{id} so "search" is never read as an id.
	r.Handle("/documents/search", h.Search).Methods("POST")
	r.HandleFunc("/documents", h.Documents.Upload).Methods("POST")
	r.HandleFunc("/documents/{id}", h.Documents.Get).Methods("GET")
	r.HandleFunc("/documents/{id}", h.Documents.Delete).Methods("DELETE")
	r.HandleFunc("/documents/{id}/reprocess", h.Documents.Reprocess).Methods("POST")

	r.HandleFunc("/knowledge", h.Knowledge.Create).Methods("POST")
	r.HandleFunc("/knowledge/url", h.Knowledge.CreateFromURL).Methods("POST")
	r.HandleFunc("/knowledge/{id}", h.Knowledge.Get).Methods("GET")
	r.HandleFunc("/knowledge/{id}", h.Knowledge.Delete).Methods("DELETE")

	r.Handle("/chat", h.Chat).Methods("POST")
	return r
}

// SetupNegroni wraps the router with panic recovery and request logging.
func SetupNegroni(r http.Handler) *negroni.Negroni {
	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(negroni.NewLogger())
	n.UseHandler(r)
	return n
}

// ServeProduction build the server when we operate in a production environment.
func ServeProduction(cfg config.Config, n *negroni.Negroni, logger *slog.Logger) {
	autocertManager := autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Domains...),
		Cache:      autocert.DirCache(cfg.CertCacheDir),
	}

	// Port 80 answers ACME "http-01" challenges and redirects everything else to HTTPS.
	go func() {
		srv := &http.Server{
			Addr:         ":" + cfg.HTTPPort,
			Handler:      autocertManager.HTTPHandler(nil),
			IdleTimeout:  time.Minute,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		log.Fatal(srv.ListenAndServe())
	}()

	tlsConfig := &tls.Config{
		GetCertificate:   autocertManager.GetCertificate,
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
		MinVersion:       tls.VersionTLS12,
	}

	srv := &http.Server{
		Addr:      ":" + cfg.HTTPSPort,
		Handler:   n,
		TLSConfig: tlsConfig,
		// Uploads and chat completions need more than the usual few seconds.
		IdleTimeout:  time.Minute,
		ReadTimeout:  time.Minute,
		WriteTimeout: 3 * time.Minute,
	}

	logger.Info("Starting production server", slog.String("addr", srv.Addr))
	log.Fatal(srv.ListenAndServeTLS("", "")) // Key and cert provided automatically by autocert.
}

// ServeDevelopment start the server when we operate in a dev environment.
func ServeDevelopment(cfg config.Config, n *negroni.Negroni, logger *slog.Logger) {
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      n,
		IdleTimeout:  time.Minute,
		ReadTimeout:  time.Minute,
		WriteTimeout: 3 * time.Minute,
	}
	logger.Info("Starting development server", slog.String("addr", srv.Addr))
	log.Fatal(srv.ListenAndServe())
}
