package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/monitoring"
	"github.com/tolima-epi/vereda-cli/internal/normalize"
	"github.com/tolima-epi/vereda-cli/internal/pipeline"
	"github.com/tolima-epi/vereda-cli/internal/reference"
	"github.com/tolima-epi/vereda-cli/internal/report"
)

const (
	maxClassifyRecords = 50000
	maxBodyBytes       = 16 << 20
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the classification HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		refPath, _ := cmd.Flags().GetString("reference")

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := monitoring.NewMetrics(reg)

		idx, err := pipeline.New(cfg, nil, metrics, nil).LoadIndex(refPath)
		if err != nil {
			return eris.Wrap(err, "serve: load reference")
		}
		metrics.ObserveIndex(idx)

		if cfg.Monitoring.Enabled {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			checker := monitoring.NewChecker(
				monitoring.NewCollector(st, nil),
				monitoring.NewAlerter(cfg.Monitoring, nil),
				metrics,
				cfg.Monitoring,
				nil,
			)
			go checker.Run(ctx)
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: newRouter(&apiServer{
				idx:          idx,
				gaz:          normalize.Tolima(),
				metrics:      metrics,
				gatherer:     reg,
				sumAttribute: cfg.Input.SumAttribute,
				concurrency:  cfg.Classify.Concurrency,
			}, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.String("command", "serve"),
			zap.Int("port", cfg.Server.Port),
			zap.Int("reference_entries", idx.Len()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().String("reference", "", "vereda reference (.shp, .xlsx or .csv)")
	_ = serveCmd.MarkFlagRequired("reference")
	rootCmd.AddCommand(serveCmd)
}

// apiServer holds the read-only state shared by the HTTP handlers.
type apiServer struct {
	idx          *reference.Index
	gaz          *normalize.Gazetteer
	metrics      *monitoring.Metrics
	gatherer     prometheus.Gatherer
	sumAttribute string
	concurrency  int
}

func newRouter(s *apiServer, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.countRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/v1/normalize", s.handleNormalize)
	r.Post("/v1/classify", s.handleClassify)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// countRequests records each request under its route pattern.
func (s *apiServer) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(route, status)
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"reference_entries": s.idx.Len(),
	})
}

type normalizeResponse struct {
	Text      string `json:"text"`
	Key       string `json:"key"`
	Strict    string `json:"strict"`
	Canonical string `json:"canonical,omitempty"`
	Display   string `json:"display"`
}

func (s *apiServer) handleNormalize(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	canonical, _ := s.gaz.Canonical(text)
	writeJSON(w, http.StatusOK, normalizeResponse{
		Text:      text,
		Key:       normalize.Key(text),
		Strict:    normalize.Strict(text),
		Canonical: canonical,
		Display:   normalize.Display(text),
	})
}

type classifyRequest struct {
	SumAttribute string              `json:"sum_attribute"`
	Records      []model.PlaceRecord `json:"records"`
}

type classifyResult struct {
	Row           int            `json:"row"`
	Municipality  string         `json:"municipality"`
	Locality      string         `json:"locality"`
	Category      model.Category `json:"category"`
	Reason        string         `json:"reason"`
	Key           string         `json:"key"`
	ReferenceCode string         `json:"reference_code,omitempty"`
}

type classifyResponse struct {
	Results    []classifyResult       `json:"results"`
	Totals     []report.CategoryTotal `json:"totals"`
	GrandTotal float64                `json:"grand_total"`
	MissingSum int                    `json:"missing_sum"`
}

func (s *apiServer) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records are required")
		return
	}
	if len(req.Records) > maxClassifyRecords {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d records per request", maxClassifyRecords))
		return
	}
	for i := range req.Records {
		if req.Records[i].Row == 0 {
			req.Records[i].Row = i + 1
		}
	}
	sum := req.SumAttribute
	if sum == "" {
		sum = s.sumAttribute
	}

	rep, err := report.Build(req.Records, s.idx, report.Options{SumAttribute: sum, Concurrency: s.concurrency})
	if err != nil {
		zap.L().Error("classify request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "classification failed")
		return
	}
	s.metrics.ObserveReport(rep)

	resp := classifyResponse{
		Results:    make([]classifyResult, len(rep.Rows)),
		Totals:     rep.Totals(),
		GrandTotal: rep.GrandTotal(),
		MissingSum: rep.MissingSum,
	}
	for i, row := range rep.Rows {
		res := classifyResult{
			Row:          row.Record.Row,
			Municipality: row.Record.Municipality,
			Locality:     row.Record.Locality,
			Category:     row.Result.Category,
			Reason:       row.Result.Reason,
			Key:          row.Result.Key,
		}
		if row.Result.Match != nil {
			res.ReferenceCode = row.Result.Match.Code
		}
		resp.Results[i] = res
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
