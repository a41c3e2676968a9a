package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"mediascribe/internal/admission"
	"mediascribe/internal/aggregator"
	"mediascribe/internal/cache"
	"mediascribe/internal/config"
	"mediascribe/internal/download"
	"mediascribe/internal/ledger"
	"mediascribe/internal/logger"
	"mediascribe/internal/pipeline"
	"mediascribe/internal/platform"
	"mediascribe/internal/queue"
	"mediascribe/internal/storage"
	"mediascribe/internal/transcribe"
	"mediascribe/internal/types"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "mediascribe").Info("starting service")

	cfg := config.Load()

	resultCache := cache.New(cfg.Cache.MaxSize, cfg.Cache.TTL)

	var (
		creditLedger ledger.Ledger
		statements   ledger.StatementReader
		closeLedger  = func() {}
	)
	if cfg.Ledger.DSN != "" {
		pg := ledger.NewPostgresLedger(ledger.PostgresConfig{
			DSN:          cfg.Ledger.DSN,
			DialTimeout:  cfg.Ledger.DialTimeout,
			QueryTimeout: cfg.Ledger.QueryTimeout,
			ChargeRetry:  cfg.Ledger.ChargeRetry,
		})
		dialCtx, cancel := context.WithTimeout(context.Background(), cfg.Ledger.DialTimeout)
		err := pg.Connect(dialCtx)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("ledger connection failed")
		}
		log.Info("using postgres ledger")
		creditLedger, statements = pg, pg
		closeLedger = func() { _ = pg.Close() }
	} else {
		mem := ledger.NewMemoryLedger(cfg.Ledger.ChargeRetry)
		if acct := os.Getenv("DEV_ACCOUNT_ID"); acct != "" {
			credits := int64(1000)
			if v := os.Getenv("DEV_ACCOUNT_CREDITS"); v != "" {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					credits = n
				}
			}
			mem.Credit(acct, credits)
			log.WithField("account_id", acct).WithField("credits", credits).Info("seeded dev account")
		}
		log.Info("using in-memory ledger")
		creditLedger, statements = mem, mem
	}

	workspace := storage.NewWorkspace(cfg.Storage.Root, cfg.Storage.WriterPrefix, cfg.Storage.ReaderPrefix)
	adapter := platform.NewYtDlpAdapter(cfg.Platform.YtDlpBin, cfg.Platform.FetchTimeout)
	admit := admission.NewController(creditLedger)

	registry := transcribe.NewRegistry(transcribe.NewWhisperLoader(
		cfg.Transcribe.WhisperBin, cfg.Transcribe.ModelDir, cfg.Transcribe.Language))
	engine := transcribe.NewEngine(registry,
		transcribe.NewFFmpegSplitter(cfg.Transcribe.FFmpegBin, cfg.Transcribe.FFprobeBin),
		transcribe.EngineConfig{
			Model: transcribe.ModelKey{
				Size:      cfg.Transcribe.ModelSize,
				Device:    cfg.Transcribe.Device,
				Precision: cfg.Transcribe.Precision,
			},
			MaxParallelChunks:  cfg.Transcribe.MaxParallelChunks,
			ShortThreshold:     cfg.Transcribe.ShortThreshold,
			CoreCeiling:        config.ChunkPoolCeiling(),
			SerializeInference: cfg.Transcribe.Device == "cpu",
		}, log)

	stageTwo := pipeline.NewStageTwo(pipeline.StageTwoDeps{
		Engine:    engine,
		Admission: admit,
		Ledger:    creditLedger,
		Cache:     resultCache,
		Workspace: workspace,
		Log:       log,
	})
	transcriptionQueue := queue.New("transcription", stageTwo.Run, queue.Options{
		Workers:     cfg.Queue.TranscriptionWorkers,
		Size:        cfg.Queue.QueueSize,
		SoftTimeout: cfg.Queue.SoftTimeout,
		HardTimeout: cfg.Queue.HardTimeout,
		// A failed transcription already cleaned up its audio, so a
		// redelivery could never succeed.
		MaxRetries: 0,
		Retention:  cfg.Queue.Retention,
	}, log)

	stageOne := pipeline.NewStageOne(pipeline.StageOneDeps{
		Cache:        resultCache,
		Adapter:      adapter,
		Admission:    admit,
		Ledger:       creditLedger,
		Downloader:   download.New(0),
		Workspace:    workspace,
		StageTwo:     transcriptionQueue,
		FetchTimeout: cfg.Platform.FetchTimeout,
		Log:          log,
	})
	extractionQueue := queue.New("extraction", stageOne.Run, queue.Options{
		Workers:     cfg.Queue.ExtractionWorkers,
		Size:        cfg.Queue.QueueSize,
		SoftTimeout: cfg.Queue.SoftTimeout,
		HardTimeout: cfg.Queue.HardTimeout,
		RetryDelay:  cfg.Queue.RetryDelay,
		MaxRetries:  cfg.Queue.MaxRetries,
		Retention:   cfg.Queue.Retention,
	}, log)

	status := aggregator.New(extractionQueue, transcriptionQueue, log)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("POST /media/extract", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "extract")

		var body struct {
			SourceURL      string `json:"source_url"`
			WantTranscript *bool  `json:"want_transcript"`
			WantComments   bool   `json:"want_comments"`
			AccountID      string `json:"account_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if body.SourceURL == "" || body.AccountID == "" {
			http.Error(w, "source_url and account_id are required", http.StatusBadRequest)
			return
		}
		wantTranscript := true
		if body.WantTranscript != nil {
			wantTranscript = *body.WantTranscript
		}

		req := types.ExtractionRequest{
			SourceURL:      body.SourceURL,
			WantTranscript: wantTranscript,
			WantComments:   body.WantComments,
			AccountID:      body.AccountID,
			TraceID:        uuid.New().String(),
		}
		handle, err := extractionQueue.Dispatch(req)
		if err != nil {
			reqLog.WithError(err).Error("dispatch failed")
			http.Error(w, "service shutting down", http.StatusServiceUnavailable)
			return
		}
		reqLog.WithField("job_id", handle.JobID).WithField("trace_id", req.TraceID).Info("extraction accepted")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"job_id":     handle.JobID,
			"created_at": handle.CreatedAt,
			"status":     aggregator.StatusRunning,
		})
	})

	mux.HandleFunc("GET /media/extract/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "status")

		st, err := status.Resolve(r.PathValue("id"))
		if err != nil {
			if errors.Is(err, aggregator.ErrUnknownJob) {
				http.Error(w, "unknown job id", http.StatusNotFound)
				return
			}
			reqLog.WithError(err).Error("status resolution failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st)
	})

	mux.HandleFunc("POST /media/cache/delete", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "cache_delete")

		var body struct {
			SourceURL string `json:"source_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SourceURL == "" {
			http.Error(w, "source_url is required", http.StatusBadRequest)
			return
		}
		raw := platform.CleanURL(body.SourceURL)
		if raw == "" {
			http.Error(w, "no valid url in source_url", http.StatusBadRequest)
			return
		}
		key := platform.NormalizeURL(raw)
		deleted := resultCache.Delete(key)
		reqLog.WithField("url", key).WithField("deleted", deleted).Info("cache purge")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"deleted": deleted})
	})

	mux.HandleFunc("GET /credits/statement", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "statement")

		accountID := r.URL.Query().Get("account_id")
		if accountID == "" {
			http.Error(w, "missing account_id", http.StatusBadRequest)
			return
		}
		var buf bytes.Buffer
		if err := ledger.WriteStatement(r.Context(), statements, accountID, &buf); err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				http.Error(w, "unknown account", http.StatusNotFound)
				return
			}
			reqLog.WithError(err).Error("statement export failed")
			http.Error(w, "statement export failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "statement_"+accountID+".xlsx"))
		w.Write(buf.Bytes())
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown incomplete")
	}
	extractionQueue.Shutdown(shutdownCtx)
	transcriptionQueue.Shutdown(shutdownCtx)
	if err := registry.Close(); err != nil {
		log.WithError(err).Warn("model teardown failed")
	}
	closeLedger()
	log.Info("shutdown complete")
}
