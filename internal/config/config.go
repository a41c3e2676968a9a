package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Queue      QueueConfig
	Cache      CacheConfig
	Ledger     LedgerConfig
	Storage    StorageConfig
	Transcribe TranscribeConfig
	Platform   PlatformConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type QueueConfig struct {
	ExtractionWorkers    int
	TranscriptionWorkers int
	QueueSize            int
	SoftTimeout          time.Duration
	HardTimeout          time.Duration
	RetryDelay           time.Duration
	MaxRetries           int
	// Retention bounds how long finished jobs stay pollable.
	Retention time.Duration
}

type CacheConfig struct {
	TTL     time.Duration
	MaxSize int
}

type LedgerConfig struct {
	// Empty DSN selects the in-memory ledger.
	DSN          string
	ChargeRetry  int
	DialTimeout  time.Duration
	QueryTimeout time.Duration
}

type StorageConfig struct {
	Root string
	// Prefix rewrite applied when the transcription worker sees the
	// download namespace under a different mount point than the writer.
	WriterPrefix string
	ReaderPrefix string
}

type TranscribeConfig struct {
	ModelSize         string
	Device            string
	Precision         string
	MaxParallelChunks int
	ShortThreshold    time.Duration
	WhisperBin        string
	ModelDir          string
	FFmpegBin         string
	FFprobeBin        string
	Language          string
}

type PlatformConfig struct {
	YtDlpBin     string
	FetchTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":" + getEnv("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Queue: QueueConfig{
			ExtractionWorkers:    getEnvAsInt("EXTRACTION_WORKERS", 4),
			TranscriptionWorkers: getEnvAsInt("TRANSCRIPTION_WORKERS", 2),
			QueueSize:            getEnvAsInt("QUEUE_SIZE", 256),
			SoftTimeout:          getEnvAsDuration("JOB_SOFT_TIMEOUT", 4*time.Minute),
			HardTimeout:          getEnvAsDuration("JOB_HARD_TIMEOUT", 5*time.Minute),
			RetryDelay:           getEnvAsDuration("JOB_RETRY_DELAY", time.Minute),
			MaxRetries:           getEnvAsInt("JOB_MAX_RETRIES", 1),
			Retention:            getEnvAsDuration("JOB_RETENTION", time.Hour),
		},
		Cache: CacheConfig{
			TTL:     getEnvAsDuration("RESULT_CACHE_TTL", 10*time.Minute),
			MaxSize: getEnvAsInt("RESULT_CACHE_SIZE", 500),
		},
		Ledger: LedgerConfig{
			DSN:          getEnv("LEDGER_DSN", ""),
			ChargeRetry:  getEnvAsInt("LEDGER_CHARGE_RETRY", 3),
			DialTimeout:  getEnvAsDuration("LEDGER_DIAL_TIMEOUT", 3*time.Second),
			QueryTimeout: getEnvAsDuration("LEDGER_QUERY_TIMEOUT", 5*time.Second),
		},
		Storage: StorageConfig{
			Root:         getEnv("MEDIA_ROOT", os.TempDir()),
			WriterPrefix: getEnv("MEDIA_WRITER_PREFIX", ""),
			ReaderPrefix: getEnv("MEDIA_READER_PREFIX", ""),
		},
		Transcribe: TranscribeConfig{
			ModelSize:         getEnv("WHISPER_MODEL", "small"),
			Device:            getEnv("WHISPER_DEVICE", "cuda"),
			Precision:         getEnv("WHISPER_PRECISION", "fp16"),
			MaxParallelChunks: getEnvAsInt("MAX_PARALLEL_CHUNKS", 4),
			ShortThreshold:    getEnvAsDuration("SHORT_AUDIO_THRESHOLD", 5*time.Minute),
			WhisperBin:        getEnv("WHISPER_BIN", "whisper"),
			ModelDir:          getEnv("WHISPER_MODEL_DIR", ""),
			FFmpegBin:         getEnv("FFMPEG_BIN", "ffmpeg"),
			FFprobeBin:        getEnv("FFPROBE_BIN", "ffprobe"),
			Language:          getEnv("WHISPER_LANGUAGE", "zh"),
		},
		Platform: PlatformConfig{
			YtDlpBin:     getEnv("YTDLP_BIN", "yt-dlp"),
			FetchTimeout: getEnvAsDuration("PLATFORM_FETCH_TIMEOUT", 2*time.Minute),
		},
	}
}

// ChunkPoolCeiling is the core-count-derived ceiling on the per-job chunk pool.
func ChunkPoolCeiling() int {
	n := runtime.NumCPU() / 2
	if n < 2 {
		n = 2
	}
	return n
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
