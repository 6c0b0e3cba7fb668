package config

import (
	"os"
	"strings"

	"github.com/eric2788/screenrec/utils"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"golang.org/x/crypto/bcrypt"
)

// all config will be loaded from environment variables
type Config struct {
	Port string

	UploadDir      string
	RecordingsDir  string
	DatabaseDir    string
	MediaExtension string

	DefaultSessionID     string
	MaxConcurrentStreams int
	MaxStreamMegabytes   int
	StreamIdleMinutes    int
	MinFreeDiskMegabytes int

	MaxChunkMegabytes  int
	MaxUploadMegabytes int

	PromoteRetries        int
	PromoteRateLimitBytes int
	MaxBackgroundJobs     int

	DeepgramApiKey         string
	DeepgramModel          string
	DeepgramLanguage       string
	AnalysisURL            string
	AnalysisTimeoutSeconds int

	RedisAddr string
	GcsBucket string

	Username     string
	PasswordHash string
	JwtSecret    string

	copyBufferSize   int
	writerBufferSize int
}

func provider() (*Config, error) {

	password := os.Getenv("PASSWORD")
	username := os.Getenv("USERNAME")

	var passwordHash []byte
	var err error

	if password != "" && username != "" {
		passwordHash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	} else {
		passwordHash, err = []byte{}, nil
	}

	if err != nil {
		return nil, err
	}

	setupLogging()

	cfg := &Config{
		Port:                   utils.EmptyOrElse(os.Getenv("PORT"), "8080"),
		UploadDir:              utils.EmptyOrElse(os.Getenv("UPLOAD_DIR"), "uploads"),
		RecordingsDir:          utils.EmptyOrElse(os.Getenv("RECORDINGS_DIR"), "recordings"),
		DatabaseDir:            utils.EmptyOrElse(os.Getenv("DATABASE_DIR"), "database"),
		MediaExtension:         strings.TrimPrefix(utils.EmptyOrElse(os.Getenv("MEDIA_EXTENSION"), "webm"), "."),
		DefaultSessionID:       utils.EmptyOrElse(os.Getenv("DEFAULT_SESSION_ID"), "default"),
		MaxConcurrentStreams:   utils.MustAtoi(utils.EmptyOrElse(os.Getenv("MAX_CONCURRENT_STREAMS"), "20")),
		MaxStreamMegabytes:     utils.MustAtoi(utils.EmptyOrElse(os.Getenv("MAX_STREAM_MB"), "4096")),
		StreamIdleMinutes:      utils.MustAtoi(utils.EmptyOrElse(os.Getenv("STREAM_IDLE_MINUTES"), "30")),
		MinFreeDiskMegabytes:   utils.MustAtoi(utils.EmptyOrElse(os.Getenv("MIN_FREE_DISK_MB"), "0")),
		MaxChunkMegabytes:      utils.MustAtoi(utils.EmptyOrElse(os.Getenv("MAX_CHUNK_MB"), "200")),
		MaxUploadMegabytes:     utils.MustAtoi(utils.EmptyOrElse(os.Getenv("MAX_UPLOAD_MB"), "100")),
		PromoteRetries:         utils.MustAtoi(utils.EmptyOrElse(os.Getenv("PROMOTE_RETRIES"), "2")),
		PromoteRateLimitBytes:  utils.MustAtoi(utils.EmptyOrElse(os.Getenv("PROMOTE_RATE_LIMIT"), "0")),
		MaxBackgroundJobs:      utils.MustAtoi(utils.EmptyOrElse(os.Getenv("MAX_BACKGROUND_JOBS"), "2")),
		DeepgramApiKey:         os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:          utils.EmptyOrElse(os.Getenv("DEEPGRAM_MODEL"), "nova-2"),
		DeepgramLanguage:       utils.EmptyOrElse(os.Getenv("DEEPGRAM_LANGUAGE"), "en-US"),
		AnalysisURL:            os.Getenv("ANALYSIS_URL"),
		AnalysisTimeoutSeconds: utils.MustAtoi(utils.EmptyOrElse(os.Getenv("ANALYSIS_TIMEOUT_SECONDS"), "30")),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		GcsBucket:              os.Getenv("GCS_BUCKET"),
		Username:               username,
		PasswordHash:           string(passwordHash),
		JwtSecret:              utils.EmptyOrElse(os.Getenv("JWT_SECRET"), "screenrec_secret"),
		copyBufferSize:         utils.MustAtoi(utils.EmptyOrElse(os.Getenv("COPY_BUFFER_SIZE"), "262144")),
		writerBufferSize:       utils.MustAtoi(utils.EmptyOrElse(os.Getenv("WRITER_BUFFER_SIZE"), "262144")),
	}

	return cfg, nil
}

func setupLogging() {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

var Module = fx.Module("config", fx.Provide(provider))
