package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage and predictor backends selectable through the environment.
const (
	StorageCloudinary = "cloudinary"
	StorageS3         = "s3"

	PredictorHTTP   = "http"
	PredictorLambda = "lambda"
)

// DefaultCatLabels is the classifier vocabulary that counts as "a cat".
var DefaultCatLabels = []string{
	"cat", "kitten", "kitty", "tabby", "feline", "tomcat",
	"domestic cat", "house cat", "tiger cat", "egyptian cat", "persian cat", "siamese cat",
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	Port            string
	DatabaseURL     string
	SessionSecret   string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// TrustSubjectHeader enables X-Auth-Subject. Only safe behind a proxy that
	// strips it from client requests.
	TrustSubjectHeader bool

	MaxUploadBytes int64
	ImageSize      int
	ImageMaxPixels int

	// Imagga tagging service.
	ImaggaKey           string
	ImaggaSecret        string
	ImaggaURL           string
	ClassifierTimeout   time.Duration
	ClassifierThreshold int
	CatLabels           []string

	// Blob storage.
	StorageProvider     string
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	S3Bucket            string
	S3Region            string
	S3PublicURL         string
	StorageTimeout      time.Duration

	// Head-position predictor.
	PredictorKind           string
	PredictorURL            string
	PredictorLambdaFunction string
	PredictorTimeout        time.Duration
	PredictorWorkers        int
	PredictorMaxAttempts    int
	PredictorQueueSize      int
	PredictorCallbackToken  string

	// Dead letters for prediction jobs. Empty address logs them instead.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ForecastCacheSize int
	ForecastCacheTTL  time.Duration

	SweepInterval time.Duration
	SweepMinAge   time.Duration
	SweepMaxAge   time.Duration
}

// Load reads .env (if present) and the environment, applying defaults where unset.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:          envOrDefault("PORT", "8080"),
		DatabaseURL:   envOrDefault("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=purrcast port=5432 sslmode=disable TimeZone=UTC"),
		SessionSecret: envOrDefault("SESSION_SECRET", "secret_key_change_me"),
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		LogFormat:     envOrDefault("LOG_FORMAT", "json"),
		CORSOrigins:   parseList(envOrDefault("CORS_ORIGINS", "*")),

		ImaggaKey:    os.Getenv("IMAGGA_API_KEY"),
		ImaggaSecret: os.Getenv("IMAGGA_API_SECRET"),
		ImaggaURL:    envOrDefault("IMAGGA_URL", "https://api.imagga.com/v2/tags"),
		CatLabels:    DefaultCatLabels,

		StorageProvider:     strings.ToLower(envOrDefault("STORAGE_PROVIDER", StorageCloudinary)),
		CloudinaryCloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:    os.Getenv("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret: os.Getenv("CLOUDINARY_API_SECRET"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3Region:            envOrDefault("S3_REGION", "us-west-1"),
		S3PublicURL:         os.Getenv("S3_PUBLIC_URL"),

		PredictorKind:           strings.ToLower(envOrDefault("PREDICTOR_KIND", PredictorHTTP)),
		PredictorURL:            os.Getenv("PREDICTOR_URL"),
		PredictorLambdaFunction: os.Getenv("PREDICTOR_LAMBDA_FUNCTION"),
		PredictorCallbackToken:  os.Getenv("PREDICTOR_CALLBACK_TOKEN"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}

	if v := os.Getenv("TRUST_SUBJECT_HEADER"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUST_SUBJECT_HEADER %q", v)
		}
		cfg.TrustSubjectHeader = trust
	}

	if v := os.Getenv("CAT_LABELS"); v != "" {
		cfg.CatLabels = parseList(strings.ToLower(v))
	}

	var err error
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", "10s", &cfg.ShutdownTimeout},
		{"CLASSIFIER_TIMEOUT", "10s", &cfg.ClassifierTimeout},
		{"STORAGE_TIMEOUT", "30s", &cfg.StorageTimeout},
		{"PREDICTOR_TIMEOUT", "10s", &cfg.PredictorTimeout},
		{"FORECAST_CACHE_TTL", "1m", &cfg.ForecastCacheTTL},
		{"SWEEP_INTERVAL", "10m", &cfg.SweepInterval},
		{"SWEEP_MIN_AGE", "15m", &cfg.SweepMinAge},
		{"SWEEP_MAX_AGE", "48h", &cfg.SweepMaxAge},
	}
	for _, d := range durations {
		if *d.dest, err = parsePositiveDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key  string
		def  int
		min  int
		max  int
		dest *int
	}{
		{"IMAGE_SIZE", 500, 16, 4096, &cfg.ImageSize},
		{"IMAGE_MAX_PIXELS", 40_000_000, 1 << 16, 400_000_000, &cfg.ImageMaxPixels},
		{"CLASSIFIER_THRESHOLD", 49, 0, 100, &cfg.ClassifierThreshold},
		{"PREDICTOR_WORKERS", 4, 1, 256, &cfg.PredictorWorkers},
		{"PREDICTOR_MAX_ATTEMPTS", 3, 1, 20, &cfg.PredictorMaxAttempts},
		{"PREDICTOR_QUEUE_SIZE", 256, 1, 100000, &cfg.PredictorQueueSize},
		{"REDIS_DB", 0, 0, 15, &cfg.RedisDB},
		{"FORECAST_CACHE_SIZE", 500, 1, 1000000, &cfg.ForecastCacheSize},
	}
	for _, i := range ints {
		if *i.dest, err = parseBoundedInt(i.key, i.def, i.min, i.max); err != nil {
			return nil, err
		}
	}

	maxUpload, err := parseBoundedInt("MAX_UPLOAD_BYTES", 10<<20, 1024, 100<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageProvider {
	case StorageCloudinary, StorageS3:
	default:
		return fmt.Errorf("invalid STORAGE_PROVIDER %q", c.StorageProvider)
	}
	if c.StorageProvider == StorageS3 && c.S3Bucket == "" {
		return errors.New("STORAGE_PROVIDER is s3 but S3_BUCKET is not set")
	}

	switch c.PredictorKind {
	case PredictorHTTP, PredictorLambda:
	default:
		return fmt.Errorf("invalid PREDICTOR_KIND %q", c.PredictorKind)
	}
	if c.PredictorKind == PredictorLambda && c.PredictorLambdaFunction == "" {
		return errors.New("PREDICTOR_KIND is lambda but PREDICTOR_LAMBDA_FUNCTION is not set")
	}

	if len(c.CatLabels) == 0 {
		return errors.New("CAT_LABELS must name at least one label")
	}
	if c.SweepMinAge >= c.SweepMaxAge {
		return errors.New("SWEEP_MIN_AGE must be shorter than SWEEP_MAX_AGE")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseBoundedInt(key string, def, min, max int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("invalid %s: must be an integer in [%d, %d]", key, min, max)
	}
	return n, nil
}
