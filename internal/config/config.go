package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	PublicURL string

	DBDriver string
	DBDSN    string

	BlobDriver   string // fs|s3
	BlobBasePath string // for fs
	S3Bucket     string
	S3Region     string

	// XQueue endpoint for queued (external-grader) responses.
	XQueueURL      string
	XQueueWaitTime time.Duration
	// Base URL delivered to graders so they can call back with results.
	CallbackBaseURL string

	JWTSecret     string
	AdminUser     string
	AdminPassHash string // bcrypt

	CoursePolicyPath string

	DefaultShowResetButton bool
	Debug                  bool

	CORSOrigins []string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	pub := os.Getenv("PUBLIC_URL")
	defCallback := ""
	if pub != "" {
		defCallback = strings.TrimSuffix(pub, "/")
	}
	return Config{
		HTTPAddr:  addr,
		PublicURL: pub,

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		BlobDriver:   envOr("BLOB_DRIVER", "fs"),
		BlobBasePath: envOr("BLOB_BASE_PATH", "./data"),
		S3Bucket:     os.Getenv("S3_BUCKET"),
		S3Region:     os.Getenv("S3_REGION"),

		XQueueURL:       os.Getenv("XQUEUE_URL"),
		XQueueWaitTime:  envDuration("XQUEUE_WAITTIME", 5*time.Second),
		CallbackBaseURL: envOr("CALLBACK_BASE_URL", defCallback),

		JWTSecret:     envOr("JWT_SECRET", "dev-secret-change-me"),
		AdminUser:     envOr("ADMIN_USER", "admin"),
		AdminPassHash: envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),

		CoursePolicyPath: os.Getenv("COURSE_POLICY_PATH"),

		DefaultShowResetButton: envBool("DEFAULT_SHOW_RESET_BUTTON", false),
		Debug:                  envBool("DEBUG", false),

		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:3000,http://localhost:3010"),
	}
}
func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
