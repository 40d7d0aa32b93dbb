package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	HTTPAddr string

	FFmpegPath   string
	FFprobePath  string
	AudioBitrate string // e.g., "192k"

	SourceAudioDir string // Base directory for local source clips
	SourceCacheDir string // Downloaded remote sources land here
	RenderTempDir  string // Per-render temporary artifacts

	// 混音引擎
	MaxTracks         int
	LeadDelay         time.Duration // 同步播放的启动提前量
	SeekGuardDelay    time.Duration // seek 后重启前的保护延迟
	MasterGainDB      float64
	FeedInterval      time.Duration // 可视化推送间隔
	NormalizeTargetDB int
	MaxSessions       int
	ICEServers        []string // WebRTC 监听的 STUN/TURN 地址

	// 离线渲染
	RenderDuration       time.Duration
	RenderWorkers        int
	MasterCompensationDB float64

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	JWTSecret string
	TokenTTL  time.Duration

	LogLevel string
	LogFile  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvMillis reads a millisecond count into a time.Duration.
func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	ffmpegPath := getEnv("FFMPEG_PATH", "ffmpeg")
	dataBase := getEnv("DATA_DIR", "data")

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		FFmpegPath:   ffmpegPath,
		FFprobePath:  getEnv("FFPROBE_PATH", filepath.Join(filepath.Dir(ffmpegPath), "ffprobe")),
		AudioBitrate: getEnv("AUDIO_BITRATE", "192k"),

		SourceAudioDir: getEnv("SOURCE_AUDIO_DIR", filepath.Join(dataBase, "sounds")),
		SourceCacheDir: getEnv("SOURCE_CACHE_DIR", filepath.Join(dataBase, "cache")),
		RenderTempDir:  getEnv("RENDER_TEMP_DIR", os.TempDir()),

		MaxTracks:         getEnvInt("MIXER_MAX_TRACKS", 6),
		LeadDelay:         getEnvMillis("MIXER_LEAD_DELAY_MS", 200*time.Millisecond),
		SeekGuardDelay:    getEnvMillis("MIXER_SEEK_GUARD_MS", 40*time.Millisecond),
		MasterGainDB:      getEnvFloat("MIXER_MASTER_GAIN_DB", 0),
		FeedInterval:      getEnvMillis("MIXER_FEED_INTERVAL_MS", 33*time.Millisecond),
		NormalizeTargetDB: getEnvInt("MIXER_NORMALIZE_TARGET_DB", -12),
		MaxSessions:       getEnvInt("MIXER_MAX_SESSIONS", 32),
		ICEServers:        getEnvList("WEBRTC_ICE_SERVERS", nil),

		RenderDuration:       time.Duration(getEnvInt("RENDER_DURATION_SECONDS", 90)) * time.Second,
		RenderWorkers:        getEnvInt("RENDER_WORKERS", 2),
		MasterCompensationDB: getEnvFloat("RENDER_MASTER_COMPENSATION_DB", 3.0),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "soundscape"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),     // 默认使用0号数据库

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "soundscape"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		JWTSecret: getEnv("JWT_SECRET", "change-me"),
		TokenTTL:  time.Duration(getEnvInt("TOKEN_TTL_HOURS", 72)) * time.Hour,

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}
