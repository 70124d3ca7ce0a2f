package config

import "time"

// Pipeline definition pipeline_worker YAML structure
type Pipeline struct {
	Port     string `mapstructure:"port"`
	GRPCPort string `mapstructure:"grpc_port"`
	IP       string `mapstructure:"ip"`

	PostgreSQL DatabaseConfig `mapstructure:"pg"`
	MongoDB    DatabaseConfig `mapstructure:"mongo"`
	MinIO      MinIOConfig    `mapstructure:"minio"`
	Redis      RedisConfig    `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig `mapstructure:"rabbitmq"`
	KafKa      KafkaConfig    `mapstructure:"kafka"`

	Queue  QueueConfig  `mapstructure:"queue"`
	Worker WorkerConfig `mapstructure:"worker"`
	Media  MediaConfig  `mapstructure:"media"`
	Auth   AuthConfig   `mapstructure:"auth"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// MinIOConfig definition object store setting
type MinIOConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	BucketName    string        `mapstructure:"bucket"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
	RetryInterval int           `mapstructure:"retry_interval"`
	RetryCount    int           `mapstructure:"retry_count"`
}

// RedisConfig definition redis setting
// 有設定 sentinel 時使用哨兵模式，否則連線 Addr 單節點
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// RabbitMQConfig definition rabbitmq setting
type RabbitMQConfig struct {
	IP            string `mapstructure:"ip"`
	Port          string `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}

// QueueConfig definition job queue policy
type QueueConfig struct {
	Name          string        `mapstructure:"name"`
	Attempts      int           `mapstructure:"attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	KeepCompleted int           `mapstructure:"keep_completed"`
	KeepFailed    int           `mapstructure:"keep_failed"`
	JobTTL        time.Duration `mapstructure:"job_ttl"`
	Lease         time.Duration `mapstructure:"lease"`
}

// WorkerConfig definition worker pool setting
type WorkerConfig struct {
	Concurrency          int           `mapstructure:"concurrency"`
	ScratchDir           string        `mapstructure:"scratch_dir"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTTL         time.Duration `mapstructure:"heartbeat_ttl"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
	TranscriptionEnabled bool          `mapstructure:"transcription_enabled"`
}

// MediaConfig definition external tool setting
type MediaConfig struct {
	FFmpegBin         string        `mapstructure:"ffmpeg_bin"`
	FFprobeBin        string        `mapstructure:"ffprobe_bin"`
	WhisperBin        string        `mapstructure:"whisper_bin"`
	WhisperModel      string        `mapstructure:"whisper_model"`
	ModelsDir         string        `mapstructure:"models_dir"`
	Language          string        `mapstructure:"language"`
	ComposeTimeout    time.Duration `mapstructure:"compose_timeout"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	ThumbnailTimeout  time.Duration `mapstructure:"thumbnail_timeout"`
	ExtractTimeout    time.Duration `mapstructure:"extract_timeout"`
	TranscribeTimeout time.Duration `mapstructure:"transcribe_timeout"`
}

// AuthConfig definition internal api auth
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// PipelineDefaults 預設值，YAML 沒寫的欄位使用這些值
var PipelineDefaults = map[string]interface{}{
	"port":      "8090",
	"grpc_port": "9090",
	"ip":        "0.0.0.0",

	"queue.name":           "video-processing",
	"queue.attempts":       3,
	"queue.backoff_base":   "5s",
	"queue.keep_completed": 100,
	"queue.keep_failed":    50,
	"queue.job_ttl":        "24h",
	"queue.lease":          "2m",

	"worker.concurrency":           2,
	"worker.scratch_dir":           "./tmp",
	"worker.heartbeat_interval":    "5s",
	"worker.heartbeat_ttl":         "15s",
	"worker.stale_after":           "30s",
	"worker.transcription_enabled": true,

	"media.ffmpeg_bin":         "ffmpeg",
	"media.ffprobe_bin":        "ffprobe",
	"media.whisper_bin":        "/usr/local/bin/whisper-cpp",
	"media.whisper_model":      "base",
	"media.models_dir":         "/models",
	"media.language":           "auto",
	"media.compose_timeout":    "10m",
	"media.probe_timeout":      "30s",
	"media.thumbnail_timeout":  "30s",
	"media.extract_timeout":    "2m",
	"media.transcribe_timeout": "10m",

	"pg.retry_count":          5,
	"pg.retry_interval":       3,
	"mongo.retry_count":       5,
	"mongo.retry_interval":    3,
	"minio.retry_count":       5,
	"minio.retry_interval":    3,
	"minio.presign_expiry":    "1h",
	"redis.retry_count":       5,
	"redis.retry_interval":    3,
	"rabbitmq.retry_count":    5,
	"rabbitmq.retry_interval": 3,
	"kafka.retry_count":       5,
	"kafka.retry_interval":    3,

	"kafka.topic": "video-events",
	"auth.issuer": "pipeline_worker",
}
