package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MinIO    MinIOConfig
	Log      LogConfig
	Auth     AuthConfig
	Sync     SyncConfig
	Checkout CheckoutConfig
}

type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type LogConfig struct {
	Level            string        `mapstructure:"level"`
	Format           string        `mapstructure:"format"`
	Output           string        `mapstructure:"output"`
	File             FileLogConfig `mapstructure:"file"`
	EnableCaller     bool          `mapstructure:"enablecaller"`
	EnableStacktrace bool          `mapstructure:"enablestacktrace"`
}

type FileLogConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"maxsize"`
	MaxAge     int    `mapstructure:"maxage"`
	MaxBackups int    `mapstructure:"maxbackups"`
	Compress   bool   `mapstructure:"compress"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// SyncConfig 同步配置。UpstreamURL 为空时本节点作为源站运行，
// 非空时作为中继节点从上游拉取内容。
type SyncConfig struct {
	UpstreamURL      string        `mapstructure:"upstream_url"`
	NodeID           string        `mapstructure:"node_id"`
	PeerSecret       string        `mapstructure:"peer_secret"`
	DataDir          string        `mapstructure:"data_dir"`
	Interval         time.Duration `mapstructure:"interval"`
	Workers          int           `mapstructure:"workers"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RefDBs           []string      `mapstructure:"refdbs"`
	ManifestCacheTTL time.Duration `mapstructure:"manifest_cache_ttl"`
}

// CheckoutConfig 领用令牌配置
type CheckoutConfig struct {
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	SigningSecret string        `mapstructure:"signing_secret"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// IsRelay 是否为中继节点
func (c *Config) IsRelay() bool {
	return c.Sync.UpstreamURL != ""
}
