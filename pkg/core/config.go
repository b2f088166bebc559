package core

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"ftpmirror/pkg/endpoint"
	"ftpmirror/pkg/notify"
	"ftpmirror/pkg/postprocess"
)

const defaultMaxRetries = 3

// Config 表示一次镜像任务的配置，可由 YAML 文件与环境变量共同提供
type Config struct {
	URL      string `yaml:"url" env:"FTP_URL"`
	Port     int    `yaml:"port" env:"FTP_PORT"`
	Username string `yaml:"username" env:"FTP_USERNAME"`
	Password string `yaml:"password" env:"FTP_PASSWORD"`
	// PassiveMode 未设置时为 true
	PassiveMode *bool `yaml:"passive_mode"`

	BaseDir    string   `yaml:"base_dir" env:"FTP_BASE_DIR" env-default:"data"`
	RemoteDirs []string `yaml:"remote_dirs" env:"FTP_REMOTE_DIRS" env-separator:","`
	LocalDirs  []string `yaml:"local_dirs" env:"FTP_LOCAL_DIRS" env-separator:","`
	DirPattern []string `yaml:"dir_pattern"`
	Pattern    []string `yaml:"pattern"`
	Overwrite  bool     `yaml:"overwrite" env:"FTP_OVERWRITE"`
	DayBefore  int      `yaml:"day_before" env:"FTP_DAY_BEFORE"`
	DestDir    string   `yaml:"dest_dir" env:"FTP_DEST_DIR"`

	// MaxRetries 未设置时为 3，显式的 0 表示不重试
	MaxRetries *int          `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"FTP_RETRY_DELAY" env-default:"1s"`
	Timeout    time.Duration `yaml:"timeout" env:"FTP_TIMEOUT" env-default:"30s"`

	SentinelFile string `yaml:"sentinel_file" env:"FTP_SENTINEL_FILE" env-default:"download_list.txt"`
	HistoryDB    string `yaml:"history_db" env:"FTP_HISTORY_DB"`
	LogDir       string `yaml:"log_dir" env:"FTP_LOG_DIR" env-default:"log"`
	LogLevel     string `yaml:"log_level" env:"FTP_LOG_LEVEL" env-default:"info"`
	ExtractGzip  bool   `yaml:"extract_gzip" env:"FTP_EXTRACT_GZIP"`
	NoProgress   bool   `yaml:"no_progress" env:"FTP_NO_PROGRESS"`
	DryRun       bool   `yaml:"-"`

	MQTT MQTTConfig `yaml:"mqtt"`
	S3   S3Config   `yaml:"s3"`

	matcher *endpoint.PathMatcher
}

type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"MQTT_BROKER"`
	Topic    string `yaml:"topic" env:"MQTT_TOPIC" env-default:"ftpmirror/events"`
	ClientID string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	Username string `yaml:"username" env:"MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_PASSWORD"`
	QoS      byte   `yaml:"qos" env:"MQTT_QOS"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
	Region    string `yaml:"region" env:"S3_REGION"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
}

// Load 读取 .env 后解析配置文件；path 为空时只使用环境变量
func Load(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug(".env 文件不存在，仅使用环境变量", "err", err)
	}
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return &cfg, nil
}

// Validate 进行基础校验并补全默认值
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url 不能为空")
	}
	if len(c.RemoteDirs) == 0 {
		return errors.New("remote_dirs 不能为空")
	}
	if len(c.LocalDirs) == 0 {
		for _, remote := range c.RemoteDirs {
			c.LocalDirs = append(c.LocalDirs, defaultLocalDir(remote))
		}
	}
	if len(c.LocalDirs) != len(c.RemoteDirs) {
		return fmt.Errorf("local_dirs 数量 (%d) 与 remote_dirs (%d) 不一致", len(c.LocalDirs), len(c.RemoteDirs))
	}
	if c.DayBefore < 0 {
		return fmt.Errorf("day_before 不能为负数: %d", c.DayBefore)
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max_retries 不能为负数: %d", *c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay 不能为负数: %s", c.RetryDelay)
	}
	if c.BaseDir == "" {
		c.BaseDir = "data"
	}
	if c.SentinelFile == "" {
		c.SentinelFile = "download_list.txt"
	}
	matcher, err := endpoint.NewPathMatcher(c.DirPattern, c.Pattern)
	if err != nil {
		return err
	}
	c.matcher = matcher
	return nil
}

// Passive 返回是否使用被动模式
func (c *Config) Passive() bool {
	return c.PassiveMode == nil || *c.PassiveMode
}

func (c *Config) Retries() int {
	if c.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *c.MaxRetries
}

// Matcher 在 Validate 之后可用
func (c *Config) Matcher() *endpoint.PathMatcher {
	return c.matcher
}

func (c *Config) ftpOptions() endpoint.FTPOptions {
	return endpoint.FTPOptions{
		Port:     c.Port,
		User:     c.Username,
		Password: c.Password,
		Passive:  c.Passive(),
		Timeout:  c.Timeout,
	}
}

func (c *Config) s3Options() postprocess.S3Options {
	return postprocess.S3Options{
		Endpoint:  c.S3.Endpoint,
		Region:    c.S3.Region,
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
	}
}

func (c *Config) mqttOptions() notify.MQTTOptions {
	return notify.MQTTOptions{
		Broker:   c.MQTT.Broker,
		Topic:    c.MQTT.Topic,
		ClientID: c.MQTT.ClientID,
		Username: c.MQTT.Username,
		Password: c.MQTT.Password,
		QoS:      c.MQTT.QoS,
	}
}

func defaultLocalDir(remote string) string {
	base := path.Base(path.Clean("/" + remote))
	if base == "/" || base == "." {
		return "root"
	}
	return base
}
