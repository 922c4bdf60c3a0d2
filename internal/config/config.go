package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
	Geocode  GeocodeConfig  `json:"geocode"`
	LLM      LLMConfig      `json:"llm"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env         string   `json:"env"`           // 运行环境: local / prod
	LogLevel    string   `json:"log_level"`     // 日志级别: debug / info / warn / error
	HTTPAddr    string   `json:"http_addr"`     // API 服务监听地址
	CORSOrigins []string `json:"cors_origins"`  // 允许的跨域来源
	AIRateLimit float64  `json:"ai_rate_limit"` // AI 接口限流速率（token/s）
	AIRateBurst float64  `json:"ai_rate_burst"` // AI 接口限流桶容量
}

// MySQLConfig 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // go-sql-driver 格式的 DSN
}

// RedisConfig Redis 配置（为空则不启用 Redis 相关能力）。
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
}

// EmailConfig SMTP 配置（为空则注册时跳过邮箱验证）。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 认证相关配置。
type SecurityConfig struct {
	JWTSecret string        `json:"jwt_secret"` // JWT 签名密钥
	TokenTTL  time.Duration `json:"token_ttl"`  // 令牌有效期
}

// GeocodeConfig 地理编码服务配置。
type GeocodeConfig struct {
	BaseURL     string        `json:"base_url"`     // Nominatim 服务地址
	UserAgent   string        `json:"user_agent"`   // 第三方要求的服务标识
	MinInterval time.Duration `json:"min_interval"` // 两次外呼之间的最小间隔
	Timeout     time.Duration `json:"timeout"`      // 单次查询超时
}

// LLMConfig 文本生成服务配置。
//
// Provider 在进程启动时确定一次，运行期间不可切换。
type LLMConfig struct {
	Provider string        `json:"provider"`  // bedrock / local
	Region   string        `json:"region"`    // Bedrock 区域
	ModelID  string        `json:"model_id"`  // Bedrock 模型 ID
	APIBase  string        `json:"api_base"`  // 本地 OpenAI 兼容端点
	APIKey   string        `json:"api_key"`   // 本地端点的 API Key（可为空）
	Model    string        `json:"model"`     // 本地端点的模型名
	Timeout  time.Duration `json:"timeout"`   // 单次生成超时
}

// Load 加载配置。
//
// 优先级：环境变量 > 配置文件 > 默认值。配置文件不存在时不视为错误。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, validate(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, validate(cfg)
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:         "local",
			LogLevel:    "info",
			HTTPAddr:    ":8080",
			CORSOrigins: []string{"http://localhost:5173"},
			AIRateLimit: 1,
			AIRateBurst: 3,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/cleanwave?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Security: SecurityConfig{
			JWTSecret: "dev_secret_change_me",
			TokenTTL:  24 * time.Hour,
		},
		Geocode: GeocodeConfig{
			BaseURL:     "https://nominatim.openstreetmap.org",
			UserAgent:   "cleanwave_app",
			MinInterval: time.Second,
			Timeout:     10 * time.Second,
		},
		LLM: LLMConfig{
			Provider: "local",
			Region:   "us-east-1",
			ModelID:  "anthropic.claude-3-sonnet-20240229-v1:0",
			APIBase:  "http://localhost:1234/v1",
			APIKey:   "not-needed",
			Model:    "local-model",
			Timeout:  60 * time.Second,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if len(cfg.App.CORSOrigins) == 0 {
		cfg.App.CORSOrigins = defaults.App.CORSOrigins
	}
	if cfg.App.AIRateLimit == 0 {
		cfg.App.AIRateLimit = defaults.App.AIRateLimit
	}
	if cfg.App.AIRateBurst == 0 {
		cfg.App.AIRateBurst = defaults.App.AIRateBurst
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.TokenTTL == 0 {
		cfg.Security.TokenTTL = defaults.Security.TokenTTL
	}
	if cfg.Geocode.BaseURL == "" {
		cfg.Geocode.BaseURL = defaults.Geocode.BaseURL
	}
	if cfg.Geocode.UserAgent == "" {
		cfg.Geocode.UserAgent = defaults.Geocode.UserAgent
	}
	if cfg.Geocode.MinInterval == 0 {
		cfg.Geocode.MinInterval = defaults.Geocode.MinInterval
	}
	if cfg.Geocode.Timeout == 0 {
		cfg.Geocode.Timeout = defaults.Geocode.Timeout
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = defaults.LLM.Provider
	}
	if cfg.LLM.Region == "" {
		cfg.LLM.Region = defaults.LLM.Region
	}
	if cfg.LLM.ModelID == "" {
		cfg.LLM.ModelID = defaults.LLM.ModelID
	}
	if cfg.LLM.APIBase == "" {
		cfg.LLM.APIBase = defaults.LLM.APIBase
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaults.LLM.Model
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = defaults.LLM.Timeout
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("database_dsn", "DATABASE_DSN")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("llm_provider", "LLM_PROVIDER")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := viper.GetString("database_dsn"); v != "" {
		cfg.MySQL.DSN = v
	}
	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := viper.GetString("llm_provider"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.LLM.Region = v
	}
	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.LLM.ModelID = v
	}
	if v := os.Getenv("LLM_API_BASE"); v != "" {
		cfg.LLM.APIBase = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("GEOCODE_USER_AGENT"); v != "" {
		cfg.Geocode.UserAgent = v
	}
	if v := os.Getenv("GEOCODE_MIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Geocode.MinInterval = d
		}
	}
	if v := os.Getenv("AI_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.AIRateLimit = f
		}
	}
}

// validate 做启动前的快速校验。
func validate(cfg *Config) error {
	if _, err := mysql.ParseDSN(cfg.MySQL.DSN); err != nil {
		return fmt.Errorf("invalid mysql dsn: %w", err)
	}
	switch cfg.LLM.Provider {
	case "bedrock", "local":
	default:
		return fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	return nil
}
