package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Game      GameConfig      `mapstructure:"game"`
	Plot      PlotConfig      `mapstructure:"plot"`
	Narrative NarrativeConfig `mapstructure:"narrative"`
	Retention RetentionConfig `mapstructure:"retention"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr 监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig Redis缓存配置，Addr为空时不启用
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	TTL         time.Duration `mapstructure:"ttl"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Enabled 是否配置了Redis
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// GameConfig 跑团规则相关配置
type GameConfig struct {
	RecruitTimeout  time.Duration `mapstructure:"recruit_timeout"`
	PrepareTimeout  time.Duration `mapstructure:"prepare_timeout"`
	MaxPlayers      int           `mapstructure:"max_players"`
	DefaultPlayers  int           `mapstructure:"default_players"`
	QuotaPerRuleSet int           `mapstructure:"quota_per_ruleset"`
	PlotMaxRunes    int           `mapstructure:"plot_max_runes"`
}

// PlotConfig 剧本目录配置
type PlotConfig struct {
	Dir string `mapstructure:"dir"`
}

// NarrativeConfig 剧情推进模型配置
type NarrativeConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	APIURL       string        `mapstructure:"api_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	FallbackText string        `mapstructure:"fallback_text"`
}

// RetentionConfig 存档清理配置
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Horizon  time.Duration `mapstructure:"horizon"`
	Interval time.Duration `mapstructure:"interval"`
}

// AdminConfig 管理员配置
type AdminConfig struct {
	Users []string `mapstructure:"users"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 环境变量 TRPG_NARRATIVE_API_KEY 覆盖 narrative.api_key
		v.SetEnvPrefix("TRPG")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		setDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			// 配置文件不存在时使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		loaded := &Config{}
		if err = v.Unmarshal(loaded); err != nil {
			return
		}
		if err = loaded.Validate(); err != nil {
			return
		}

		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})

	return err
}

// Default 返回只包含默认值的配置，主要用于测试
func Default() *Config {
	dv := viper.New()
	setDefaults(dv)
	c := &Config{}
	_ = dv.Unmarshal(c)
	return c
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "development")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/trpg.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "trpg:")
	v.SetDefault("redis.ttl", "30m")
	v.SetDefault("redis.dial_timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "trpg.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("game.recruit_timeout", "60s")
	v.SetDefault("game.prepare_timeout", "300s")
	v.SetDefault("game.max_players", 6)
	v.SetDefault("game.default_players", 4)
	v.SetDefault("game.quota_per_ruleset", 3)
	v.SetDefault("game.plot_max_runes", 5000)

	v.SetDefault("plot.dir", "./plots")

	v.SetDefault("narrative.enabled", true)
	v.SetDefault("narrative.api_url", "https://api.siliconflow.cn/v1/chat/completions")
	v.SetDefault("narrative.api_key", "")
	v.SetDefault("narrative.model", "Qwen/Qwen2.5-14B-Instruct")
	v.SetDefault("narrative.temperature", 0.8)
	v.SetDefault("narrative.max_tokens", 1000)
	v.SetDefault("narrative.timeout", "30s")
	v.SetDefault("narrative.max_retries", 2)
	v.SetDefault("narrative.fallback_text", "命运的齿轮继续转动，冒险者们的故事仍在继续……")

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.horizon", "240h")
	v.SetDefault("retention.interval", "24h")

	v.SetDefault("admin.users", []string{})
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Game.MaxPlayers <= 0 {
		return fmt.Errorf("game.max_players 必须大于0")
	}
	if c.Game.DefaultPlayers <= 0 || c.Game.DefaultPlayers > c.Game.MaxPlayers {
		return fmt.Errorf("game.default_players 必须在 1-%d 之间", c.Game.MaxPlayers)
	}
	if c.Game.QuotaPerRuleSet <= 0 {
		return fmt.Errorf("game.quota_per_ruleset 必须大于0")
	}
	if c.Game.RecruitTimeout <= 0 || c.Game.PrepareTimeout <= 0 {
		return fmt.Errorf("game 计时器必须大于0")
	}
	if c.Retention.Enabled && (c.Retention.Horizon <= 0 || c.Retention.Interval <= 0) {
		return fmt.Errorf("retention.horizon 和 retention.interval 必须大于0")
	}
	return nil
}

// IsAdmin 判断用户是否在管理员列表中
func (c *Config) IsAdmin(userID string) bool {
	for _, u := range c.Admin.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置重载校验失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}

		fmt.Println("配置已重新加载:", e.Name)
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}
