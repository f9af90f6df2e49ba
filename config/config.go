package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MadHawkx/Synctelly/internal/kv"
	"github.com/MadHawkx/Synctelly/internal/postgres"
	"github.com/MadHawkx/Synctelly/internal/room"
	"github.com/MadHawkx/Synctelly/internal/service"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

type GRPC struct {
	Addr          string        `yaml:"addr"`
	CheckInterval time.Duration `yaml:"checkInterval"`
	UnaryTimeout  time.Duration `yaml:"unaryTimeout"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|prod
	Service   string `yaml:"service"`   // synctelly
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

// Postgres: пустой DSN — комнаты живут только в памяти.
type Postgres struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`
}

func (p Postgres) Enabled() bool { return p.DSN != "" }

func (p Postgres) ToPGConfig() postgres.Config {
	return postgres.Config{
		DSN:               p.DSN,
		MaxConns:          p.MaxConns,
		MinConns:          p.MinConns,
		MaxConnLifetime:   p.MaxConnLifetime,
		MaxConnIdleTime:   p.MaxConnIdleTime,
		HealthCheckPeriod: p.HealthCheckPeriod,
		ApplicationName:   p.ApplicationName,
	}
}

// Redis: без addr субтитры и счётчики выключены.
type Redis struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	FlushCounts time.Duration `yaml:"flushCounts"`
}

func (r Redis) Enabled() bool { return r.Addr != "" }

func (r Redis) ToKVConfig() kv.Config {
	return kv.Config{Addr: r.Addr, Password: r.Password, DB: r.DB}
}

type Identity struct {
	PublicKeyPath string        `yaml:"publicKeyPath"` // пусто — идентичность не проверяется, lock недоступен
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ClockSkew     time.Duration `yaml:"clockSkew"`
}

func (i Identity) Validate() error {
	if i.ClockSkew < 0 || i.ClockSkew > time.Minute {
		return errors.New("identity.clockSkew must be in [0..1m]")
	}
	return nil
}

type Billing struct {
	BaseURL string        `yaml:"baseURL"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

type Abuse struct {
	VerifyURL string        `yaml:"verifyURL"`
	Secret    string        `yaml:"secret"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Pool struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

type VMPool struct {
	Standard Pool          `yaml:"standard"`
	Large    Pool          `yaml:"large"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Rooms struct {
	Shard             string        `yaml:"shard"`
	SaveInterval      time.Duration `yaml:"saveInterval"`
	PositionInterval  time.Duration `yaml:"positionInterval"`
	ReleaseInterval   time.Duration `yaml:"releaseInterval"`
	ReleaseBatches    int           `yaml:"releaseBatches"`
	IdleEvictAfter    time.Duration `yaml:"idleEvictAfter"`
	SnapshotRetention time.Duration `yaml:"snapshotRetention"` // 0: хранить вечно

	ChatLimit            int           `yaml:"chatLimit"`
	SubtitleTTL          time.Duration `yaml:"subtitleTTL"`
	SessionSamples       int64         `yaml:"sessionSamples"`
	StandardSessionLimit time.Duration `yaml:"standardSessionLimit"`
	LargeSessionLimit    time.Duration `yaml:"largeSessionLimit"`
	MinAbuseScore        float64       `yaml:"minAbuseScore"`
	AllocateTimeout      time.Duration `yaml:"allocateTimeout"`
}

func (r Rooms) ToPolicy() room.Policy {
	return room.Policy{
		ChatLimit:            r.ChatLimit,
		SubtitleTTL:          r.SubtitleTTL,
		SessionSamples:       r.SessionSamples,
		StandardSessionLimit: r.StandardSessionLimit,
		LargeSessionLimit:    r.LargeSessionLimit,
		MinAbuseScore:        r.MinAbuseScore,
		AllocateTimeout:      r.AllocateTimeout,
	}
}

func (r Rooms) ToServiceOptions() service.Options {
	return service.Options{
		Shard:            r.Shard,
		SaveInterval:     r.SaveInterval,
		PositionInterval: r.PositionInterval,
		ReleaseInterval:  r.ReleaseInterval,
		ReleaseBatches:   r.ReleaseBatches,
		IdleEvictAfter:   r.IdleEvictAfter,
	}
}

type WS struct {
	ReadLimit int64 `yaml:"readLimit"`
	MaxAsync  int   `yaml:"maxAsync"`
}

type Stats struct {
	// bcrypt-хэш ключа для GET /stats; пусто — эндпоинт выключен
	KeyHash string `yaml:"keyHash"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Identity Identity `yaml:"identity"`
	Billing  Billing  `yaml:"billing"`
	Abuse    Abuse    `yaml:"abuse"`
	VMPool   VMPool   `yaml:"vmpool"`
	Rooms    Rooms    `yaml:"rooms"`
	WS       WS       `yaml:"ws"`
	Stats    Stats    `yaml:"stats"`
	CORS     CORS     `yaml:"cors"`
}

// LoadConfig читает YAML: явный путь, иначе CONFIG_PATH, иначе ./config/config.yaml.
func LoadConfig(path ...string) (*Config, error) {
	filename := os.Getenv("CONFIG_PATH")
	if len(path) > 0 && strings.TrimSpace(path[0]) != "" {
		filename = path[0]
	}
	if filename == "" {
		filename = "./config/config.yaml"
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", filename, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.GRPC.Addr == "" {
		return errors.New("grpc.addr is required")
	}
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if c.VMPool.Large.URL != "" && c.VMPool.Standard.URL == "" {
		return errors.New("vmpool.standard.url is required when vmpool.large is set")
	}
	if c.Rooms.MinAbuseScore < 0 || c.Rooms.MinAbuseScore > 1 {
		return errors.New("rooms.minAbuseScore must be in [0..1]")
	}
	if c.Rooms.ReleaseBatches < 0 {
		return errors.New("rooms.releaseBatches must be >= 0")
	}

	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "synctelly"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.Redis.FlushCounts <= 0 {
		c.Redis.FlushCounts = 10 * time.Second
	}
	if c.Billing.Timeout <= 0 {
		c.Billing.Timeout = 5 * time.Second
	}
	if c.Abuse.Timeout <= 0 {
		c.Abuse.Timeout = 5 * time.Second
	}
	if c.VMPool.Timeout <= 0 {
		c.VMPool.Timeout = 2 * time.Minute
	}
	c.Rooms.fillDefaults()
	return nil
}

func (r *Rooms) fillDefaults() {
	p := room.DefaultPolicy()
	o := service.DefaultOptions()

	if r.SaveInterval <= 0 {
		r.SaveInterval = o.SaveInterval
	}
	if r.PositionInterval <= 0 {
		r.PositionInterval = o.PositionInterval
	}
	if r.ReleaseInterval <= 0 {
		r.ReleaseInterval = o.ReleaseInterval
	}
	if r.ReleaseBatches == 0 {
		r.ReleaseBatches = o.ReleaseBatches
	}
	if r.IdleEvictAfter <= 0 {
		r.IdleEvictAfter = o.IdleEvictAfter
	}
	if r.ChatLimit <= 0 {
		r.ChatLimit = p.ChatLimit
	}
	if r.SubtitleTTL <= 0 {
		r.SubtitleTTL = p.SubtitleTTL
	}
	if r.SessionSamples <= 0 {
		r.SessionSamples = p.SessionSamples
	}
	if r.StandardSessionLimit <= 0 {
		r.StandardSessionLimit = p.StandardSessionLimit
	}
	if r.LargeSessionLimit <= 0 {
		r.LargeSessionLimit = p.LargeSessionLimit
	}
	if r.MinAbuseScore == 0 {
		r.MinAbuseScore = p.MinAbuseScore
	}
	if r.AllocateTimeout <= 0 {
		r.AllocateTimeout = p.AllocateTimeout
	}
}
