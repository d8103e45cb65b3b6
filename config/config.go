package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr string `yaml:"addr"` // ":8800"
}

type Room struct {
	Port       int    `yaml:"port"`       // TCP-порт хаба комнаты
	MaxMembers int    `yaml:"maxMembers"` // вместимость комнаты по умолчанию
	Nickname   string `yaml:"nickname"`   // ник локального оператора
	DeviceID   string `yaml:"deviceId"`   // id локального устройства
	HasDevice  bool   `yaml:"hasDevice"`  // узел принимает команды на своё устройство
}

type Discovery struct {
	ProbeTimeoutMs int `yaml:"probeTimeoutMs"` // таймаут пробы одного адреса
	ScanEverySec   int `yaml:"scanEverySec"`   // период фонового скана
	PoolSize       int `yaml:"poolSize"`       // параллельность обхода /24
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|prod
	Service   string `yaml:"service"`   // roomd
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	Room      Room      `yaml:"room"`
	Discovery Discovery `yaml:"discovery"`
	Logging   Logging   `yaml:"logging"`
}

// LoadConfig читает yaml по явному пути, иначе по CONFIG_PATH. Отсутствие
// файла по пути по умолчанию не ошибка: узел стартует на дефолтах.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
	}
	if path == "" {
		path = "./config/config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// дефолты
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Room.Port < 0 || c.Room.Port > 65535 {
		return errors.New("room.port is out of range")
	}
	// установка дефолтов, если значения не указаны
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8800"
	}
	if c.Room.Port == 0 {
		c.Room.Port = 47820
	}
	if c.Room.MaxMembers <= 0 {
		c.Room.MaxMembers = 10
	}
	if c.Room.Nickname == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "operator"
		}
		c.Room.Nickname = host
	}
	if c.Room.DeviceID == "" {
		c.Room.DeviceID = "default"
	}
	if c.Discovery.ProbeTimeoutMs <= 0 {
		c.Discovery.ProbeTimeoutMs = 300
	}
	if c.Discovery.ScanEverySec <= 0 {
		c.Discovery.ScanEverySec = 15
	}
	if c.Discovery.PoolSize <= 0 {
		c.Discovery.PoolSize = 24
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "roomd"
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
	return nil
}
