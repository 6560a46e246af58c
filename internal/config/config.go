package config

import (
	"os"

	"github.com/go-yaml/yaml"
)

type Config struct {
	Server  Server  `yaml:"server"`
	Crawler Crawler `yaml:"crawler"`
}

type Server struct {
	ListenAddr    string `yaml:"listenAddr"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

type Crawler struct {
	PlcDirectory          string `yaml:"plcDirectory"`
	BatchSize             int    `yaml:"batchSize"`
	BatchDelaySeconds     int    `yaml:"batchDelaySeconds"`
	PageLimit             int    `yaml:"pageLimit"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
	IntervalMinutes       int    `yaml:"intervalMinutes"`

	// WellKnownHosts maps DIDs to hosting-server URLs that resolve
	// without a directory lookup.
	WellKnownHosts map[string]string `yaml:"wellKnownHosts"`
}

func Load(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	if config.Server.ListenAddr == "" {
		config.Server.ListenAddr = ":8000"
	}
	if config.Crawler.PlcDirectory == "" {
		config.Crawler.PlcDirectory = "https://plc.directory"
	}
	if config.Crawler.BatchSize <= 0 {
		config.Crawler.BatchSize = 10
	}
	if config.Crawler.BatchDelaySeconds <= 0 {
		config.Crawler.BatchDelaySeconds = 2
	}
	if config.Crawler.PageLimit <= 0 {
		config.Crawler.PageLimit = 50
	}
	if config.Crawler.RequestTimeoutSeconds <= 0 {
		config.Crawler.RequestTimeoutSeconds = 10
	}
	if config.Crawler.IntervalMinutes <= 0 {
		config.Crawler.IntervalMinutes = 15
	}

	return config, nil
}
