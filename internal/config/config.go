package config

import (
	"flag"
	"os"
	"strconv"

	"go.uber.org/zap"
)

type Config struct {
	RunAddress     string
	DatabaseURI    string
	CommissionRate float64
	Key            string
	Logger         *zap.SugaredLogger
}

func NewConfig() *Config {
	logCfg := zap.NewProductionConfig()
	logCfg.OutputPaths = []string{"stdout", "server.log"}

	logger := zap.Must(logCfg.Build())

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "HTTP server address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "DB connection string")
	flag.Float64Var(&cfg.CommissionRate, "c", 0.1, "system commission rate [0,1]")
	flag.StringVar(&cfg.Key, "k", "", "JWT signing key")
	flag.Parse()

	cfg.Logger = logger.Sugar()

	ReadServerEnvironment(cfg)

	return cfg
}

func ReadServerEnvironment(cfg *Config) {
	if runAddress := os.Getenv("RUN_ADDRESS"); runAddress != "" {
		cfg.RunAddress = runAddress
	}

	if databaseURI := os.Getenv("DATABASE_URI"); databaseURI != "" {
		cfg.DatabaseURI = databaseURI
	}

	if rate := os.Getenv("COMMISSION_RATE"); rate != "" {
		if parsed, err := strconv.ParseFloat(rate, 64); err == nil {
			cfg.CommissionRate = parsed
		}
	}

	if key := os.Getenv("BOOKING_KEY"); key != "" {
		cfg.Key = key
	}
}
