package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr string `env:"LISTEN_ADDR, default=0.0.0.0:7433"`
	DBPath     string `env:"DB_PATH, default=warden.db"`
	Dev        bool   `env:"DEV, default=false"`

	// PolicyPath points at the approval-threshold policy file. Empty
	// means one approver everywhere.
	PolicyPath string `env:"POLICY_PATH"`
}

type Email struct {
	APIKey string `env:"API_KEY"`
	From   string `env:"FROM, default=warden@shipgate.sh"`
}

type Config struct {
	Server Server `env:",prefix=WARDEN_SERVER_"`
	Email  Email  `env:",prefix=WARDEN_EMAIL_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
