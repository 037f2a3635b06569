package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr   string `env:"LISTEN_ADDR, default=0.0.0.0:6885"`
	DBPath       string `env:"DB_PATH, default=kiln.db"`
	BusEndpoint  string `env:"BUS_ENDPOINT, default=hub.fedoraproject.org:443"`
	ReleasesPath string `env:"RELEASES_PATH, default=/etc/kiln/releases.yaml"`
	Dev          bool   `env:"DEV, default=false"`
}

type Pipelines struct {
	GitRepo     string `env:"GIT_REPO, default=https://pagure.io/fedora-atomic.git"`
	OutputDir   string `env:"OUTPUT_DIR, default=/srv/kiln/{name}"`
	LogDir      string `env:"LOG_DIR, default=/var/log/kiln/{name}"`
	MockBin     string `env:"MOCK_BIN, default=/usr/bin/mock"`
	GitBin      string `env:"GIT_BIN, default=git"`
	MockRoot    string `env:"MOCK_ROOT, default=/var/lib/mock"`
	MockSiteDir string `env:"MOCK_SITE_DIR, default=/etc/mock"`

	QueueSize   int    `env:"QUEUE_SIZE, default=100"`
	WorkerCount int    `env:"WORKER_COUNT, default=2"`
	RunTimeout  string `env:"RUN_TIMEOUT, default=0"`

	// ComposeFailureFatal promotes a non-zero rpm-ostree exit to a
	// run failure. Off by default: the summary refresh historically
	// runs even after a failed compose.
	ComposeFailureFatal bool `env:"COMPOSE_FAILURE_FATAL, default=false"`
}

type Cursor struct {
	Provider  string `env:"PROVIDER, default=sqlite"`
	RedisAddr string `env:"REDIS_ADDR, default=localhost:6379"`
}

type Config struct {
	Server    Server    `env:",prefix=KILN_SERVER_"`
	Pipelines Pipelines `env:",prefix=KILN_PIPELINES_"`
	Cursor    Cursor    `env:",prefix=KILN_CURSOR_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
