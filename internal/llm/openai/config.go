package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mgebhardt/docintake/constants"
)

// Config for the OpenAI-compatible provider client.
type Config struct {
	APIKey      string // if empty, falls back to env OPENAI_API_KEY
	BaseURL     string // default https://api.openai.com/v1
	HighModel   string // accurate tier, e.g. "gpt-4o"
	LowModel    string // fast tier, e.g. "gpt-4o-mini"
	Temperature float32
	Timeout     time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.HighModel == "" {
		cfg.HighModel = "gpt-4o"
	}
	if cfg.LowModel == "" {
		cfg.LowModel = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

func (c *Client) modelFor(tier constants.ModelTier) string {
	if tier == constants.TierLow {
		return c.cfg.LowModel
	}
	return c.cfg.HighModel
}
