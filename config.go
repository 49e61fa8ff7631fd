package digitizer

import "time"

// Config holds all configuration for the digitization pipeline.
type Config struct {
	// PandocPath is the external converter binary. Defaults to "pandoc"
	// resolved from PATH.
	PandocPath string `json:"pandoc_path" yaml:"pandoc_path"`

	// MagickPath is the raster converter used to turn WMF/EMF metafiles into
	// PNG before recognition. Defaults to "magick" resolved from PATH.
	MagickPath string `json:"magick_path" yaml:"magick_path"`

	// CachePath is the SQLite file holding content-hash → markup results of
	// previous formula recognitions and table conversions. If empty,
	// defaults to "latex_cache.db" in the working directory.
	CachePath string `json:"cache_path" yaml:"cache_path"`

	// LLM providers. Vision handles formula recognition; Text handles table
	// conversion. Text defaults to Vision's endpoint when unset.
	Vision LLMConfig `json:"vision" yaml:"vision"`
	Text   LLMConfig `json:"text" yaml:"text"`

	// OCRWorkers is the maximum number of concurrent recognition requests.
	OCRWorkers int `json:"ocr_workers" yaml:"ocr_workers"`

	// LLMRetries is the number of additional attempts after a failed model
	// call; LLMRetryDelay is the fixed pause between attempts.
	LLMRetries    int           `json:"llm_retries" yaml:"llm_retries"`
	LLMRetryDelay time.Duration `json:"llm_retry_delay" yaml:"llm_retry_delay"`

	// Storage configures picture publishing. Publishing is skipped when
	// Endpoint is empty; upload failures are never fatal.
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// LLMConfig configures a single model endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, ollama, openrouter, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// StorageConfig configures the S3-compatible object store that published
// pictures are uploaded to.
type StorageConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	// KeyPrefix is prepended to every uploaded object key.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
	// PublicURL is the base URL the bucket is served from; uploaded keys are
	// appended to it to form the durable picture URL.
	PublicURL string `json:"public_url" yaml:"public_url"`
}

// DefaultConfig returns a Config with sensible defaults for a local pandoc
// install and an OpenAI vision model.
func DefaultConfig() Config {
	return Config{
		PandocPath: "pandoc",
		MagickPath: "magick",
		CachePath:  "latex_cache.db",
		Vision: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		OCRWorkers:    50,
		LLMRetries:    2,
		LLMRetryDelay: 2 * time.Second,
		Storage: StorageConfig{
			KeyPrefix: "image-maths",
		},
	}
}

// textLLM returns the table-conversion endpoint, falling back to the vision
// endpoint when none is configured.
func (c *Config) textLLM() LLMConfig {
	if c.Text.Provider == "" {
		return c.Vision
	}
	return c.Text
}
