package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}
	for i, origin := range cfg.Server.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			errs = append(errs, fmt.Errorf("server.allowed_origins[%d] is empty", i))
		}
	}

	if cfg.Resolver.Timeout < 0 {
		errs = append(errs, fmt.Errorf("resolver.timeout %s is negative", cfg.Resolver.Timeout))
	}
	if cfg.Resolver.SearchLimit < 0 {
		errs = append(errs, fmt.Errorf("resolver.search_limit %d is negative", cfg.Resolver.SearchLimit))
	}

	if cfg.Transcoder.ChunkSize < 512 {
		errs = append(errs, fmt.Errorf("transcoder.chunk_size %d is too small; minimum 512 bytes", cfg.Transcoder.ChunkSize))
	}
	if cfg.Transcoder.StartupTimeout < 0 {
		errs = append(errs, fmt.Errorf("transcoder.startup_timeout %s is negative", cfg.Transcoder.StartupTimeout))
	}
	if !strings.HasSuffix(cfg.Transcoder.Bitrate, "k") {
		errs = append(errs, fmt.Errorf("transcoder.bitrate %q is invalid; expected a value like \"192k\"", cfg.Transcoder.Bitrate))
	}

	if cfg.Waveform.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("waveform.sample_rate %d must be positive", cfg.Waveform.SampleRate))
	}
	if cfg.Waveform.Channels != 1 && cfg.Waveform.Channels != 2 {
		errs = append(errs, fmt.Errorf("waveform.channels %d is invalid; valid values: 1, 2", cfg.Waveform.Channels))
	}
	if cfg.Waveform.WindowFrames <= 0 {
		errs = append(errs, fmt.Errorf("waveform.window_frames %d must be positive", cfg.Waveform.WindowFrames))
	}
	if cfg.Waveform.Gain <= 0 {
		errs = append(errs, fmt.Errorf("waveform.gain %g must be positive", cfg.Waveform.Gain))
	}
	if cfg.Waveform.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("waveform.send_buffer %d must be positive", cfg.Waveform.SendBuffer))
	}

	return errors.Join(errs...)
}
