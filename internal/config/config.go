// Package config provides the configuration schema and loader for the
// wavetap streaming server.
package config

import "time"

// LogLevel controls log verbosity for the wavetap server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for wavetap. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Waveform   WaveformConfig   `yaml:"waveform"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists origins permitted for CORS and WebSocket
	// upgrades. A single "*" entry allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ResolverConfig configures the external URL extraction capability.
type ResolverConfig struct {
	// Binary is the yt-dlp executable path.
	Binary string `yaml:"binary"`

	// Timeout bounds each extractor invocation. Resolution talks to remote
	// sites and takes seconds, not milliseconds.
	Timeout time.Duration `yaml:"timeout"`

	// SearchLimit is the default number of search results returned.
	SearchLimit int `yaml:"search_limit"`
}

// TranscoderConfig configures the external transcoding capability.
type TranscoderConfig struct {
	// Binary is the ffmpeg executable path.
	Binary string `yaml:"binary"`

	// Bitrate is the MP3 encode bitrate (e.g., "192k").
	Bitrate string `yaml:"bitrate"`

	// ChunkSize is the read buffer size, in bytes, used when relaying
	// transcoded audio to HTTP clients.
	ChunkSize int `yaml:"chunk_size"`

	// StartupTimeout bounds the wait for the first transcoded byte.
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// WaveformConfig configures amplitude envelope extraction.
type WaveformConfig struct {
	// SampleRate is the PCM decode rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the PCM decode channel count.
	Channels int `yaml:"channels"`

	// WindowFrames is the number of PCM frames per amplitude sample.
	WindowFrames int `yaml:"window_frames"`

	// Gain scales the normalized RMS before clamping to [0, 1].
	Gain float64 `yaml:"gain"`

	// SendBuffer is the per-connection amplitude buffer; when the client
	// falls further behind than this, the newest samples are dropped.
	SendBuffer int `yaml:"send_buffer"`
}

// applyDefaults fills in zero-valued fields. Called by the loader before
// validation.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Resolver.Binary == "" {
		c.Resolver.Binary = "yt-dlp"
	}
	if c.Resolver.Timeout == 0 {
		c.Resolver.Timeout = 30 * time.Second
	}
	if c.Resolver.SearchLimit == 0 {
		c.Resolver.SearchLimit = 10
	}
	if c.Transcoder.Binary == "" {
		c.Transcoder.Binary = "ffmpeg"
	}
	if c.Transcoder.Bitrate == "" {
		c.Transcoder.Bitrate = "192k"
	}
	if c.Transcoder.ChunkSize == 0 {
		c.Transcoder.ChunkSize = 8 << 10
	}
	if c.Transcoder.StartupTimeout == 0 {
		c.Transcoder.StartupTimeout = 15 * time.Second
	}
	if c.Waveform.SampleRate == 0 {
		c.Waveform.SampleRate = 44100
	}
	if c.Waveform.Channels == 0 {
		c.Waveform.Channels = 2
	}
	if c.Waveform.WindowFrames == 0 {
		c.Waveform.WindowFrames = 1024
	}
	if c.Waveform.Gain == 0 {
		c.Waveform.Gain = 2.0
	}
	if c.Waveform.SendBuffer == 0 {
		c.Waveform.SendBuffer = 64
	}
}
