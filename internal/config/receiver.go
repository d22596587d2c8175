// Package config loads the receiver configuration. Every field is optional;
// the Get* accessors supply defaults for anything a file leaves out.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical receiver defaults file.
const DefaultConfigPath = "config/receiver.defaults.json"

// Default values used when a field is unset.
const (
	DefaultListenIP               = "127.0.0.1"
	DefaultListenPort             = 9000
	DefaultSendAddress            = "127.0.0.1:9001"
	DefaultEyeTimeout             = 5 * time.Second
	DefaultFaceTimeout            = 5 * time.Second
	DefaultRetryDelay             = 250 * time.Millisecond
	DefaultRcvBuf                 = 1 << 20
	DefaultAvatarChangeValue      = "default"
	DefaultForceRelevantNamespace = "sl"
	DefaultTickInterval           = 11 * time.Millisecond
)

// ReceiverConfig is the JSON configuration of one receiver.
type ReceiverConfig struct {
	ListenIP    *string `json:"listen_ip,omitempty"`
	ListenPort  *int    `json:"listen_port,omitempty"`
	SendAddress *string `json:"send_address,omitempty"`

	EnableEyeTracking  *bool `json:"enable_eye_tracking,omitempty"`
	EnableFaceTracking *bool `json:"enable_face_tracking,omitempty"`
	InvertEyeX         *bool `json:"invert_eye_x,omitempty"`
	InvertEyeY         *bool `json:"invert_eye_y,omitempty"`

	EyeTimeout   *string `json:"eye_timeout,omitempty"`  // duration string like "5s"
	FaceTimeout  *string `json:"face_timeout,omitempty"` // duration string like "5s"
	RetryDelay   *string `json:"retry_delay,omitempty"`
	TickInterval *string `json:"tick_interval,omitempty"`
	RcvBuf       *int    `json:"rcv_buf,omitempty"`

	AvatarChangeValue      *string `json:"avatar_change_value,omitempty"`
	ForceRelevantNamespace *string `json:"force_relevant_namespace,omitempty"`
}

func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// DefaultReceiverConfig returns a config with every field set to its
// default.
func DefaultReceiverConfig() *ReceiverConfig {
	return &ReceiverConfig{
		ListenIP:               ptrString(DefaultListenIP),
		ListenPort:             ptrInt(DefaultListenPort),
		SendAddress:            ptrString(DefaultSendAddress),
		EnableEyeTracking:      ptrBool(true),
		EnableFaceTracking:     ptrBool(true),
		InvertEyeX:             ptrBool(false),
		InvertEyeY:             ptrBool(false),
		EyeTimeout:             ptrString(DefaultEyeTimeout.String()),
		FaceTimeout:            ptrString(DefaultFaceTimeout.String()),
		RetryDelay:             ptrString(DefaultRetryDelay.String()),
		TickInterval:           ptrString(DefaultTickInterval.String()),
		RcvBuf:                 ptrInt(DefaultRcvBuf),
		AvatarChangeValue:      ptrString(DefaultAvatarChangeValue),
		ForceRelevantNamespace: ptrString(DefaultForceRelevantNamespace),
	}
}

// LoadReceiverConfig loads a ReceiverConfig from a JSON file. Fields the
// file omits keep their defaults, so partial configs are safe.
func LoadReceiverConfig(path string) (*ReceiverConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseReceiverConfig(data)
}

// ParseReceiverConfig decodes and validates JSON config bytes. Unknown
// fields are rejected so typos do not silently fall back to defaults.
func ParseReceiverConfig(data []byte) (*ReceiverConfig, error) {
	cfg := &ReceiverConfig{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *ReceiverConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadReceiverConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *ReceiverConfig) Validate() error {
	if c.ListenIP != nil && net.ParseIP(*c.ListenIP) == nil {
		return fmt.Errorf("listen_ip %q is not an IP address", *c.ListenIP)
	}
	if c.ListenPort != nil && (*c.ListenPort < 0 || *c.ListenPort > 65535) {
		return fmt.Errorf("listen_port must be between 0 and 65535, got %d", *c.ListenPort)
	}
	if c.SendAddress != nil && *c.SendAddress != "" {
		if _, _, err := net.SplitHostPort(*c.SendAddress); err != nil {
			return fmt.Errorf("invalid send_address %q: %w", *c.SendAddress, err)
		}
	}
	for name, v := range map[string]*string{
		"eye_timeout":   c.EyeTimeout,
		"face_timeout":  c.FaceTimeout,
		"retry_delay":   c.RetryDelay,
		"tick_interval": c.TickInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.RcvBuf != nil && *c.RcvBuf < 0 {
		return fmt.Errorf("rcv_buf must be non-negative, got %d", *c.RcvBuf)
	}
	if c.ForceRelevantNamespace != nil && strings.ContainsAny(*c.ForceRelevantNamespace, " \x00") {
		return fmt.Errorf("force_relevant_namespace %q contains invalid characters", *c.ForceRelevantNamespace)
	}
	return nil
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// GetListenIP returns the listen_ip value or the default.
func (c *ReceiverConfig) GetListenIP() string {
	if c.ListenIP == nil || *c.ListenIP == "" {
		return DefaultListenIP
	}
	return *c.ListenIP
}

// GetListenPort returns the listen_port value or the default.
func (c *ReceiverConfig) GetListenPort() int {
	if c.ListenPort == nil {
		return DefaultListenPort
	}
	return *c.ListenPort
}

// ListenAddress is host:port for the ingestion socket.
func (c *ReceiverConfig) ListenAddress() string {
	return net.JoinHostPort(c.GetListenIP(), strconv.Itoa(c.GetListenPort()))
}

// GetSendAddress returns the send_address value or the default. An
// explicitly empty value disables outbound control messages.
func (c *ReceiverConfig) GetSendAddress() string {
	if c.SendAddress == nil {
		return DefaultSendAddress
	}
	return *c.SendAddress
}

func (c *ReceiverConfig) GetEnableEyeTracking() bool  { return boolOr(c.EnableEyeTracking, true) }
func (c *ReceiverConfig) GetEnableFaceTracking() bool { return boolOr(c.EnableFaceTracking, true) }
func (c *ReceiverConfig) GetInvertEyeX() bool         { return boolOr(c.InvertEyeX, false) }
func (c *ReceiverConfig) GetInvertEyeY() bool         { return boolOr(c.InvertEyeY, false) }

func (c *ReceiverConfig) GetEyeTimeout() time.Duration {
	return parseDuration(c.EyeTimeout, DefaultEyeTimeout)
}

func (c *ReceiverConfig) GetFaceTimeout() time.Duration {
	return parseDuration(c.FaceTimeout, DefaultFaceTimeout)
}

func (c *ReceiverConfig) GetRetryDelay() time.Duration {
	return parseDuration(c.RetryDelay, DefaultRetryDelay)
}

func (c *ReceiverConfig) GetTickInterval() time.Duration {
	return parseDuration(c.TickInterval, DefaultTickInterval)
}

// GetRcvBuf returns the rcv_buf value or the default.
func (c *ReceiverConfig) GetRcvBuf() int {
	if c.RcvBuf == nil {
		return DefaultRcvBuf
	}
	return *c.RcvBuf
}

// GetAvatarChangeValue returns the avatar_change_value value or the default.
func (c *ReceiverConfig) GetAvatarChangeValue() string {
	if c.AvatarChangeValue == nil {
		return DefaultAvatarChangeValue
	}
	return *c.AvatarChangeValue
}

// GetForceRelevantNamespace returns the force_relevant_namespace value or
// the default. Empty disables the force-relevant request.
func (c *ReceiverConfig) GetForceRelevantNamespace() string {
	if c.ForceRelevantNamespace == nil {
		return DefaultForceRelevantNamespace
	}
	return *c.ForceRelevantNamespace
}
