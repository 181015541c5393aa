package raytrace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds the engine settings that can be loaded from a file.
type Config struct {
	// Backend names the hal backend: vulkan, metal, dx12, gl or noop.
	Backend string `toml:"backend" yaml:"backend"`

	// Width and Height are the render extent in pixels. A window provider
	// overrides them.
	Width  uint32 `toml:"width" yaml:"width"`
	Height uint32 `toml:"height" yaml:"height"`

	// BufferCount is the number of back buffers and frames in flight.
	BufferCount int `toml:"buffer_count" yaml:"buffer_count"`

	// DescriptorCapacity is the descriptor heap size.
	DescriptorCapacity uint32 `toml:"descriptor_capacity" yaml:"descriptor_capacity"`

	// Subdivisions is the icosphere subdivision level of the scene mesh.
	Subdivisions int `toml:"subdivisions" yaml:"subdivisions"`

	// ShaderPath is a WGSL file. Empty selects the embedded shader.
	ShaderPath string `toml:"shader_path" yaml:"shader_path"`

	// ForceFallback selects the compute fallback even when a native
	// raytracing driver is present.
	ForceFallback bool `toml:"force_fallback" yaml:"force_fallback"`

	// RequireNativeRaytracing makes initialization fail with
	// ErrNoRaytracing when no native driver is present.
	RequireNativeRaytracing bool `toml:"require_native_raytracing" yaml:"require_native_raytracing"`

	// MemoryBudget caps the bytes of live GPU buffers. Zero is unlimited.
	MemoryBudget uint64 `toml:"memory_budget" yaml:"memory_budget"`

	// WaitTimeout bounds every fence wait. Zero waits forever.
	WaitTimeout Duration `toml:"wait_timeout" yaml:"wait_timeout"`
}

// Duration is a time.Duration written as a string such as "5s" in config
// files.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return Config{
		Backend:            "vulkan",
		Width:              1280,
		Height:             720,
		BufferCount:        2,
		DescriptorCapacity: 100000,
		Subdivisions:       3,
	}
}

// maxSubdivisions keeps the icosphere under a few million vertices.
const maxSubdivisions = 7

// Validate checks the settings for values the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := ParseBackend(c.Backend); err != nil {
		return err
	}
	switch {
	case c.Width == 0 || c.Height == 0:
		return fmt.Errorf("%w: extent %dx%d", ErrInvalidConfig, c.Width, c.Height)
	case c.BufferCount < 1:
		return fmt.Errorf("%w: buffer_count %d", ErrInvalidConfig, c.BufferCount)
	case c.DescriptorCapacity < 2:
		// The output UAV and the BLAS pointer each take a slot.
		return fmt.Errorf("%w: descriptor_capacity %d", ErrInvalidConfig, c.DescriptorCapacity)
	case c.Subdivisions < 0 || c.Subdivisions > maxSubdivisions:
		return fmt.Errorf("%w: subdivisions %d, want 0..%d", ErrInvalidConfig, c.Subdivisions, maxSubdivisions)
	case c.WaitTimeout.Duration < 0:
		return fmt.Errorf("%w: negative wait_timeout", ErrInvalidConfig)
	case c.ForceFallback && c.RequireNativeRaytracing:
		return fmt.Errorf("%w: force_fallback and require_native_raytracing are exclusive", ErrInvalidConfig)
	}
	return nil
}

// ParseBackend maps a backend name to its hal identifier. "noop" selects
// the headless backend.
func ParseBackend(name string) (gputypes.Backend, error) {
	switch strings.ToLower(name) {
	case "vulkan", "vk":
		return gputypes.BackendVulkan, nil
	case "metal":
		return gputypes.BackendMetal, nil
	case "dx12", "d3d12":
		return gputypes.BackendDX12, nil
	case "gl", "gles":
		return gputypes.BackendGL, nil
	case "noop", "empty":
		return gputypes.BackendEmpty, nil
	}
	return gputypes.BackendEmpty, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, name)
}

// decoder is implemented by the toml and yaml decoders.
type decoder interface {
	Decode(v any) error
}

// decoderFunc creates a decoder over r.
type decoderFunc func(r io.Reader) decoder

func tomlDecoder(r io.Reader) decoder {
	return toml.NewDecoder(r).DisallowUnknownFields()
}

func yamlDecoder(r io.Reader) decoder {
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	return d
}

// decoderFor selects a decoder by file extension.
func decoderFor(path string) (decoderFunc, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return tomlDecoder, nil
	case ".yaml", ".yml":
		return yamlDecoder, nil
	}
	return nil, fmt.Errorf("raytrace: unsupported config format %q", filepath.Ext(path))
}

// LoadConfig reads a TOML or YAML file over DefaultConfig and validates
// the result. Keys missing from the file keep their default.
func LoadConfig(path string) (Config, error) {
	newDecoder, err := decoderFor(path)
	if err != nil {
		return Config{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("raytrace: open config: %w", err)
	}
	defer f.Close()
	return readConfig(f, newDecoder)
}

func readConfig(r io.Reader, newDecoder decoderFunc) (Config, error) {
	cfg := DefaultConfig()
	if err := newDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("raytrace: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
