// Package config loads the runtime configuration for planeplopper.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/planeplopper/internal/anchoring"
	"github.com/banshee-data/planeplopper/internal/cursor"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/planeplopper.defaults.json"

// Config is the root configuration. Every field is optional; the Get*
// methods supply the default for anything left out of the file.
type Config struct {
	// Cursor
	PollHz                  *int     `json:"poll_hz,omitempty"`
	RaycastDownAngleDeg     *float64 `json:"raycast_down_angle_deg,omitempty"`
	RaycastMinDistance      *float64 `json:"raycast_min_distance,omitempty"`
	RaycastMaxDistance      *float64 `json:"raycast_max_distance,omitempty"`
	PlacementOffset         *float64 `json:"placement_offset,omitempty"`
	InvalidateCursorOnMiss  *bool    `json:"invalidate_cursor_on_miss,omitempty"`
	CursorAttachmentHeight  *float64 `json:"cursor_attachment_height,omitempty"`
	CursorAttachmentTiltDeg *float64 `json:"cursor_attachment_tilt_deg,omitempty"`

	// Anchoring
	UntrackedPolicy  *string `json:"untracked_policy,omitempty"`
	WorldAnchorLimit *int    `json:"world_anchor_limit,omitempty"`

	// Storage and serving
	DatabasePath  *string `json:"database_path,omitempty"`
	SimAnchorFile *string `json:"sim_anchor_file,omitempty"`
	Listen        *string `json:"listen,omitempty"`
	GRPCListen    *string `json:"grpc_listen,omitempty"`
}

// Helper functions for creating pointers.
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a config with every field unset.
func EmptyConfig() *Config {
	return &Config{}
}

// DefaultConfig returns a config with every field set to its default.
func DefaultConfig() *Config {
	c := EmptyConfig()
	return &Config{
		PollHz:                  ptrInt(c.GetPollHz()),
		RaycastDownAngleDeg:     ptrFloat64(c.GetRaycastDownAngleDeg()),
		RaycastMinDistance:      ptrFloat64(c.GetRaycastMinDistance()),
		RaycastMaxDistance:      ptrFloat64(c.GetRaycastMaxDistance()),
		PlacementOffset:         ptrFloat64(c.GetPlacementOffset()),
		InvalidateCursorOnMiss:  ptrBool(c.GetInvalidateCursorOnMiss()),
		CursorAttachmentHeight:  ptrFloat64(c.GetCursorAttachmentHeight()),
		CursorAttachmentTiltDeg: ptrFloat64(c.GetCursorAttachmentTiltDeg()),
		UntrackedPolicy:         ptrString(c.GetUntrackedPolicy()),
		WorldAnchorLimit:        ptrInt(c.GetWorldAnchorLimit()),
		DatabasePath:            ptrString(c.GetDatabasePath()),
		SimAnchorFile:           ptrString(c.GetSimAnchorFile()),
		Listen:                  ptrString(c.GetListen()),
		GRPCListen:              ptrString(c.GetGRPCListen()),
	}
}

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadConfig(path string) (*Config, error) {
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

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// current directory. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.PollHz != nil && *c.PollHz <= 0 {
		return fmt.Errorf("poll_hz must be positive, got %d", *c.PollHz)
	}
	if c.RaycastDownAngleDeg != nil {
		if *c.RaycastDownAngleDeg < 0 || *c.RaycastDownAngleDeg >= 90 {
			return fmt.Errorf("raycast_down_angle_deg must be in [0, 90), got %f", *c.RaycastDownAngleDeg)
		}
	}
	if c.RaycastMinDistance != nil && *c.RaycastMinDistance < 0 {
		return fmt.Errorf("raycast_min_distance must be non-negative, got %f", *c.RaycastMinDistance)
	}
	if lo, hi := c.GetRaycastMinDistance(), c.GetRaycastMaxDistance(); hi <= lo {
		return fmt.Errorf("raycast_max_distance (%f) must exceed raycast_min_distance (%f)", hi, lo)
	}
	if c.PlacementOffset != nil && *c.PlacementOffset < 0 {
		return fmt.Errorf("placement_offset must be non-negative, got %f", *c.PlacementOffset)
	}
	if c.UntrackedPolicy != nil {
		if _, err := anchoring.ParseUntrackedPolicy(*c.UntrackedPolicy); err != nil {
			return err
		}
	}
	if c.WorldAnchorLimit != nil && *c.WorldAnchorLimit <= 0 {
		return fmt.Errorf("world_anchor_limit must be positive, got %d", *c.WorldAnchorLimit)
	}
	if c.DatabasePath != nil && *c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	return nil
}

// GetPollHz returns the cursor poll rate or the default.
func (c *Config) GetPollHz() int {
	if c.PollHz == nil {
		return 90
	}
	return *c.PollHz
}

// GetRaycastDownAngleDeg returns the raycast tilt below the device forward
// axis or the default.
func (c *Config) GetRaycastDownAngleDeg() float64 {
	if c.RaycastDownAngleDeg == nil {
		return 15
	}
	return *c.RaycastDownAngleDeg
}

// GetRaycastMinDistance returns the minimum accepted hit distance or the default.
func (c *Config) GetRaycastMinDistance() float64 {
	if c.RaycastMinDistance == nil {
		return 0.2
	}
	return *c.RaycastMinDistance
}

// GetRaycastMaxDistance returns the raycast length or the default.
func (c *Config) GetRaycastMaxDistance() float64 {
	if c.RaycastMaxDistance == nil {
		return 3.0
	}
	return *c.RaycastMaxDistance
}

// GetPlacementOffset returns the lift above the hit surface or the default.
func (c *Config) GetPlacementOffset() float64 {
	if c.PlacementOffset == nil {
		return 0.01
	}
	return *c.PlacementOffset
}

// GetInvalidateCursorOnMiss returns invalidate_cursor_on_miss or the default.
func (c *Config) GetInvalidateCursorOnMiss() bool {
	if c.InvalidateCursorOnMiss == nil {
		return false
	}
	return *c.InvalidateCursorOnMiss
}

func (c *Config) GetCursorAttachmentHeight() float64 {
	if c.CursorAttachmentHeight == nil {
		return 0.15
	}
	return *c.CursorAttachmentHeight
}

func (c *Config) GetCursorAttachmentTiltDeg() float64 {
	if c.CursorAttachmentTiltDeg == nil {
		return -25
	}
	return *c.CursorAttachmentTiltDeg
}

// GetUntrackedPolicy returns the untracked_policy string or the default.
func (c *Config) GetUntrackedPolicy() string {
	if c.UntrackedPolicy == nil || *c.UntrackedPolicy == "" {
		return string(anchoring.DetachOnUntracked)
	}
	return *c.UntrackedPolicy
}

// GetWorldAnchorLimit returns the simulated world anchor capacity or the default.
func (c *Config) GetWorldAnchorLimit() int {
	if c.WorldAnchorLimit == nil {
		return 30
	}
	return *c.WorldAnchorLimit
}

// GetDatabasePath returns database_path or the default.
func (c *Config) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return "planeplopper.db"
	}
	return *c.DatabasePath
}

// GetSimAnchorFile returns sim_anchor_file. Empty means anchors are not
// persisted across restarts.
func (c *Config) GetSimAnchorFile() string {
	if c.SimAnchorFile == nil {
		return "planeplopper-anchors.json"
	}
	return *c.SimAnchorFile
}

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return "localhost:8086"
	}
	return *c.Listen
}

// GetGRPCListen returns the gRPC health listen address. Empty disables it.
func (c *Config) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return "localhost:8087"
	}
	return *c.GRPCListen
}

// Policy returns the parsed untracked policy. Validate has already
// rejected unknown values, so a bad value falls back to the default.
func (c *Config) Policy() anchoring.UntrackedPolicy {
	p, err := anchoring.ParseUntrackedPolicy(c.GetUntrackedPolicy())
	if err != nil {
		return anchoring.DetachOnUntracked
	}
	return p
}

// CursorConfig returns the cursor solver settings.
func (c *Config) CursorConfig() cursor.Config {
	return cursor.Config{
		DownAngleDeg:      c.GetRaycastDownAngleDeg(),
		MinDistance:       c.GetRaycastMinDistance(),
		MaxDistance:       c.GetRaycastMaxDistance(),
		PlacementOffset:   c.GetPlacementOffset(),
		InvalidateOnMiss:  c.GetInvalidateCursorOnMiss(),
		AttachmentHeight:  c.GetCursorAttachmentHeight(),
		AttachmentTiltDeg: c.GetCursorAttachmentTiltDeg(),
	}
}
