// Package config loads and watches the JIT memory policy file. The tunables
// the code cache treats as policy rather than arithmetic live here: how the
// capacity splits between the code and data pools, how capacity grows, and
// where the diagnostics server listens.
package config

import (
	"fmt"
	"os"

	semver "github.com/Masterminds/semver/v3"
	toml "github.com/pelletier/go-toml/v2"

	verrors "github.com/veyra-lang/veyra/internal/errors"
)

// SchemaConstraint gates which policy file revisions this runtime accepts.
const SchemaConstraint = ">=1.0.0, <2.0.0"

const (
	// KB, MB mirror the usual byte units for capacity fields.
	KB = 1024
	MB = 1024 * KB
)

// Policy holds the JIT memory region tunables.
type Policy struct {
	// SchemaVersion is the policy file format revision, checked against
	// SchemaConstraint at load time.
	SchemaVersion string `toml:"schema_version" json:"schema_version"`

	// InitialCapacity and MaxCapacity bound the whole region (code + data).
	InitialCapacity uint64 `toml:"initial_capacity" json:"initial_capacity"`
	MaxCapacity     uint64 `toml:"max_capacity" json:"max_capacity"`

	// CodeDataDivider splits capacity: data gets capacity/CodeDataDivider,
	// code gets the rest.
	CodeDataDivider uint64 `toml:"code_data_divider" json:"code_data_divider"`

	// GrowthFactor multiplies the current capacity while it is below
	// LinearGrowthFloor; past the floor capacity grows by LinearGrowthStep.
	GrowthFactor      uint64 `toml:"growth_factor" json:"growth_factor"`
	LinearGrowthFloor uint64 `toml:"linear_growth_floor" json:"linear_growth_floor"`
	LinearGrowthStep  uint64 `toml:"linear_growth_step" json:"linear_growth_step"`

	// DiagnosticsAddr, when non-empty, is where the debug HTTP server binds.
	DiagnosticsAddr string `toml:"diagnostics_addr" json:"diagnostics_addr,omitempty"`
}

// Default returns the policy the runtime ships with.
func Default() Policy {
	return Policy{
		SchemaVersion:     "1.0.0",
		InitialCapacity:   64 * KB,
		MaxCapacity:       64 * MB,
		CodeDataDivider:   2,
		GrowthFactor:      2,
		LinearGrowthFloor: 1 * MB,
		LinearGrowthStep:  1 * MB,
	}
}

// Validate checks internal consistency. A zero field falls back to its
// default rather than failing, so partial policy files stay usable.
func (p *Policy) Validate() error {
	d := Default()
	if p.SchemaVersion == "" {
		p.SchemaVersion = d.SchemaVersion
	}
	v, err := semver.NewVersion(p.SchemaVersion)
	if err != nil {
		return verrors.ConfigInvalid("schema_version", err.Error())
	}
	c, err := semver.NewConstraint(SchemaConstraint)
	if err != nil {
		return fmt.Errorf("config: bad schema constraint: %w", err)
	}
	if !c.Check(v) {
		return verrors.ConfigInvalid("schema_version",
			fmt.Sprintf("%s is outside supported range %s", p.SchemaVersion, SchemaConstraint))
	}

	if p.InitialCapacity == 0 {
		p.InitialCapacity = d.InitialCapacity
	}
	if p.MaxCapacity == 0 {
		p.MaxCapacity = d.MaxCapacity
	}
	if p.InitialCapacity > p.MaxCapacity {
		return verrors.ConfigInvalid("initial_capacity", "exceeds max_capacity")
	}
	if p.CodeDataDivider == 0 {
		p.CodeDataDivider = d.CodeDataDivider
	}
	if p.CodeDataDivider < 2 {
		return verrors.ConfigInvalid("code_data_divider", "must be at least 2")
	}
	if p.GrowthFactor == 0 {
		p.GrowthFactor = d.GrowthFactor
	}
	if p.GrowthFactor < 2 {
		return verrors.ConfigInvalid("growth_factor", "must be at least 2")
	}
	if p.LinearGrowthFloor == 0 {
		p.LinearGrowthFloor = d.LinearGrowthFloor
	}
	if p.LinearGrowthStep == 0 {
		p.LinearGrowthStep = d.LinearGrowthStep
	}
	return nil
}

// Load reads and validates a policy file.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates TOML policy bytes.
func Parse(data []byte) (Policy, error) {
	p := Policy{}
	if err := toml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("config: parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
