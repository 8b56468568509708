// Package config loads simulation settings from TOML files and CELLSIM_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const DefaultThresholdMeters = 40000.0

type Simulation struct {
	ThresholdMeters  float64
	Index            string
	Workers          int
	UpdatePerProcess bool
	Iterations       int
	Seed             int64
	Randomize        bool

	Grid  *Grid
	Cells []CellSpec

	CellProcesses        []ProcessSpec
	GlobalProcesses      []ProcessSpec
	SetupCellProcesses   []ProcessSpec
	SetupGlobalProcesses []ProcessSpec

	Store Store
}

type Grid struct {
	Rows        int     `toml:"rows"`
	Cols        int     `toml:"cols"`
	OriginLon   float64 `toml:"origin_lon"`
	OriginLat   float64 `toml:"origin_lat"`
	StepDegrees float64 `toml:"step_degrees"`
	Population  uint32  `toml:"population"`
}

type CellSpec struct {
	Lon                 float64 `toml:"lon"`
	Lat                 float64 `toml:"lat"`
	Population          uint32  `toml:"population"`
	ResidentialCapacity uint32  `toml:"residential_capacity"`
}

const (
	ProcessBuiltin = "builtin"
	ProcessLua     = "lua"
)

// ProcessSpec names a catalog process or a Lua script.
type ProcessSpec struct {
	Name      string `toml:"name"`
	Kind      string `toml:"kind"`
	Threshold uint32 `toml:"threshold"`
	// Script is a Lua file path, resolved against the config file directory.
	Script string `toml:"script"`
	// Source is inline Lua.
	Source string `toml:"source"`
}

type Store struct {
	Kind string `toml:"kind"`
	Path string `toml:"path"`
}

// Default returns a runnable configuration: a small demo grid with the
// grow/migrate pipeline.
func Default() Simulation {
	return Simulation{
		ThresholdMeters: DefaultThresholdMeters,
		Index:           "brute_force",
		Workers:         1,
		Iterations:      10,
		Seed:            1,
		Grid: &Grid{
			Rows:        4,
			Cols:        4,
			StepDegrees: 0.3,
			Population:  20,
		},
		CellProcesses: []ProcessSpec{
			{Name: "grow", Kind: ProcessBuiltin},
			{Name: "migrate", Kind: ProcessBuiltin},
		},
		GlobalProcesses: []ProcessSpec{
			{Name: "count_iterations", Kind: ProcessBuiltin},
			{Name: "sum_population", Kind: ProcessBuiltin},
		},
		Store: Store{Path: "cellsim.db"},
	}
}

// cellsim config.toml key mapping.
type fileConfig struct {
	ThresholdMeters      float64       `toml:"threshold_meters"`
	Index                string        `toml:"index"`
	Workers              int           `toml:"workers"`
	UpdatePerProcess     bool          `toml:"update_per_process"`
	Iterations           int           `toml:"iterations"`
	Seed                 int64         `toml:"seed"`
	Randomize            bool          `toml:"randomize"`
	Grid                 *Grid         `toml:"grid"`
	Cells                []CellSpec    `toml:"cells"`
	CellProcesses        []ProcessSpec `toml:"cell_processes"`
	GlobalProcesses      []ProcessSpec `toml:"global_processes"`
	SetupCellProcesses   []ProcessSpec `toml:"setup_cell_processes"`
	SetupGlobalProcesses []ProcessSpec `toml:"setup_global_processes"`
	Store                Store         `toml:"store"`
}

type envConfig struct {
	ThresholdMeters  float64 `env:"CELLSIM_THRESHOLD_METERS"`
	Index            string  `env:"CELLSIM_INDEX"`
	Workers          int     `env:"CELLSIM_WORKERS"`
	UpdatePerProcess bool    `env:"CELLSIM_UPDATE_PER_PROCESS"`
	Iterations       int     `env:"CELLSIM_ITERATIONS"`
	Seed             int64   `env:"CELLSIM_SEED"`
	Randomize        bool    `env:"CELLSIM_RANDOMIZE"`
	StoreKind        string  `env:"CELLSIM_STORE"`
	StorePath        string  `env:"CELLSIM_DB_PATH"`
}

// Load overlays the TOML file at path (if any) and then environ onto the
// defaults. A nil environ reads the process environment.
func Load(path string, environ map[string]string) (Simulation, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = overlayFile(cfg, path)
		if err != nil {
			return Simulation{}, err
		}
	}
	cfg, err := overlayEnv(cfg, environ)
	if err != nil {
		return Simulation{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Simulation{}, fmt.Errorf("load cellsim config: %w", err)
	}
	return cfg, nil
}

func overlayFile(cfg Simulation, path string) (Simulation, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Simulation{}, fmt.Errorf("load cellsim config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Simulation{}, fmt.Errorf("load cellsim config: unknown key %s", undecoded[0])
	}

	if meta.IsDefined("threshold_meters") {
		cfg.ThresholdMeters = raw.ThresholdMeters
	}
	if meta.IsDefined("index") {
		cfg.Index = strings.TrimSpace(raw.Index)
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("update_per_process") {
		cfg.UpdatePerProcess = raw.UpdatePerProcess
	}
	if meta.IsDefined("iterations") {
		cfg.Iterations = raw.Iterations
	}
	if meta.IsDefined("seed") {
		cfg.Seed = raw.Seed
	}
	if meta.IsDefined("randomize") {
		cfg.Randomize = raw.Randomize
	}
	// Explicit cells replace the default grid.
	if meta.IsDefined("cells") {
		cfg.Cells = raw.Cells
		cfg.Grid = nil
	}
	if meta.IsDefined("grid") {
		cfg.Grid = raw.Grid
	}

	dir := filepath.Dir(path)
	if meta.IsDefined("cell_processes") {
		cfg.CellProcesses = resolveProcesses(dir, raw.CellProcesses)
	}
	if meta.IsDefined("global_processes") {
		cfg.GlobalProcesses = resolveProcesses(dir, raw.GlobalProcesses)
	}
	if meta.IsDefined("setup_cell_processes") {
		cfg.SetupCellProcesses = resolveProcesses(dir, raw.SetupCellProcesses)
	}
	if meta.IsDefined("setup_global_processes") {
		cfg.SetupGlobalProcesses = resolveProcesses(dir, raw.SetupGlobalProcesses)
	}

	if meta.IsDefined("store", "kind") {
		cfg.Store.Kind = strings.TrimSpace(raw.Store.Kind)
	}
	if meta.IsDefined("store", "path") {
		cfg.Store.Path = strings.TrimSpace(raw.Store.Path)
		if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
			cfg.Store.Path = filepath.Join(dir, cfg.Store.Path)
		}
	}
	return cfg, nil
}

func resolveProcesses(dir string, specs []ProcessSpec) []ProcessSpec {
	out := make([]ProcessSpec, len(specs))
	for i, spec := range specs {
		spec.Name = strings.TrimSpace(spec.Name)
		spec.Kind = strings.ToLower(strings.TrimSpace(spec.Kind))
		if spec.Kind == "" {
			spec.Kind = ProcessBuiltin
			if spec.Script != "" || spec.Source != "" {
				spec.Kind = ProcessLua
			}
		}
		if spec.Script != "" && !filepath.IsAbs(spec.Script) {
			spec.Script = filepath.Join(dir, spec.Script)
		}
		out[i] = spec
	}
	return out
}

func overlayEnv(cfg Simulation, environ map[string]string) (Simulation, error) {
	overlay := envConfig{
		ThresholdMeters:  cfg.ThresholdMeters,
		Index:            cfg.Index,
		Workers:          cfg.Workers,
		UpdatePerProcess: cfg.UpdatePerProcess,
		Iterations:       cfg.Iterations,
		Seed:             cfg.Seed,
		Randomize:        cfg.Randomize,
		StoreKind:        cfg.Store.Kind,
		StorePath:        cfg.Store.Path,
	}
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&overlay, opts); err != nil {
		return Simulation{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.ThresholdMeters = overlay.ThresholdMeters
	cfg.Index = overlay.Index
	cfg.Workers = overlay.Workers
	cfg.UpdatePerProcess = overlay.UpdatePerProcess
	cfg.Iterations = overlay.Iterations
	cfg.Seed = overlay.Seed
	cfg.Randomize = overlay.Randomize
	cfg.Store.Kind = overlay.StoreKind
	cfg.Store.Path = overlay.StorePath
	return cfg, nil
}

func (s Simulation) Validate() error {
	if math.IsNaN(s.ThresholdMeters) || s.ThresholdMeters <= 0 {
		return fmt.Errorf("threshold_meters must be > 0, got %v", s.ThresholdMeters)
	}
	switch s.Index {
	case "", "brute_force", "rtree":
	default:
		return fmt.Errorf("unsupported index %q (expected brute_force or rtree)", s.Index)
	}
	if s.Workers < 0 {
		return errors.New("workers must be >= 0")
	}
	if s.Iterations < 0 {
		return errors.New("iterations must be >= 0")
	}
	if s.Grid == nil && len(s.Cells) == 0 {
		return errors.New("either grid or cells is required")
	}
	if s.Grid != nil && len(s.Cells) > 0 {
		return errors.New("grid and cells are mutually exclusive")
	}
	if g := s.Grid; g != nil {
		if g.Rows <= 0 || g.Cols <= 0 {
			return fmt.Errorf("grid must have positive rows and cols, got %dx%d", g.Rows, g.Cols)
		}
		if g.StepDegrees <= 0 {
			return errors.New("grid step_degrees must be > 0")
		}
		maxLat := g.OriginLat + float64(g.Rows-1)*g.StepDegrees
		maxLon := g.OriginLon + float64(g.Cols-1)*g.StepDegrees
		if g.OriginLat < -90 || maxLat > 90 || g.OriginLon < -180 || maxLon > 180 {
			return fmt.Errorf("grid extends out of range: lon [%v, %v] lat [%v, %v]", g.OriginLon, maxLon, g.OriginLat, maxLat)
		}
	}
	for i, c := range s.Cells {
		if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
			return fmt.Errorf("cell %d: position out of range (%v, %v)", i, c.Lon, c.Lat)
		}
	}
	for _, group := range []struct {
		name  string
		specs []ProcessSpec
	}{
		{"cell_processes", s.CellProcesses},
		{"global_processes", s.GlobalProcesses},
		{"setup_cell_processes", s.SetupCellProcesses},
		{"setup_global_processes", s.SetupGlobalProcesses},
	} {
		for i, spec := range group.specs {
			if err := spec.validate(); err != nil {
				return fmt.Errorf("%s[%d]: %w", group.name, i, err)
			}
		}
	}
	return nil
}

func (p ProcessSpec) validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	switch p.Kind {
	case "", ProcessBuiltin:
		if p.Script != "" || p.Source != "" {
			return errors.New("builtin processes take no script")
		}
	case ProcessLua:
		if (p.Script == "") == (p.Source == "") {
			return errors.New("lua processes need exactly one of script or source")
		}
	default:
		return fmt.Errorf("unsupported process kind %q", p.Kind)
	}
	return nil
}

// LuaSource returns the script body of a Lua process.
func (p ProcessSpec) LuaSource() (string, error) {
	if p.Source != "" {
		return p.Source, nil
	}
	data, err := os.ReadFile(p.Script)
	if err != nil {
		return "", fmt.Errorf("read script %s: %w", p.Script, err)
	}
	return string(data), nil
}
