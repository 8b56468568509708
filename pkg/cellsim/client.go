package cellsim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"cellsim/internal/config"
	"cellsim/internal/demo"
	"cellsim/internal/engine"
	"cellsim/internal/logging"
	"cellsim/internal/model"
	"cellsim/internal/network"
	"cellsim/internal/process"
	"cellsim/internal/script"
	"cellsim/internal/storage"
	"cellsim/internal/telemetry"
)

const defaultDBPath = "cellsim.db"

type Options struct {
	StoreKind string
	DBPath    string
	// Registerer receives engine metrics. Nil disables them.
	Registerer prometheus.Registerer
	Logger     *zerolog.Logger
}

// Client runs the demo population model from configuration and records run
// statistics in a store.
type Client struct {
	store   storage.Store
	metrics engine.Observer
	log     zerolog.Logger

	mu          sync.Mutex
	initialized bool
}

type RunRequest struct {
	Config config.Simulation
	// Observer additionally receives every setup and iteration summary.
	Observer engine.Observer
}

type RunSummary struct {
	RunID      string
	Mode       string
	Cells      int
	Setup      engine.IterationSummary
	Iterations []engine.IterationSummary
	Global     demo.Global
	Duration   time.Duration
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID           string
	CreatedAtUTC    time.Time
	Cells           int
	Iterations      int
	Mode            string
	ThresholdMeters float64
	CellProcesses   []string
	GlobalProcesses []string
}

func NewClient(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	c := &Client{store: store, metrics: engine.NopObserver{}}
	if opts.Registerer != nil {
		collector, err := telemetry.NewCollector(opts.Registerer)
		if err != nil {
			_ = storage.CloseIfSupported(store)
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		c.metrics = collector
	}
	if opts.Logger != nil {
		c.log = *opts.Logger
	} else {
		c.log = logging.New("client")
	}
	return c, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Init prepares the store. Later calls are no-ops.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Run performs setup and the configured number of iterations, then records
// the run. A cancelled run still records the iterations that completed and
// returns ctx's error alongside the partial summary.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	cells, err := BuildCells(cfg)
	if err != nil {
		return RunSummary{}, err
	}
	cellProcs, err := buildCellProcesses(cfg.CellProcesses)
	if err != nil {
		return RunSummary{}, fmt.Errorf("cell_processes: %w", err)
	}
	globalProcs, err := buildGlobalProcesses(cfg.GlobalProcesses)
	if err != nil {
		return RunSummary{}, fmt.Errorf("global_processes: %w", err)
	}
	setupCellProcs, err := buildCellProcesses(cfg.SetupCellProcesses)
	if err != nil {
		return RunSummary{}, fmt.Errorf("setup_cell_processes: %w", err)
	}
	setupGlobalProcs, err := buildGlobalProcesses(cfg.SetupGlobalProcesses)
	if err != nil {
		return RunSummary{}, fmt.Errorf("setup_global_processes: %w", err)
	}

	var setup engine.IterationSummary
	observers := engine.Observers{
		c.metrics,
		engine.ObserverFunc(func(s engine.IterationSummary) {
			if s.Setup {
				setup = s
			}
		}),
	}
	if req.Observer != nil {
		observers = append(observers, req.Observer)
	}

	eng, err := engine.New(engineConfig(cfg), engine.Options[demo.Cell, demo.Global]{
		CellProcesses:   cellProcs,
		GlobalProcesses: globalProcs,
		Observer:        observers,
		Totals:          Totals,
		Logger:          &c.log,
	})
	if err != nil {
		return RunSummary{}, err
	}

	started := time.Now()
	state, err := eng.Setup(ctx, cells, demo.Global{}, engine.SetupOptions[demo.Cell, demo.Global]{
		CellProcesses:   setupCellProcs,
		GlobalProcesses: setupGlobalProcs,
		Randomize:       cfg.Randomize,
		Randomizer:      demo.Randomize,
		Seed:            cfg.Seed,
	})
	if err != nil {
		return RunSummary{}, fmt.Errorf("setup: %w", err)
	}
	state, summaries, runErr := eng.Run(ctx, state, cfg.Iterations)

	summary := RunSummary{
		RunID:      uuid.NewString(),
		Mode:       eng.Config().Mode(),
		Cells:      len(state.Cells),
		Setup:      setup,
		Iterations: summaries,
		Global:     state.Global,
		Duration:   time.Since(started),
	}
	if err := c.record(ctx, cfg, eng, summary); err != nil {
		return summary, err
	}
	c.log.Info().
		Str("run_id", summary.RunID).
		Str("mode", summary.Mode).
		Int("cells", summary.Cells).
		Int("iterations", len(summaries)).
		Dur("duration", summary.Duration).
		Msg("run complete")
	return summary, runErr
}

func (c *Client) record(ctx context.Context, cfg config.Simulation, eng *engine.Engine[demo.Cell, demo.Global], summary RunSummary) error {
	// The store is written even when ctx is cancelled so partial runs are kept.
	ctx = context.WithoutCancel(ctx)
	run := model.RunRecord{
		VersionedRecord:  storage.CurrentVersion(),
		ID:               summary.RunID,
		CreatedAtUTC:     time.Now().UTC(),
		Cells:            summary.Cells,
		Iterations:       len(summary.Iterations),
		UpdatePerProcess: cfg.UpdatePerProcess,
		ThresholdMeters:  cfg.ThresholdMeters,
		CellProcesses:    process.Names(eng.CellProcesses()),
		GlobalProcesses:  process.Names(eng.GlobalProcesses()),
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	records := make([]model.IterationRecord, 0, len(summary.Iterations))
	for _, s := range summary.Iterations {
		records = append(records, model.IterationRecord{
			VersionedRecord: storage.CurrentVersion(),
			Iteration:       s.Iteration,
			Cells:           s.Cells,
			Edges:           s.Edges,
			CellUpdates:     s.CellUpdates,
			GlobalUpdates:   s.GlobalUpdates,
			DroppedUpdates:  s.Dropped,
			Duration:        s.Duration,
			Totals:          s.Totals,
		})
	}
	if err := c.store.AppendIterations(ctx, run.ID, records); err != nil {
		return fmt.Errorf("save iterations: %w", err)
	}
	return nil
}

// Network derives the neighbour network of the configured initial cells.
func (c *Client) Network(_ context.Context, cfg config.Simulation) (model.Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cells, err := BuildCells(cfg)
	if err != nil {
		return nil, err
	}
	ecfg := engineConfig(cfg)
	ecfg.Network.Workers = ecfg.Workers
	deriver, err := network.NewDeriver[demo.Cell](ecfg.Network)
	if err != nil {
		return nil, err
	}
	return deriver.Derive(cells), nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, len(runs))
	for _, r := range runs {
		mode := "batch"
		if r.UpdatePerProcess {
			mode = "serial"
		}
		out = append(out, RunItem{
			RunID:           r.ID,
			CreatedAtUTC:    r.CreatedAtUTC,
			Cells:           r.Cells,
			Iterations:      r.Iterations,
			Mode:            mode,
			ThresholdMeters: r.ThresholdMeters,
			CellProcesses:   r.CellProcesses,
			GlobalProcesses: r.GlobalProcesses,
		})
	}
	return out, nil
}

var ErrRunNotFound = errors.New("run not found")

// Iterations returns the recorded iteration statistics of a run.
func (c *Client) Iterations(ctx context.Context, runID string) ([]model.IterationRecord, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if _, ok, err := c.store.GetRun(ctx, runID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	records, _, err := c.store.GetIterations(ctx, runID)
	return records, err
}

// BuildCells lays out the configured grid or explicit cell list.
func BuildCells(cfg config.Simulation) ([]demo.Cell, error) {
	if g := cfg.Grid; g != nil {
		origin := model.Position{Lon: g.OriginLon, Lat: g.OriginLat}
		return demo.Grid(g.Rows, g.Cols, origin, g.StepDegrees, g.Population), nil
	}
	if len(cfg.Cells) == 0 {
		return nil, errors.New("no cells configured")
	}
	cells := make([]demo.Cell, len(cfg.Cells))
	for i, spec := range cfg.Cells {
		cell := demo.NewCell(uint32(i), model.Position{Lon: spec.Lon, Lat: spec.Lat}, spec.Population)
		cell.ResidentialCapacity = spec.ResidentialCapacity
		cells[i] = cell
	}
	return cells, nil
}

// Totals reports the summed cell population and the global record's view
// of it.
func Totals(cells []demo.Cell, global demo.Global) map[string]float64 {
	return map[string]float64{
		"population":        floats.Sum(demo.Populations(cells)),
		"global_population": float64(global.Population),
	}
}

func engineConfig(cfg config.Simulation) engine.Config {
	return engine.Config{
		Network: network.Config{
			ThresholdMeters: cfg.ThresholdMeters,
			Index:           network.IndexKind(cfg.Index),
		},
		UpdatePerProcess: cfg.UpdatePerProcess,
		Workers:          cfg.Workers,
	}
}

var demoTables = script.Tables[demo.Cell, demo.Global]{Cell: demo.CellFields, Global: demo.GlobalFields}

func buildCellProcesses(specs []config.ProcessSpec) ([]demo.CellProcess, error) {
	out := make([]demo.CellProcess, 0, len(specs))
	for i, spec := range specs {
		id := uint32(i)
		if spec.Kind == config.ProcessLua {
			src, err := spec.LuaSource()
			if err != nil {
				return nil, err
			}
			p, err := script.CompileCellProcess(id, spec.Name, src, demoTables)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
			continue
		}
		p, err := demo.LookupCellProcess(id, spec.Name, demo.Params{Threshold: spec.Threshold})
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func buildGlobalProcesses(specs []config.ProcessSpec) ([]demo.GlobalProcess, error) {
	out := make([]demo.GlobalProcess, 0, len(specs))
	for i, spec := range specs {
		id := uint32(i)
		if spec.Kind == config.ProcessLua {
			src, err := spec.LuaSource()
			if err != nil {
				return nil, err
			}
			p, err := script.CompileGlobalProcess(id, spec.Name, src, demoTables)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
			continue
		}
		p, err := demo.LookupGlobalProcess(id, spec.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
