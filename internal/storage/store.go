package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/kinsim/internal/config"
	"github.com/san-kum/kinsim/internal/dynamo"
)

const (
	metadataFile    = "metadata.json"
	scenarioFile    = "scenario.yaml"
	statesFile      = "states.csv"
	multipliersFile = "multipliers.csv"
	residualsFile   = "residuals.csv"
)

var ErrRunNotFound = errors.New("storage: run not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Scenario    string             `json:"scenario"`
	Timestamp   time.Time          `json:"timestamp"`
	Seed        int64              `json:"seed"`
	Dt          float64            `json:"dt"`
	Duration    float64            `json:"duration"`
	Integrator  string             `json:"integrator"`
	Controller  string             `json:"controller"`
	Alpha       float64            `json:"alpha"`
	Solver      string             `json:"solver"`
	Steps       int                `json:"steps"`
	EnergyDrift float64            `json:"energy_drift"`
	Errors      []string           `json:"errors,omitempty"`
	Metrics     map[string]float64 `json:"metrics"`
}

// NewMetadata describes a finished run of cfg. The id is left empty until
// the run is saved.
func NewMetadata(cfg *config.Config, result *dynamo.Result) RunMetadata {
	meta := RunMetadata{
		Scenario:    cfg.Name,
		Timestamp:   time.Now(),
		Seed:        cfg.Seed,
		Dt:          cfg.Dt,
		Duration:    cfg.Duration,
		Integrator:  cfg.Integrator,
		Controller:  cfg.Controller.Kind,
		Alpha:       cfg.Alpha,
		Solver:      cfg.Solver,
		Steps:       result.StepsTaken,
		EnergyDrift: result.EnergyDrift,
		Metrics:     result.Metrics,
	}
	for _, err := range result.Errors {
		meta.Errors = append(meta.Errors, err.Error())
	}
	return meta
}

// Save writes a run directory holding the metadata, the scenario that
// produced it and the recorded series. It returns the new run id.
func (s *Store) Save(cfg *config.Config, result *dynamo.Result) (string, error) {
	meta := NewMetadata(cfg, result)
	meta.ID = fmt.Sprintf("%s_%s", cfg.Name, uuid.NewString()[:8])
	runDir := filepath.Join(s.baseDir, meta.ID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := config.Save(filepath.Join(runDir, scenarioFile), cfg); err != nil {
		return "", err
	}

	rows := make([][]float64, len(result.States))
	for i, x := range result.States {
		rows[i] = append([]float64(nil), x...)
		if i < len(result.Controls) {
			rows[i] = append(rows[i], result.Controls[i]...)
		}
	}
	header := seriesHeader("x", len(firstOr(result.States)))
	if len(result.Controls) > 0 {
		header = append(header, seriesHeader("u", len(result.Controls[0]))[1:]...)
	}
	if err := writeSeries(filepath.Join(runDir, statesFile), header, result.Times, rows); err != nil {
		return "", err
	}

	if result.Multipliers != nil {
		header := seriesHeader("lambda", len(firstOr(result.Multipliers)))
		if err := writeSeries(filepath.Join(runDir, multipliersFile), header, result.Times, result.Multipliers); err != nil {
			return "", err
		}
	}
	if result.Residuals != nil {
		header := seriesHeader("phi", len(firstOr(result.Residuals)))
		if err := writeSeries(filepath.Join(runDir, residualsFile), header, result.Times, result.Residuals); err != nil {
			return "", err
		}
	}

	return meta.ID, nil
}

func firstOr[S ~[]E, E any](rows []S) S {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func seriesHeader(prefix string, n int) []string {
	header := []string{"time"}
	for i := 0; i < n; i++ {
		header = append(header, fmt.Sprintf("%s%d", prefix, i))
	}
	return header
}

// writeSeries writes one row per entry of rows. Rows without a matching
// time are dropped; rows shorter than the header are zero padded.
func writeSeries[S ~[]float64](path string, header []string, times []float64, rows []S) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for i, vals := range rows {
		if i >= len(times) {
			break
		}
		row := []string{strconv.FormatFloat(times[i], 'f', 6, 64)}
		for j := 0; j < len(header)-1; j++ {
			v := 0.0
			if j < len(vals) {
				v = vals[j]
			}
			row = append(row, strconv.FormatFloat(v, 'g', 10, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// List returns the saved runs, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadScenario returns the scenario a run was made from.
func (s *Store) LoadScenario(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.baseDir, runID, scenarioFile))
}

// LoadStates returns the state rows (x followed by u) and their times.
func (s *Store) LoadStates(runID string) ([][]float64, []float64, error) {
	return s.loadSeries(runID, statesFile)
}

func (s *Store) LoadMultipliers(runID string) ([][]float64, []float64, error) {
	return s.loadSeries(runID, multipliersFile)
}

func (s *Store) LoadResiduals(runID string) ([][]float64, []float64, error) {
	return s.loadSeries(runID, residualsFile)
}

func (s *Store) loadSeries(runID, name string) ([][]float64, []float64, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s/%s", ErrRunNotFound, runID, name)
		}
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}

	if len(records) < 2 {
		return [][]float64{}, []float64{}, nil
	}

	times := make([]float64, 0, len(records)-1)
	rows := make([][]float64, 0, len(records)-1)

	for _, record := range records[1:] {
		if len(record) == 0 {
			continue
		}
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			continue
		}

		row := make([]float64, 0, len(record)-1)
		for _, field := range record[1:] {
			val, err := strconv.ParseFloat(field, 64)
			if err != nil {
				continue
			}
			row = append(row, val)
		}
		times = append(times, t)
		rows = append(rows, row)
	}

	return rows, times, nil
}
