// Package store persists analysis results in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cwbudde/algo-tes/analysis"
	"github.com/cwbudde/algo-tes/stats/aggregate"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	created_at    TEXT NOT NULL,
	channel       TEXT NOT NULL,
	rshunt        REAL NOT NULL,
	rload         REAL,
	rload_err     REAL,
	rp            REAL,
	rp_err        REAL,
	rn            REAL,
	rn_err        REAL,
	rn_iv         REAL,
	rn_iv_err     REAL,
	squid_dc      REAL,
	squid_pole    REAL,
	squid_n       REAL,
	tload         REAL,
	tload_err     REAL,
	opt_res_idx   INTEGER,
	opt_res_bias  REAL,
	opt_res_frac  REAL,
	opt_res_value REAL,
	opt_tau_idx   INTEGER,
	opt_tau_bias  REAL,
	opt_tau_frac  REAL,
	opt_tau_value REAL
);

CREATE TABLE IF NOT EXISTS points (
	run_id      TEXT NOT NULL,
	idx         INTEGER NOT NULL,
	bias        REAL NOT NULL,
	region      TEXT NOT NULL,
	r0          REAL,
	r0_err      REAL,
	p0          REAL,
	p0_err      REAL,
	fit_state   TEXT,
	beta        REAL,
	loop_gain   REAL,
	inductance  REAL,
	tau0        REAL,
	tau_eff     REAL,
	tau_eff_err REAL,
	eres        REAL,
	eres_lower  REAL,
	eres_upper  REAL,
	error       TEXT,
	PRIMARY KEY (run_id, idx),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS bands (
	run_id     TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	component  TEXT NOT NULL,
	freqs_json TEXT NOT NULL,
	band_json  TEXT NOT NULL,
	PRIMARY KEY (run_id, idx, component),
	FOREIGN KEY (run_id, idx) REFERENCES points(run_id, idx)
);
`

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("store: run not found")

// Run is the summary row of one analysis. Values a run did not reach are
// NaN, and the optimum indices are -1.
type Run struct {
	ID        string
	CreatedAt time.Time
	Channel   string
	Rshunt    float64

	Rload, RloadErr float64
	Rp, RpErr       float64
	Rn, RnErr       float64
	RnIV, RnIVErr   float64

	SquidDC, SquidPole, SquidN float64
	Tload, TloadErr            float64

	Resolution analysis.OptimumPoint
	Tau        analysis.OptimumPoint
}

// Point is the stored result of one bias point.
type Point struct {
	Index  int
	Bias   float64
	Region string

	R0, R0Err float64
	P0, P0Err float64

	State      string // empty when the point was not fitted
	Beta       float64
	LoopGain   float64
	Inductance float64
	Tau0       float64
	TauEff     float64
	TauEffErr  float64

	EnergyRes      float64 // eV
	EnergyResLower float64
	EnergyResUpper float64

	Error string // first recorded point failure
}

// Store manages analysis runs in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveRun stores everything c holds in one transaction and returns the new
// run id. A partial context, as returned by a failed pipeline, is stored
// as far as it got.
func (s *Store) SaveRun(c *analysis.Context) (string, error) {
	if c == nil || c.Dataset == nil {
		return "", errors.New("store: context has no dataset")
	}
	run := runOf(c)
	run.ID = uuid.New().String()
	run.CreatedAt = time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, created_at, channel, rshunt, rload, rload_err, rp, rp_err,
			rn, rn_err, rn_iv, rn_iv_err, squid_dc, squid_pole, squid_n, tload, tload_err,
			opt_res_idx, opt_res_bias, opt_res_frac, opt_res_value,
			opt_tau_idx, opt_tau_bias, opt_tau_frac, opt_tau_value)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.Format(time.RFC3339Nano), run.Channel, run.Rshunt,
		nullable(run.Rload), nullable(run.RloadErr), nullable(run.Rp), nullable(run.RpErr),
		nullable(run.Rn), nullable(run.RnErr), nullable(run.RnIV), nullable(run.RnIVErr),
		nullable(run.SquidDC), nullable(run.SquidPole), nullable(run.SquidN), nullable(run.Tload), nullable(run.TloadErr),
		index(run.Resolution.Index), nullable(run.Resolution.Bias), nullable(run.Resolution.R0Fraction), nullable(run.Resolution.Value),
		index(run.Tau.Index), nullable(run.Tau.Bias), nullable(run.Tau.R0Fraction), nullable(run.Tau.Value),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, p := range pointsOf(c) {
		_, err = tx.Exec(
			`INSERT INTO points (run_id, idx, bias, region, r0, r0_err, p0, p0_err, fit_state,
				beta, loop_gain, inductance, tau0, tau_eff, tau_eff_err, eres, eres_lower, eres_upper, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, p.Index, p.Bias, p.Region, nullable(p.R0), nullable(p.R0Err), nullable(p.P0), nullable(p.P0Err), text(p.State),
			nullable(p.Beta), nullable(p.LoopGain), nullable(p.Inductance), nullable(p.Tau0), nullable(p.TauEff), nullable(p.TauEffErr),
			nullable(p.EnergyRes), nullable(p.EnergyResLower), nullable(p.EnergyResUpper), text(p.Error),
		)
		if err != nil {
			return "", fmt.Errorf("insert point %d: %w", p.Index, err)
		}
	}

	for idx, nm := range c.NoiseModel {
		freqs, err := json.Marshal(nm.Freqs)
		if err != nil {
			return "", fmt.Errorf("marshal freqs: %w", err)
		}
		for _, name := range analysis.Components {
			band, err := json.Marshal(bandJSON(nm.Components[name]))
			if err != nil {
				return "", fmt.Errorf("marshal band %s: %w", name, err)
			}
			_, err = tx.Exec(
				`INSERT INTO bands (run_id, idx, component, freqs_json, band_json) VALUES (?, ?, ?, ?, ?)`,
				run.ID, idx, name, string(freqs), string(band),
			)
			if err != nil {
				return "", fmt.Errorf("insert band %d/%s: %w", idx, name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return run.ID, nil
}

// GetRun loads the summary of a run.
func (s *Store) GetRun(id string) (Run, error) {
	row := s.db.QueryRow(
		`SELECT run_id, created_at, channel, rshunt, rload, rload_err, rp, rp_err,
			rn, rn_err, rn_iv, rn_iv_err, squid_dc, squid_pole, squid_n, tload, tload_err,
			opt_res_idx, opt_res_bias, opt_res_frac, opt_res_value,
			opt_tau_idx, opt_tau_bias, opt_tau_frac, opt_tau_value
		 FROM runs WHERE run_id = ?`, id)

	var (
		r       Run
		created string
		f       [19]sql.NullFloat64
		res     sql.NullInt64
		tau     sql.NullInt64
	)
	err := row.Scan(&r.ID, &created, &r.Channel, &r.Rshunt,
		&f[0], &f[1], &f[2], &f[3], &f[4], &f[5], &f[6], &f[7],
		&f[8], &f[9], &f[10], &f[11], &f[12],
		&res, &f[13], &f[14], &f[15],
		&tau, &f[16], &f[17], &f[18],
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Run{}, fmt.Errorf("parse created_at: %w", err)
	}

	r.Rload, r.RloadErr, r.Rp, r.RpErr = value(f[0]), value(f[1]), value(f[2]), value(f[3])
	r.Rn, r.RnErr, r.RnIV, r.RnIVErr = value(f[4]), value(f[5]), value(f[6]), value(f[7])
	r.SquidDC, r.SquidPole, r.SquidN = value(f[8]), value(f[9]), value(f[10])
	r.Tload, r.TloadErr = value(f[11]), value(f[12])
	r.Resolution = analysis.OptimumPoint{Index: unindex(res), Bias: value(f[13]), R0Fraction: value(f[14]), Value: value(f[15])}
	r.Tau = analysis.OptimumPoint{Index: unindex(tau), Bias: value(f[16]), R0Fraction: value(f[17]), Value: value(f[18])}
	return r, nil
}

// ListRuns returns the ids of all runs, newest first.
func (s *Store) ListRuns() ([]string, error) {
	rows, err := s.db.Query(`SELECT run_id FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Points returns the points of a run in sweep order.
func (s *Store) Points(runID string) ([]Point, error) {
	rows, err := s.db.Query(
		`SELECT idx, bias, region, r0, r0_err, p0, p0_err, fit_state,
			beta, loop_gain, inductance, tau0, tau_eff, tau_eff_err, eres, eres_lower, eres_upper, error
		 FROM points WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var (
			p          Point
			f          [13]sql.NullFloat64
			state, msg sql.NullString
		)
		err := rows.Scan(&p.Index, &p.Bias, &p.Region, &f[0], &f[1], &f[2], &f[3], &state,
			&f[4], &f[5], &f[6], &f[7], &f[8], &f[9], &f[10], &f[11], &f[12], &msg)
		if err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		p.R0, p.R0Err, p.P0, p.P0Err = value(f[0]), value(f[1]), value(f[2]), value(f[3])
		p.Beta, p.LoopGain, p.Inductance, p.Tau0 = value(f[4]), value(f[5]), value(f[6]), value(f[7])
		p.TauEff, p.TauEffErr = value(f[8]), value(f[9])
		p.EnergyRes, p.EnergyResLower, p.EnergyResUpper = value(f[10]), value(f[11]), value(f[12])
		p.State, p.Error = state.String, msg.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// Band loads one noise component of a point. ok is false when the point
// has no noise model in the run.
func (s *Store) Band(runID string, idx int, component string) (freqs []float64, b aggregate.Band, ok bool, err error) {
	var fj, bj string
	err = s.db.QueryRow(
		`SELECT freqs_json, band_json FROM bands WHERE run_id = ? AND idx = ? AND component = ?`,
		runID, idx, component,
	).Scan(&fj, &bj)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, aggregate.Band{}, false, nil
	}
	if err != nil {
		return nil, aggregate.Band{}, false, fmt.Errorf("scan band: %w", err)
	}
	if err := json.Unmarshal([]byte(fj), &freqs); err != nil {
		return nil, aggregate.Band{}, false, fmt.Errorf("unmarshal freqs: %w", err)
	}
	var stored storedBand
	if err := json.Unmarshal([]byte(bj), &stored); err != nil {
		return nil, aggregate.Band{}, false, fmt.Errorf("unmarshal band: %w", err)
	}
	return freqs, stored.band(), true, nil
}
