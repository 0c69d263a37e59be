package compdb

import (
	"database/sql"
	"fmt"
	"time"
)

// CompilationRecord is the stored result of the last successful compile
// of one source file.
type CompilationRecord struct {
	Path     string
	Command  string
	Output   string
	NSamples int
	AvgMS    int64
}

// InputRecord is one observed input (the source itself or an included
// header) of a produced output, with the input's modification time as it
// was when the output was built.
type InputRecord struct {
	OutputPath string
	InputPath  string
	MTime      time.Time
}

// minSample is the duration below which a compile sample is ignored when
// updating the running average, to dampen warm-file noise.
const minSample = 500 * time.Millisecond

// maxSamples bounds the divisor of the running average.
const maxSamples = 10

// RecordCompilation inserts or replaces the compilation record for
// source. The average duration update is bounded and exponential:
// samples under 500 ms leave the average untouched; otherwise
// n = min(10, n+1) and avg moves by (duration - avg)/n.
func (d *DB) RecordCompilation(source, command, output string, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fileID, err := d.fileID(source)
	if err != nil {
		return err
	}

	nSamples := 0
	var avgMS int64
	err = d.db.QueryRow(
		"SELECT n_samples, avg_ms FROM compilations WHERE file_id = ?", fileID,
	).Scan(&nSamples, &avgMS)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read prior compilation of %s: %w", source, err)
	}

	if duration >= minSample {
		if nSamples < maxSamples {
			nSamples++
		}
		avgMS += (duration.Milliseconds() - avgMS) / int64(nSamples)
	}

	_, err = d.db.Exec(`
		INSERT OR REPLACE INTO compilations (file_id, command, output, n_samples, avg_ms)
		VALUES (?, ?, ?, ?, ?)`,
		fileID, command, output, nSamples, avgMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record compilation of %s: %w", source, err)
	}
	return nil
}

// RecordInput inserts or replaces the (output, input) dependency edge
// with the input's observed modification time.
func (d *DB) RecordInput(output, input string, mtime time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	outID, err := d.fileID(output)
	if err != nil {
		return err
	}
	inID, err := d.fileID(input)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
		INSERT OR REPLACE INTO inputs (out_file_id, input_file_id, input_mtime)
		VALUES (?, ?, ?)`,
		outID, inID, mtime.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record input %s of %s: %w", input, output, err)
	}
	return nil
}

// ForgetInputs deletes every input record for output. Called before a
// fresh dependency set is recorded.
func (d *DB) ForgetInputs(output string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		DELETE FROM inputs WHERE out_file_id IN
		(SELECT file_id FROM files WHERE path = ?)`, output)
	if err != nil {
		return fmt.Errorf("failed to forget inputs of %s: %w", output, err)
	}
	return nil
}

// CommandOf returns the compilation record for source, or nil when the
// file has never been compiled.
func (d *DB) CommandOf(source string) (*CompilationRecord, error) {
	rec := CompilationRecord{Path: source}
	err := d.db.QueryRow(`
		SELECT c.command, c.output, c.n_samples, c.avg_ms
		FROM compilations c JOIN files f ON f.file_id = c.file_id
		WHERE f.path = ?`, source,
	).Scan(&rec.Command, &rec.Output, &rec.NSamples, &rec.AvgMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query compilation of %s: %w", source, err)
	}
	return &rec, nil
}

// InputsOf returns the recorded inputs of output, or nil when none are
// recorded.
func (d *DB) InputsOf(output string) ([]InputRecord, error) {
	rows, err := d.db.Query(`
		SELECT i.path, dep.input_mtime
		FROM inputs dep
		JOIN files o ON o.file_id = dep.out_file_id
		JOIN files i ON i.file_id = dep.input_file_id
		WHERE o.path = ?
		ORDER BY i.path`, output)
	if err != nil {
		return nil, fmt.Errorf("failed to query inputs of %s: %w", output, err)
	}
	defer rows.Close()

	var inputs []InputRecord
	for rows.Next() {
		rec := InputRecord{OutputPath: output}
		var nanos int64
		if err := rows.Scan(&rec.InputPath, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan input row: %w", err)
		}
		rec.MTime = time.Unix(0, nanos)
		inputs = append(inputs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inputs of %s: %w", output, err)
	}
	return inputs, nil
}

// fileID returns the files-table id for path, inserting it on first
// sight. Must be called with the write lock held.
func (d *DB) fileID(path string) (int64, error) {
	_, err := d.db.Exec("INSERT OR IGNORE INTO files (path) VALUES (?)", path)
	if err != nil {
		return 0, fmt.Errorf("failed to intern path %s: %w", path, err)
	}
	var id int64
	if err := d.db.QueryRow("SELECT file_id FROM files WHERE path = ?", path).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up path %s: %w", path, err)
	}
	return id, nil
}
