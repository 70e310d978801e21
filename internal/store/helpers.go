package store

import (
	"database/sql"

	"github.com/zapdesk/zapdesk/internal/models"
)

// scanTrainingExample scans a TrainingExample from sql.Rows.
func scanTrainingExample(rows *sql.Rows) (models.TrainingExample, error) {
	var ex models.TrainingExample
	err := rows.Scan(&ex.ID, &ex.Input, &ex.Output, &ex.Confidence, &ex.UsageCount, &ex.Approved, &ex.CreatedAt)
	return ex, err
}

// scanUserContext collects field/value rows into a map.
func scanUserContext(rows *sql.Rows) (map[string]string, error) {
	fields := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		fields[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return fields, nil
}

// checkAffected maps a zero-row update/delete to ErrNotFound.
func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
