package database

import (
	"database/sql"
	"fmt"
)

// requireRowsAffected returns an error when an update or delete touched no
// rows
func requireRowsAffected(result sql.Result, msg string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%s", msg)
	}
	return nil
}
