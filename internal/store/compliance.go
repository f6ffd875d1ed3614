package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AddTimeCard inserts a time card and returns its ID.
func (s *SQLiteStore) AddTimeCard(ctx context.Context, tc *TimeCard) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO time_cards (driver_id, work_date, clock_in, clock_out, vehicle_id) VALUES (?, ?, ?, ?, ?)`,
		tc.DriverID, tc.WorkDate, tc.ClockIn, tc.ClockOut, nullInt64(tc.VehicleID),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting time card: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting time card ID: %w", err)
	}
	tc.ID = id
	return id, nil
}

// FindTimeCard returns the driver's time card for date, or nil.
func (s *SQLiteStore) FindTimeCard(ctx context.Context, driverID int64, date string) (*TimeCard, error) {
	var tc TimeCard
	var vehicleID sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, driver_id, work_date, clock_in, clock_out, vehicle_id
		 FROM time_cards WHERE driver_id = ? AND work_date = ? ORDER BY id LIMIT 1`,
		driverID, date,
	).Scan(&tc.ID, &tc.DriverID, &tc.WorkDate, &tc.ClockIn, &tc.ClockOut, &vehicleID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding time card for driver %d on %s: %w", driverID, date, err)
	}
	tc.VehicleID = int64Ptr(vehicleID)
	return &tc, nil
}

// AddInspection inserts an inspection and returns its ID.
func (s *SQLiteStore) AddInspection(ctx context.Context, in *Inspection) (int64, error) {
	passed := 0
	if in.Passed {
		passed = 1
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inspections (driver_id, vehicle_id, inspection_date, inspection_type, passed, notes)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		in.DriverID, nullInt64(in.VehicleID), in.InspectionDate, in.InspectionType, passed, in.Notes,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting inspection: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting inspection ID: %w", err)
	}
	in.ID = id
	return id, nil
}

// FindInspections returns the driver's inspections on date. When vehicleID is
// set only that vehicle's inspections are returned.
func (s *SQLiteStore) FindInspections(ctx context.Context, driverID int64, date string, vehicleID *int64) ([]*Inspection, error) {
	query := `SELECT id, driver_id, vehicle_id, inspection_date, inspection_type, passed, notes
		 FROM inspections WHERE driver_id = ? AND inspection_date = ?`
	args := []interface{}{driverID, date}
	if vehicleID != nil {
		query += ` AND vehicle_id = ?`
		args = append(args, *vehicleID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("finding inspections for driver %d on %s: %w", driverID, date, err)
	}
	defer rows.Close()

	var out []*Inspection
	for rows.Next() {
		var in Inspection
		var vid sql.NullInt64
		var passed int
		if err := rows.Scan(&in.ID, &in.DriverID, &vid, &in.InspectionDate, &in.InspectionType, &passed, &in.Notes); err != nil {
			return nil, fmt.Errorf("scanning inspection: %w", err)
		}
		in.VehicleID = int64Ptr(vid)
		in.Passed = passed == 1
		out = append(out, &in)
	}
	return out, rows.Err()
}
