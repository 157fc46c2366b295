package models

import "time"

// RecordingReport is one row of the four-table join exposed to read-side
// collaborators (dashboard, vitals job).
type RecordingReport struct {
	RecordingEventID int64     `db:"recording_event_id"`
	PlantID          int64     `db:"plant_id"`
	Name             string    `db:"name"`
	Continent        string    `db:"continent"`
	Country          string    `db:"country"`
	FirstName        string    `db:"first_name"`
	LastName         string    `db:"last_name"`
	Email            string    `db:"email"`
	SoilMoisture     float64   `db:"soil_moisture"`
	Temperature      float64   `db:"temperature"`
	RecordingTaken   time.Time `db:"recording_taken"`
}
