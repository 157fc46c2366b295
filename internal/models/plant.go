package models

import (
	"strconv"
	"strings"
	"time"
)

// Layouts used by the plants API.
const (
	RecordingTakenLayout = "2006-01-02 15:04:05"
	LastWateredLayout    = time.RFC1123
)

// Measurement bounds. Both are exclusive: a reading exactly on a bound is
// physically implausible for these sensors and is rejected.
const (
	MinTemperature  = 0.0
	MaxTemperature  = 30.0
	MinSoilMoisture = 0.0
	MaxSoilMoisture = 100.0
)

// Botanist represents a plant caretaker. The natural key is the
// (first_name, last_name) pair; rows are never updated after insertion.
type Botanist struct {
	BotanistID  int64  `json:"botanist_id" db:"botanist_id"`
	FirstName   string `json:"first_name" db:"first_name"`
	LastName    string `json:"last_name" db:"last_name"`
	Email       string `json:"email" db:"email"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`
}

// OriginLocation represents where a plant species originates. The natural
// key is the (longitude, latitude) pair compared as float64.
type OriginLocation struct {
	OriginLocationID    int64   `json:"origin_location_id" db:"origin_location_id"`
	Longitude           float64 `json:"longitude" db:"longitude"`
	Latitude            float64 `json:"latitude" db:"latitude"`
	Town                string  `json:"town" db:"town"`
	Country             string  `json:"country" db:"country"`
	CountryAbbreviation string  `json:"country_abbreviation" db:"country_abbreviation"`
	Continent           string  `json:"continent" db:"continent"`
}

// Plant represents a monitored plant. The natural key is the name,
// compared case-sensitively. Optional attributes are NULL when absent.
type Plant struct {
	PlantID          int64   `json:"plant_id" db:"plant_id"`
	Name             string  `json:"name" db:"name"`
	ScientificName   *string `json:"scientific_name,omitempty" db:"scientific_name"`
	OriginLocationID int64   `json:"origin_location_id" db:"origin_location_id"`
	ImageURL         *string `json:"image_url,omitempty" db:"image_url"`
}

// PlantCandidate is a plant row before its origin location has been
// resolved: it still carries the coordinates used for the natural-key match.
type PlantCandidate struct {
	Name           string
	ScientificName *string
	ImageURL       *string
	Longitude      float64
	Latitude       float64
}

// RecordingEvent represents one sensor reading. There is no natural key:
// every successfully transformed reading becomes a new event row.
type RecordingEvent struct {
	RecordingEventID int64     `json:"recording_event_id" db:"recording_event_id"`
	PlantID          int64     `json:"plant_id" db:"plant_id"`
	BotanistID       int64     `json:"botanist_id" db:"botanist_id"`
	SoilMoisture     float64   `json:"soil_moisture" db:"soil_moisture"`
	Temperature      float64   `json:"temperature" db:"temperature"`
	RecordingTaken   time.Time `json:"recording_taken" db:"recording_taken"`
	LastWatered      time.Time `json:"last_watered" db:"last_watered"`
}

// Reading is one flat normalized row produced from a raw API record. It
// carries every field the four load phases need; surrogate identifiers are
// never carried through the pipeline, they are resolved at load time by
// natural-key lookup.
type Reading struct {
	SourceID            int
	Name                string
	ScientificName      *string
	ImageURL            *string
	Longitude           float64
	Latitude            float64
	Town                string
	Country             string
	CountryAbbreviation string
	Continent           string
	FirstName           string
	LastName            string
	Email               string
	PhoneNumber         string
	SoilMoisture        float64
	Temperature         float64
	RecordingTaken      time.Time
	LastWatered         time.Time
}

// Botanist returns the botanist candidate extracted from the reading.
func (r *Reading) Botanist() Botanist {
	return Botanist{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		Email:       r.Email,
		PhoneNumber: r.PhoneNumber,
	}
}

// Location returns the origin location candidate extracted from the reading.
func (r *Reading) Location() OriginLocation {
	return OriginLocation{
		Longitude:           r.Longitude,
		Latitude:            r.Latitude,
		Town:                r.Town,
		Country:             r.Country,
		CountryAbbreviation: r.CountryAbbreviation,
		Continent:           r.Continent,
	}
}

// PlantCandidate returns the plant candidate extracted from the reading.
func (r *Reading) PlantCandidate() PlantCandidate {
	return PlantCandidate{
		Name:           r.Name,
		ScientificName: r.ScientificName,
		ImageURL:       r.ImageURL,
		Longitude:      r.Longitude,
		Latitude:       r.Latitude,
	}
}

// InRange reports whether both measurements fall strictly inside the
// plausible bounds.
func (r *Reading) InRange() bool {
	return r.Temperature > MinTemperature && r.Temperature < MaxTemperature &&
		r.SoilMoisture > MinSoilMoisture && r.SoilMoisture < MaxSoilMoisture
}

// ValidationError represents a malformed raw record that must be dropped
// during normalization.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NormalizeRecord converts one raw API record into a flat typed Reading.
// A record missing any required substructure or field, or carrying an
// unparsable timestamp or non-numeric measurement, returns a
// ValidationError and is dropped by the caller.
func NormalizeRecord(raw map[string]interface{}) (*Reading, error) {
	reading := &Reading{}

	if id, ok := toFloat64(raw["plant_id"]); ok {
		reading.SourceID = int(id)
	}

	name, ok := raw["name"].(string)
	if !ok || name == "" {
		return nil, invalid("name", "missing plant name")
	}
	reading.Name = name

	if err := extractBotanist(raw, reading); err != nil {
		return nil, err
	}
	if err := extractLocation(raw, reading); err != nil {
		return nil, err
	}

	reading.ScientificName = extractScientificName(raw)
	reading.ImageURL = extractImageURL(raw)

	moisture, ok := toFloat64(raw["soil_moisture"])
	if !ok {
		return nil, invalid("soil_moisture", "missing or non-numeric value")
	}
	reading.SoilMoisture = moisture

	temperature, ok := toFloat64(raw["temperature"])
	if !ok {
		return nil, invalid("temperature", "missing or non-numeric value")
	}
	reading.Temperature = temperature

	taken, ok := raw["recording_taken"].(string)
	if !ok {
		return nil, invalid("recording_taken", "missing timestamp")
	}
	recordingTaken, err := time.Parse(RecordingTakenLayout, taken)
	if err != nil {
		return nil, invalid("recording_taken", "unparsable timestamp")
	}
	reading.RecordingTaken = recordingTaken

	watered, ok := raw["last_watered"].(string)
	if !ok {
		return nil, invalid("last_watered", "missing timestamp")
	}
	lastWatered, err := time.Parse(LastWateredLayout, watered)
	if err != nil {
		return nil, invalid("last_watered", "unparsable timestamp")
	}
	reading.LastWatered = lastWatered

	return reading, nil
}

// extractBotanist pulls the nested botanist object. The name is split on
// whitespace; a single-token name is malformed.
func extractBotanist(raw map[string]interface{}, reading *Reading) error {
	botanist, ok := raw["botanist"].(map[string]interface{})
	if !ok {
		return invalid("botanist", "missing botanist object")
	}

	name, ok := botanist["name"].(string)
	if !ok {
		return invalid("botanist.name", "missing name")
	}
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return invalid("botanist.name", "name must contain first and last name")
	}
	reading.FirstName = parts[0]
	reading.LastName = strings.Join(parts[1:], " ")

	email, ok := botanist["email"].(string)
	if !ok {
		return invalid("botanist.email", "missing email")
	}
	reading.Email = email

	phone, ok := botanist["phone"].(string)
	if !ok {
		return invalid("botanist.phone", "missing phone")
	}
	reading.PhoneNumber = phone

	return nil
}

// extractLocation pulls the 5-element origin array:
// [longitude, latitude, town, country_abbreviation, "<continent>/<country>"].
func extractLocation(raw map[string]interface{}, reading *Reading) error {
	origin, ok := raw["origin_location"].([]interface{})
	if !ok {
		return invalid("origin_location", "missing origin array")
	}
	if len(origin) != 5 {
		return invalid("origin_location", "origin array must have 5 elements")
	}

	longitude, ok := toFloat64(origin[0])
	if !ok {
		return invalid("origin_location.longitude", "non-numeric longitude")
	}
	latitude, ok := toFloat64(origin[1])
	if !ok {
		return invalid("origin_location.latitude", "non-numeric latitude")
	}
	town, ok := origin[2].(string)
	if !ok {
		return invalid("origin_location.town", "missing town")
	}
	abbreviation, ok := origin[3].(string)
	if !ok {
		return invalid("origin_location.country_abbreviation", "missing abbreviation")
	}
	region, ok := origin[4].(string)
	if !ok {
		return invalid("origin_location.region", "missing continent/country")
	}
	parts := strings.Split(region, "/")
	if len(parts) < 2 {
		return invalid("origin_location.region", "expected <continent>/<country>")
	}

	reading.Longitude = longitude
	reading.Latitude = latitude
	reading.Town = town
	reading.CountryAbbreviation = abbreviation
	reading.Continent = parts[0]
	reading.Country = parts[1]

	return nil
}

// extractScientificName takes the first element of the scientific_name
// array when present.
func extractScientificName(raw map[string]interface{}) *string {
	names, ok := raw["scientific_name"].([]interface{})
	if !ok || len(names) == 0 {
		return nil
	}
	name, ok := names[0].(string)
	if !ok {
		return nil
	}
	return &name
}

// extractImageURL takes images.original_url when the images object is present.
func extractImageURL(raw map[string]interface{}) *string {
	images, ok := raw["images"].(map[string]interface{})
	if !ok {
		return nil
	}
	url, ok := images["original_url"].(string)
	if !ok {
		return nil
	}
	return &url
}

// toFloat64 coerces the numeric representations the API is known to emit.
// JSON numbers decode as float64, but coordinates arrive as strings.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
