package domain

// LocationReading is a single geolocation fix. Larger AccuracyMeters is worse.
type LocationReading struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy"`
}

type TokenSource string

const (
	TokenFromURL    TokenSource = "auto"
	TokenFromManual TokenSource = "manual"
)

// AttendanceReq is the body of POST /events/qr/attendance.
type AttendanceReq struct {
	Token     string  `json:"token"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

type AttendanceRes struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
