package geo

type Kind string

const (
	Unsupported         Kind = "unsupported"
	PermissionDenied    Kind = "permission_denied"
	PositionUnavailable Kind = "position_unavailable"
	Timeout             Kind = "timeout"
)

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case Unsupported, PermissionDenied, PositionUnavailable, Timeout:
		return Kind(s), true
	default:
		return "", false
	}
}

// Failure is the typed outcome of a location request that produced no reading.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return string(f.Kind) + ": " + f.Err.Error()
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// Message is the text shown to the user.
func (f *Failure) Message() string {
	switch f.Kind {
	case Unsupported:
		return "Geolocation is not supported on this device."
	case PermissionDenied:
		return "Location permission denied. Please enable location access in your settings and try again."
	case Timeout:
		return "Getting your location timed out. Please try again."
	default:
		return "Your location is currently unavailable. Please try again."
	}
}

// NeedsSettings is true when only a settings change can fix the failure.
func (f *Failure) NeedsSettings() bool {
	return f.Kind == PermissionDenied
}
