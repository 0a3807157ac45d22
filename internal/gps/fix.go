// Package gps defines the position model shared by the radio link and the
// peer registry, plus the source boundary real receivers sit behind.
package gps

// EpochOffset2000 converts RTC timestamps counted from 2000-01-01 to Unix
// seconds. Device RTCs that use the 2000 epoch add this before reporting.
const EpochOffset2000 int64 = 946684800

// Fix is a GPS snapshot with optional fields. A nil field means the
// receiver did not report it; merges never let a missing field erase a
// previously known one.
//
// Wire and file keys: lat, lon, sat, ut, alt, gh.
type Fix struct {
	Lat *float64 `json:"lat,omitempty"` // decimal degrees
	Lon *float64 `json:"lon,omitempty"` // decimal degrees
	Sat *int     `json:"sat,omitempty"` // satellites in view
	UT  *int64   `json:"ut,omitempty"`  // fix time, Unix seconds
	Alt *float64 `json:"alt,omitempty"` // meters
	GH  *string  `json:"gh,omitempty"`  // geohash
}

// Merge overlays newer onto f: only fields newer actually reports
// overwrite. Returns true if any field changed.
func (f *Fix) Merge(newer Fix) bool {
	changed := false
	if newer.Lat != nil && !eqF(f.Lat, newer.Lat) {
		f.Lat = ptr(*newer.Lat)
		changed = true
	}
	if newer.Lon != nil && !eqF(f.Lon, newer.Lon) {
		f.Lon = ptr(*newer.Lon)
		changed = true
	}
	if newer.Sat != nil && !eqI(f.Sat, newer.Sat) {
		f.Sat = ptr(*newer.Sat)
		changed = true
	}
	if newer.UT != nil && !eqI64(f.UT, newer.UT) {
		f.UT = ptr(*newer.UT)
		changed = true
	}
	if newer.Alt != nil && !eqF(f.Alt, newer.Alt) {
		f.Alt = ptr(*newer.Alt)
		changed = true
	}
	if newer.GH != nil && !eqS(f.GH, newer.GH) {
		f.GH = ptr(*newer.GH)
		changed = true
	}
	return changed
}

// Clone returns a deep copy; mutating the copy's fields never aliases f.
func (f Fix) Clone() Fix {
	out := Fix{}
	if f.Lat != nil {
		out.Lat = ptr(*f.Lat)
	}
	if f.Lon != nil {
		out.Lon = ptr(*f.Lon)
	}
	if f.Sat != nil {
		out.Sat = ptr(*f.Sat)
	}
	if f.UT != nil {
		out.UT = ptr(*f.UT)
	}
	if f.Alt != nil {
		out.Alt = ptr(*f.Alt)
	}
	if f.GH != nil {
		out.GH = ptr(*f.GH)
	}
	return out
}

// HasPosition reports whether both latitude and longitude are present.
func (f Fix) HasPosition() bool {
	return f.Lat != nil && f.Lon != nil
}

func ptr[T any](v T) *T { return &v }

func eqF(a, b *float64) bool {
	return a != nil && b != nil && *a == *b
}

func eqI(a, b *int) bool {
	return a != nil && b != nil && *a == *b
}

func eqI64(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

func eqS(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

// Float64, Int, Int64 and String build optional fields in one expression.
// Callers outside the package use these instead of taking addresses of
// temporaries.
func Float64(v float64) *float64 { return &v }
func Int(v int) *int             { return &v }
func Int64(v int64) *int64       { return &v }
func String(v string) *string    { return &v }
