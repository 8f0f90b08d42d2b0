// Package viewstate holds the session view state that survives reloads:
// active map, camera center and zoom, and the global feature opacity.
//
// Every setter writes through to the backing store before returning. The
// in-memory value is updated first, so a failed write never leaves the
// session showing something other than what the user asked for; the error
// is returned for the caller to log.
package viewstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/joeblew999/geoview/internal/store"
)

// Persisted keys.
const (
	KeyActiveMap = "activeMapId"
	KeyCenterLat = "centerLat"
	KeyCenterLng = "centerLng"
	KeyZoom      = "zoomLevel"
	KeyOpacity   = "opacityLevel"
)

// DefaultOpacity is used when no opacity has been persisted yet.
const DefaultOpacity = 0.75

// ViewState is the persisted view of a session.
type ViewState struct {
	ActiveMapID  string  `json:"activeMapId"`
	CenterLat    float64 `json:"centerLat"`
	CenterLng    float64 `json:"centerLng"`
	ZoomLevel    float64 `json:"zoomLevel"`
	OpacityLevel float64 `json:"opacityLevel"`
	// HasCamera is false until a center and zoom were read or written.
	HasCamera bool `json:"-"`
}

// Persisted is the typed, write-through view state of one session.
type Persisted struct {
	store     store.Store
	state     ViewState
	hasCenter bool
	hasZoom   bool
}

// Load reads every key from s. Missing keys keep the value from defaults;
// unparsable values are reported together but do not prevent loading.
func Load(ctx context.Context, s store.Store, defaults ViewState) (*Persisted, error) {
	p := &Persisted{store: s, state: defaults}
	if p.state.OpacityLevel == 0 {
		p.state.OpacityLevel = DefaultOpacity
	}

	var errs []error
	if v, err := s.Get(ctx, KeyActiveMap); err == nil {
		p.state.ActiveMapID = v
	} else if !errors.Is(err, store.ErrNotFound) {
		errs = append(errs, fmt.Errorf("read %s: %w", KeyActiveMap, err))
	}

	lat, okLat, err := readFloat(ctx, s, KeyCenterLat)
	errs = append(errs, err)
	lng, okLng, err := readFloat(ctx, s, KeyCenterLng)
	errs = append(errs, err)
	zoom, okZoom, err := readFloat(ctx, s, KeyZoom)
	errs = append(errs, err)
	if okLat && okLng && okZoom {
		p.state.CenterLat, p.state.CenterLng, p.state.ZoomLevel = lat, lng, zoom
		p.state.HasCamera = true
		p.hasCenter, p.hasZoom = true, true
	}

	if o, ok, err := readFloat(ctx, s, KeyOpacity); ok {
		p.state.OpacityLevel = ClampOpacity(o)
	} else {
		errs = append(errs, err)
	}

	return p, errors.Join(errs...)
}

// State returns a copy of the current view state.
func (p *Persisted) State() ViewState {
	return p.state
}

// SetActiveMap records the active map id.
func (p *Persisted) SetActiveMap(ctx context.Context, id string) error {
	p.state.ActiveMapID = id
	return p.store.Set(ctx, KeyActiveMap, id)
}

// SetCenter records the map center.
func (p *Persisted) SetCenter(ctx context.Context, lat, lng float64) error {
	p.state.CenterLat, p.state.CenterLng = lat, lng
	p.hasCenter = true
	p.state.HasCamera = p.hasZoom
	return errors.Join(
		p.store.Set(ctx, KeyCenterLat, formatFloat(lat)),
		p.store.Set(ctx, KeyCenterLng, formatFloat(lng)),
	)
}

// SetZoom records the zoom level.
func (p *Persisted) SetZoom(ctx context.Context, zoom float64) error {
	p.state.ZoomLevel = zoom
	p.hasZoom = true
	p.state.HasCamera = p.hasCenter
	return p.store.Set(ctx, KeyZoom, formatFloat(zoom))
}

// SetOpacity records the global opacity, clamped to [0,1].
func (p *Persisted) SetOpacity(ctx context.Context, level float64) error {
	p.state.OpacityLevel = ClampOpacity(level)
	return p.store.Set(ctx, KeyOpacity, formatFloat(p.state.OpacityLevel))
}

// ClampOpacity bounds level to [0,1].
func ClampOpacity(level float64) float64 {
	switch {
	case level != level: // NaN
		return DefaultOpacity
	case level < 0:
		return 0
	case level > 1:
		return 1
	}
	return level
}

func readFloat(ctx context.Context, s store.Store, key string) (float64, bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read %s: %w", key, err)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, true, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
