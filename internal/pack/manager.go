package pack

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

// Manager defaults.
const (
	DefaultTriggerRadiusKm = 10.0
	DefaultMinBattery      = 0.20
	DefaultBBoxBufferKm    = 2.0
	DefaultTTL             = 7 * 24 * time.Hour
	DefaultExpiryWarning   = 24 * time.Hour
)

// ManagerConfig holds configuration for the package manager.
type ManagerConfig struct {
	// TriggerRadiusKm is how close to a trailhead the device must be for
	// a proactive download. Default: 10.
	TriggerRadiusKm float64

	// MinNetwork is the weakest connectivity that still triggers a
	// download. Default: NetworkFair.
	MinNetwork NetworkStatus

	// MinBattery is the battery fraction a download must stay above.
	// Default: 0.20.
	MinBattery float64

	// DisableAutoDownload turns the proactive trigger off. Downloads
	// requested explicitly still run.
	DisableAutoDownload bool

	// BBoxBufferKm pads the trail extents when requesting a package.
	// Default: 2.
	BBoxBufferKm float64

	// TTL is how long a downloaded package stays fresh. Default: 7 days.
	TTL time.Duration

	// ExpiryWarning is how close to expiry a package counts as expiring
	// soon. Default: 24 hours.
	ExpiryWarning time.Duration

	// Logger for manager operations.
	Logger zerolog.Logger
}

// Manager coordinates trail package downloads and the two cache tiers: a
// session-lifetime memory map in front of device storage.
type Manager struct {
	config     ManagerConfig
	storage    Storage
	downloader Downloader
	logger     zerolog.Logger

	mu     sync.RWMutex
	memory map[string]*TrailPackage

	downloading atomic.Bool
}

// NewManager creates a package manager. Zero config fields fall back to the
// package defaults.
func NewManager(cfg ManagerConfig, storage Storage, downloader Downloader) *Manager {
	if cfg.TriggerRadiusKm == 0 {
		cfg.TriggerRadiusKm = DefaultTriggerRadiusKm
	}
	if cfg.MinNetwork == "" {
		cfg.MinNetwork = NetworkFair
	}
	if cfg.MinBattery == 0 {
		cfg.MinBattery = DefaultMinBattery
	}
	if cfg.BBoxBufferKm == 0 {
		cfg.BBoxBufferKm = DefaultBBoxBufferKm
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ExpiryWarning == 0 {
		cfg.ExpiryWarning = DefaultExpiryWarning
	}

	return &Manager{
		config:     cfg,
		storage:    storage,
		downloader: downloader,
		logger:     cfg.Logger.With().Str("component", "pack-manager").Logger(),
		memory:     make(map[string]*TrailPackage),
	}
}

// EvaluateTrigger decides whether conditions warrant a proactive package
// download. On rejection the reason names the first failing condition, in
// priority order: proximity, network, battery, auto-download flag.
func (m *Manager) EvaluateTrigger(pos, trailhead trail.GeoPoint, network NetworkStatus, battery float64) Decision {
	distanceKm := pos.DistanceTo(trailhead) / 1000
	d := Decision{DistanceKm: distanceKm}

	switch {
	case distanceKm >= m.config.TriggerRadiusKm:
		d.Reason = fmt.Sprintf("trailhead too far (%.1f km > %.1f km)", distanceKm, m.config.TriggerRadiusKm)
	case !network.AtLeast(m.config.MinNetwork):
		d.Reason = fmt.Sprintf("network too weak (%s < %s)", network, m.config.MinNetwork)
	case battery <= m.config.MinBattery:
		d.Reason = fmt.Sprintf("battery too low (%.0f%% <= %.0f%%)", battery*100, m.config.MinBattery*100)
	case m.config.DisableAutoDownload:
		d.Reason = "automatic download disabled"
	default:
		d.Download = true
		d.Reason = fmt.Sprintf("trailhead within range (%.1f km)", distanceKm)
	}

	return d
}

// DownloadAndCache downloads the package for a trail, validates it, stamps
// the cache window, and stores it in memory and device storage. Only one
// download may run at a time. A storage write failure is logged and the
// in-memory copy still serves the session.
func (m *Manager) DownloadAndCache(ctx context.Context, t *trail.TrailData) (*TrailPackage, error) {
	if t == nil || len(t.Segments) == 0 {
		return nil, fmt.Errorf("%w: no trail geometry", ErrPackageInvalid)
	}

	if !m.downloading.CompareAndSwap(false, true) {
		return nil, ErrDownloadInFlight
	}
	defer m.downloading.Store(false)

	bbox := ComputeBoundingBox(t, m.config.BBoxBufferKm)

	m.logger.Info().
		Str("trail_id", t.ID).
		Float64("bbox_buffer_km", m.config.BBoxBufferKm).
		Msg("downloading trail package")

	pkg, err := m.downloader.DownloadPackage(ctx, t.ID, bbox)
	if err != nil {
		return nil, fmt.Errorf("downloading package for trail %s: %w", t.ID, err)
	}

	warnings, err := Validate(pkg)
	if err != nil {
		return nil, fmt.Errorf("validating package for trail %s: %w", t.ID, err)
	}
	for _, w := range warnings {
		m.logger.Warn().
			Str("trail_id", t.ID).
			Str("warning", w).
			Msg("package payload incomplete")
	}

	now := time.Now()
	pkg.DownloadedAt = now
	pkg.ExpiresAt = now.Add(m.config.TTL)

	m.mu.Lock()
	m.memory[pkg.ID] = pkg
	m.mu.Unlock()

	if err := m.storage.Set(ctx, pkg); err != nil {
		m.logger.Warn().
			Err(err).
			Str("trail_id", t.ID).
			Msg("persisting package failed, keeping in-memory copy")
	}

	m.logger.Info().
		Str("trail_id", t.ID).
		Int64("size_bytes", pkg.SizeBytes).
		Time("expires_at", pkg.ExpiresAt).
		Msg("trail package cached")

	cpy := *pkg
	return &cpy, nil
}

// GetPackage returns the cached package for a trail, checking memory first
// and then storage. Expired packages are evicted from both tiers and
// reported as ErrPackageNotFound.
func (m *Manager) GetPackage(ctx context.Context, trailID string) (*TrailPackage, error) {
	now := time.Now()

	m.mu.RLock()
	pkg, ok := m.memory[trailID]
	m.mu.RUnlock()

	if ok {
		if pkg.Expired(now) {
			m.evict(ctx, trailID)
			return nil, ErrPackageNotFound
		}
		cpy := *pkg
		return &cpy, nil
	}

	pkg, err := m.storage.Get(ctx, trailID)
	if err != nil {
		return nil, err
	}

	if pkg.Expired(now) {
		m.evict(ctx, trailID)
		return nil, ErrPackageNotFound
	}

	m.mu.Lock()
	m.memory[trailID] = pkg
	m.mu.Unlock()

	cpy := *pkg
	return &cpy, nil
}

// ExpiresSoon reports whether the package is within the expiry warning
// window.
func (m *Manager) ExpiresSoon(p *TrailPackage) bool {
	if p == nil || p.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(p.ExpiresAt) <= m.config.ExpiryWarning
}

// RemovePackage removes a package from both cache tiers.
func (m *Manager) RemovePackage(ctx context.Context, trailID string) error {
	m.mu.Lock()
	delete(m.memory, trailID)
	m.mu.Unlock()

	return m.storage.Delete(ctx, trailID)
}

// CancelDownload aborts the in-flight download, if any.
func (m *Manager) CancelDownload() {
	m.downloader.Cancel()
}

// Progress reports the current download progress in [0, 1].
func (m *Manager) Progress() float64 {
	return m.downloader.Progress()
}

// StorageStats returns the used and total storage budget in bytes.
func (m *Manager) StorageStats(ctx context.Context) (used, quota int64, err error) {
	used, err = m.storage.StorageUsed(ctx)
	if err != nil {
		return 0, 0, err
	}
	quota, err = m.storage.StorageQuota(ctx)
	if err != nil {
		return 0, 0, err
	}
	return used, quota, nil
}

// evict drops an expired package from both cache tiers.
func (m *Manager) evict(ctx context.Context, trailID string) {
	m.mu.Lock()
	delete(m.memory, trailID)
	m.mu.Unlock()

	if err := m.storage.Delete(ctx, trailID); err != nil {
		m.logger.Warn().
			Err(err).
			Str("trail_id", trailID).
			Msg("evicting expired package from storage failed")
		return
	}

	m.logger.Info().
		Str("trail_id", trailID).
		Msg("expired package evicted")
}
