package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles and gradual rollout.
// New sync behaviors (auto-resolution, realtime webhooks) are risky to ship
// to everyone at once: a bad confidence heuristic silently rewrites calendars.
// Rollout percentages let a behavior soak on a fraction of owners first.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	ownerOverrides map[string]map[string]bool // ownerID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Owners are assigned based on hash of their ID
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	OwnerID string // schedule owner
	IsAdmin bool
}

// Predefined feature flag names.
const (
	// === Sync Features ===
	FeatureSyncAutoResolve   = "sync.auto_resolve"   // apply high-confidence resolutions automatically
	FeatureSyncRealtime      = "sync.realtime"       // webhook push channels instead of polling only
	FeatureSyncFullResync    = "sync.full_resync"    // allow owner-triggered full resync
	FeatureSyncPushRetries   = "sync.push_retries"   // queue failed pushes for retry
	FeatureSyncCycleMetrics  = "sync.cycle_metrics"  // record per-cycle metrics for health scoring
	FeatureScheduleRotations = "schedule.rotations"  // biweekly/odd/even/custom week rotations
	FeatureExportICS         = "export.ics"          // iCalendar export of materialized occurrences
	FeatureRemoteRRule       = "remote.rrule_expand" // expand RRULE recurrences from remote events
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:       make(map[string]*Feature),
		ownerOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureSyncAutoResolve] = &Feature{
		Name:           FeatureSyncAutoResolve,
		Description:    "Apply conflict resolutions above the confidence threshold automatically",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureSyncRealtime] = &Feature{
		Name:           FeatureSyncRealtime,
		Description:    "Webhook push channels for near-instant sync",
		Enabled:        true,
		RolloutPercent: 50, // Gradual rollout
	}

	ff.features[FeatureSyncFullResync] = &Feature{
		Name:           FeatureSyncFullResync,
		Description:    "Owner-triggered full resync",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureSyncPushRetries] = &Feature{
		Name:           FeatureSyncPushRetries,
		Description:    "Queue failed outbound pushes for retry",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureSyncCycleMetrics] = &Feature{
		Name:           FeatureSyncCycleMetrics,
		Description:    "Record per-cycle metrics for health scoring",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureScheduleRotations] = &Feature{
		Name:           FeatureScheduleRotations,
		Description:    "Week rotation patterns (biweekly, odd/even, custom)",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureExportICS] = &Feature{
		Name:           FeatureExportICS,
		Description:    "iCalendar export of materialized occurrences",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureRemoteRRule] = &Feature{
		Name:           FeatureRemoteRRule,
		Description:    "Expand RRULE recurrences from remote events",
		Enabled:        false, // Phase 2
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_SYNC_REALTIME=true
// Example: FEATURE_SYNC_AUTO_RESOLVE=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "sync.auto_resolve" -> "FEATURE_SYNC_AUTO_RESOLVE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check owner overrides first
	if ctx != nil && ctx.OwnerID != "" {
		if overrides, ok := ff.ownerOverrides[ctx.OwnerID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Admin users get all features
	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.OwnerID != "" {
		return ff.isInRollout(ctx.OwnerID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if an owner is in the rollout percentage.
// Uses consistent hashing so owners stay in their bucket.
func (ff *FeatureFlags) isInRollout(ownerID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(ownerID))
	hash := h.Sum32()

	bucket := int(hash % 100)
	return bucket < percent
}

// SetOwnerOverride sets a feature override for a specific owner.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetOwnerOverride(ownerID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.ownerOverrides[ownerID]; !ok {
		ff.ownerOverrides[ownerID] = make(map[string]bool)
	}
	ff.ownerOverrides[ownerID][featureName] = enabled
}

// ClearOwnerOverrides removes all overrides for an owner.
func (ff *FeatureFlags) ClearOwnerOverrides(ownerID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.ownerOverrides, ownerID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
