package licensing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lizamazieva41-ai/lili-sub002/internal/cache"
	"github.com/lizamazieva41-ai/lili-sub002/internal/database"
)

// LicenseStore is the persistence surface the service needs
type LicenseStore interface {
	GetUserByID(ctx context.Context, id string) (*database.User, error)
	CreateLicense(ctx context.Context, license *database.License) error
	GetLicenseByID(ctx context.Context, id string) (*database.License, error)
	GetActiveLicenseByUser(ctx context.Context, userID string) (*database.License, error)
	GetUserLicenses(ctx context.Context, userID string, includeInactive bool) ([]database.License, error)
	UpdateLicense(ctx context.Context, license *database.License) error
	MarkLicenseExpired(ctx context.Context, id string) (bool, error)
	UpdateLicenseUsage(ctx context.Context, id string, usage database.UsageMap) error
	InsertUsageLog(ctx context.Context, log *database.UsageLog) error
	GetRecentUsageLogs(ctx context.Context, licenseID string, limit int) ([]database.UsageLog, error)
}

// Cache is the read-through cache surface. Read errors degrade to store
// lookups; the service never fails a request because the cache is down.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Service manages the license lifecycle and the usage ledger
type Service struct {
	store  LicenseStore
	cache  Cache
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(store LicenseStore, cacheService Cache, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cacheService,
		logger: logger.With().Str("component", "licensing").Logger(),
		now:    time.Now,
	}
}

// CreateLicense provisions a license for a user. Plan defaults seed the
// feature and limit maps; per-key overrides in the input win over defaults.
// A user can hold at most one active license at a time.
func (s *Service) CreateLicense(ctx context.Context, input CreateLicenseInput) (*database.License, error) {
	user, err := s.store.GetUserByID(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("looking up user %s: %w", input.UserID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", input.UserID, ErrNotFound)
	}

	// CUSTOM licenses coexist with anything; every other plan is exclusive
	// with an existing active non-CUSTOM license.
	if input.Plan != database.PlanCustom {
		existing, err := s.store.GetActiveLicenseByUser(ctx, input.UserID)
		if err != nil {
			return nil, fmt.Errorf("checking existing license: %w", err)
		}
		if existing != nil && existing.Plan != database.PlanCustom {
			return nil, fmt.Errorf("user %s already has an active license: %w", input.UserID, ErrBusinessRule)
		}
	}

	planCfg := PlanConfiguration(input.Plan)
	for name, enabled := range input.Features {
		planCfg.Features[name] = enabled
	}
	for name, ceiling := range input.Limits {
		planCfg.Limits[name] = ceiling
	}

	now := s.now()
	expiresAt := input.ExpiresAt
	if expiresAt == nil {
		e := CalculateExpiry(input.BillingCycle, now)
		expiresAt = &e
	}

	status := database.StatusActive
	if !expiresAt.After(now) && (input.TrialEndsAt == nil || !input.TrialEndsAt.After(now)) {
		status = database.StatusExpired
	}

	license := &database.License{
		ID:              uuid.New().String(),
		UserID:          input.UserID,
		Plan:            input.Plan,
		Status:          status,
		BillingCycle:    input.BillingCycle,
		ExpiresAt:       expiresAt,
		TrialEndsAt:     input.TrialEndsAt,
		AutoRenew:       input.AutoRenew,
		Features:        planCfg.Features,
		Limits:          planCfg.Limits,
		Usage:           InitializeUsage(planCfg.Limits, now),
		PaymentMethodID: input.PaymentMethodID,
		LastBilledAt:    &now,
		NextBillingAt:   expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateLicense(ctx, license); err != nil {
		return nil, fmt.Errorf("creating license: %w", err)
	}

	s.recordLedger(ctx, UsageEvent{
		UserID:    license.UserID,
		LicenseID: license.ID,
		Action:    ActionLicenseCreated,
		Resource:  "license",
	})
	s.invalidateActiveLicense(ctx, license.UserID)

	s.logger.Info().
		Str("license_id", license.ID).
		Str("user_id", license.UserID).
		Str("plan", license.Plan).
		Msg("License created")

	return license, nil
}

// GetActiveLicense returns the user's active license, cache-first. A nil
// license with a nil error means the user has none.
func (s *Service) GetActiveLicense(ctx context.Context, userID string) (*database.License, error) {
	key := cache.ActiveLicenseKey(userID)

	var cached database.License
	if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	} else if !cache.IsMiss(err) {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("License cache read failed, falling back to store")
	}

	license, err := s.store.GetActiveLicenseByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading active license: %w", err)
	}
	if license == nil {
		return nil, nil
	}

	if err := s.cache.SetJSON(ctx, key, license, cache.LicenseTTL); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("License cache write failed")
	}

	return license, nil
}

// CheckLicense validates the user's active license and, optionally, that it
// carries a set of required features. A license whose expiry has passed is
// flipped to EXPIRED on the spot before the result is built.
func (s *Service) CheckLicense(ctx context.Context, userID string, requiredFeatures []string) (*LicenseCheckResult, error) {
	license, err := s.GetActiveLicense(ctx, userID)
	if err != nil {
		return nil, err
	}
	if license == nil {
		return &LicenseCheckResult{IsValid: false, Reason: "no active license"}, nil
	}

	if s.isExpired(license) {
		expired, err := s.store.MarkLicenseExpired(ctx, license.ID)
		if err != nil {
			return nil, fmt.Errorf("expiring license %s: %w", license.ID, err)
		}
		if expired {
			s.logger.Info().Str("license_id", license.ID).Str("user_id", userID).Msg("License expired lazily")
		}
		s.invalidateActiveLicense(ctx, userID)
		return &LicenseCheckResult{IsValid: false, License: license, Reason: "license expired"}, nil
	}

	var violations []Violation
	for _, name := range requiredFeatures {
		if !license.Features[name] {
			violations = append(violations, Violation{
				Type:        ViolationFeatureNotAvailable,
				Message:     fmt.Sprintf("Feature '%s' is not available on your plan", name),
				Requirement: name,
				Current:     license.Plan,
			})
		}
	}

	return &LicenseCheckResult{
		IsValid:    len(violations) == 0,
		License:    license,
		Features:   license.Features,
		Limits:     license.Limits,
		Usage:      license.Usage,
		Violations: violations,
	}, nil
}

// isExpired reports whether neither the paid term nor the trial still covers
// now. A license with no expiry at all never expires.
func (s *Service) isExpired(license *database.License) bool {
	now := s.now()
	if license.ExpiresAt != nil && license.ExpiresAt.After(now) {
		return false
	}
	if license.TrialEndsAt != nil && license.TrialEndsAt.After(now) {
		return false
	}
	return license.ExpiresAt != nil || license.TrialEndsAt != nil
}

// UpdateLicense applies a sparse patch to a license. Nil fields in the input
// leave the stored value untouched.
func (s *Service) UpdateLicense(ctx context.Context, licenseID string, input UpdateLicenseInput) (*database.License, error) {
	license, err := s.store.GetLicenseByID(ctx, licenseID)
	if err != nil {
		return nil, fmt.Errorf("loading license %s: %w", licenseID, err)
	}
	if license == nil {
		return nil, fmt.Errorf("license %s: %w", licenseID, ErrNotFound)
	}

	if input.Plan != nil {
		license.Plan = *input.Plan
	}
	if input.Status != nil {
		license.Status = *input.Status
	}
	if input.Features != nil {
		license.Features = input.Features
	}
	if input.Limits != nil {
		license.Limits = input.Limits
	}
	if input.ExpiresAt != nil {
		license.ExpiresAt = input.ExpiresAt
	}
	if input.TrialEndsAt != nil {
		license.TrialEndsAt = input.TrialEndsAt
	}
	if input.AutoRenew != nil {
		license.AutoRenew = *input.AutoRenew
	}
	if input.NextBillingAt != nil {
		license.NextBillingAt = input.NextBillingAt
	}
	if input.CancelledAt != nil {
		license.CancelledAt = input.CancelledAt
	}
	if input.CancellationReason != nil {
		license.CancellationReason = *input.CancellationReason
	}
	license.UpdatedAt = s.now()

	if err := s.store.UpdateLicense(ctx, license); err != nil {
		return nil, fmt.Errorf("updating license %s: %w", licenseID, err)
	}

	s.recordLedger(ctx, UsageEvent{
		UserID:    license.UserID,
		LicenseID: license.ID,
		Action:    ActionLicenseUpdated,
		Resource:  "license",
	})
	s.invalidateActiveLicense(ctx, license.UserID)

	return license, nil
}

// RenewLicense reactivates an expired or cancelled license for one more
// billing cycle, anchored at now. Renewing a license that is still active is
// a business rule violation; the term is extended at the next billing run,
// not by calling renew early.
func (s *Service) RenewLicense(ctx context.Context, licenseID, paymentMethodID string) (*database.License, error) {
	license, err := s.store.GetLicenseByID(ctx, licenseID)
	if err != nil {
		return nil, fmt.Errorf("loading license %s: %w", licenseID, err)
	}
	if license == nil {
		return nil, fmt.Errorf("license %s: %w", licenseID, ErrNotFound)
	}
	if license.Status != database.StatusExpired && license.Status != database.StatusCancelled {
		return nil, fmt.Errorf("license %s is still active: %w", licenseID, ErrBusinessRule)
	}

	now := s.now()
	newExpiry := CalculateExpiry(license.BillingCycle, now)

	license.Status = database.StatusActive
	license.ExpiresAt = &newExpiry
	license.LastBilledAt = &now
	license.NextBillingAt = &newExpiry
	license.CancelledAt = nil
	license.CancellationReason = ""
	if paymentMethodID != "" {
		license.PaymentMethodID = paymentMethodID
	}
	license.UpdatedAt = now

	if err := s.store.UpdateLicense(ctx, license); err != nil {
		return nil, fmt.Errorf("renewing license %s: %w", licenseID, err)
	}

	s.recordLedger(ctx, UsageEvent{
		UserID:    license.UserID,
		LicenseID: license.ID,
		Action:    ActionLicenseRenewed,
		Resource:  "license",
	})
	s.invalidateActiveLicense(ctx, license.UserID)

	s.logger.Info().
		Str("license_id", license.ID).
		Time("expires_at", newExpiry).
		Msg("License renewed")

	return license, nil
}

// CancelLicense cancels a license on behalf of its owner. The license stays
// queryable with its cancellation metadata; it just stops validating.
func (s *Service) CancelLicense(ctx context.Context, licenseID, userID, reason string) (*database.License, error) {
	license, err := s.store.GetLicenseByID(ctx, licenseID)
	if err != nil {
		return nil, fmt.Errorf("loading license %s: %w", licenseID, err)
	}
	if license == nil {
		return nil, fmt.Errorf("license %s: %w", licenseID, ErrNotFound)
	}
	if license.UserID != userID {
		return nil, fmt.Errorf("license %s does not belong to user %s: %w", licenseID, userID, ErrUnauthorized)
	}
	if license.Status == database.StatusCancelled {
		return nil, fmt.Errorf("license %s is already cancelled: %w", licenseID, ErrBusinessRule)
	}

	now := s.now()
	license.Status = database.StatusCancelled
	license.CancelledAt = &now
	license.CancellationReason = reason
	license.AutoRenew = false
	license.UpdatedAt = now

	if err := s.store.UpdateLicense(ctx, license); err != nil {
		return nil, fmt.Errorf("cancelling license %s: %w", licenseID, err)
	}

	s.recordLedger(ctx, UsageEvent{
		UserID:    license.UserID,
		LicenseID: license.ID,
		Action:    ActionLicenseCancelled,
		Resource:  "license",
	})
	s.invalidateActiveLicense(ctx, license.UserID)

	s.logger.Info().
		Str("license_id", license.ID).
		Str("reason", reason).
		Msg("License cancelled")

	return license, nil
}

// GetLicense returns a license by ID, or nil when it does not exist
func (s *Service) GetLicense(ctx context.Context, licenseID string) (*database.License, error) {
	return s.store.GetLicenseByID(ctx, licenseID)
}

// GetUserLicenses lists a user's licenses, newest first
func (s *Service) GetUserLicenses(ctx context.Context, userID string, includeInactive bool) ([]database.License, error) {
	return s.store.GetUserLicenses(ctx, userID, includeInactive)
}

// GetUser returns a user by ID, or nil when it does not exist
func (s *Service) GetUser(ctx context.Context, userID string) (*database.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

// GetRecentUsage lists the newest ledger entries for a license
func (s *Service) GetRecentUsage(ctx context.Context, licenseID string, limit int) ([]database.UsageLog, error) {
	return s.store.GetRecentUsageLogs(ctx, licenseID, limit)
}

// Counter bumped in the license usage document per ledger action. Actions
// outside the table only append to the ledger.
var actionCounters = map[string]string{
	ActionMessageSent:    "messages_today",
	ActionApiCall:        "api_calls_current_hour",
	ActionAccountCreated: "accounts",
}

// counterResetAt returns the window boundary for a counter key, or nil for
// monotonic counters
func counterResetAt(key string, now time.Time) *time.Time {
	switch key {
	case "messages_today":
		t := NextMidnight(now)
		return &t
	case "api_calls_current_hour":
		t := NextHourBoundary(now)
		return &t
	default:
		return nil
	}
}

// RecordUsage appends an event to the ledger and, for metered actions, bumps
// the matching counter in the license usage document. A windowed counter
// whose boundary has passed resets to zero before the bump.
func (s *Service) RecordUsage(ctx context.Context, event UsageEvent) error {
	now := s.now()

	log := &database.UsageLog{
		ID:        uuid.New().String(),
		UserID:    event.UserID,
		LicenseID: event.LicenseID,
		ApiKeyID:  event.ApiKeyID,
		Action:    event.Action,
		Resource:  event.Resource,
		Metadata:  event.Metadata,
		Cost:      event.Cost,
		CreatedAt: now,
	}
	if err := s.store.InsertUsageLog(ctx, log); err != nil {
		return fmt.Errorf("appending usage log: %w", err)
	}

	counterKey, metered := actionCounters[event.Action]
	if !metered || event.LicenseID == "" {
		return nil
	}

	license, err := s.store.GetLicenseByID(ctx, event.LicenseID)
	if err != nil {
		return fmt.Errorf("loading license %s: %w", event.LicenseID, err)
	}
	if license == nil {
		return fmt.Errorf("license %s: %w", event.LicenseID, ErrNotFound)
	}

	usage := license.Usage
	if usage == nil {
		usage = database.UsageMap{}
	}

	counter := usage[counterKey]
	if counter.ResetAt != nil && !counter.ResetAt.After(now) {
		counter.Value = 0
		counter.ResetAt = counterResetAt(counterKey, now)
	}
	if counter.Value == 0 && counter.ResetAt == nil {
		counter.ResetAt = counterResetAt(counterKey, now)
	}
	counter.Value++
	usage[counterKey] = counter

	if err := s.store.UpdateLicenseUsage(ctx, event.LicenseID, usage); err != nil {
		return fmt.Errorf("updating usage for license %s: %w", event.LicenseID, err)
	}
	s.invalidateActiveLicense(ctx, license.UserID)

	return nil
}

// recordLedger appends an audit event. Ledger failures never fail the
// mutation they describe; they are logged and dropped.
func (s *Service) recordLedger(ctx context.Context, event UsageEvent) {
	log := &database.UsageLog{
		ID:        uuid.New().String(),
		UserID:    event.UserID,
		LicenseID: event.LicenseID,
		ApiKeyID:  event.ApiKeyID,
		Action:    event.Action,
		Resource:  event.Resource,
		Metadata:  event.Metadata,
		Cost:      event.Cost,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertUsageLog(ctx, log); err != nil {
		s.logger.Error().Err(err).
			Str("action", event.Action).
			Str("license_id", event.LicenseID).
			Msg("Failed to append usage log")
	}
}

// invalidateActiveLicense drops the cached active license so the next read
// sees the store. A failed delete is loud: a stale entry can keep serving a
// revoked or renewed license for up to a full TTL.
func (s *Service) invalidateActiveLicense(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, cache.ActiveLicenseKey(userID)); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to invalidate cached license")
	}
}
