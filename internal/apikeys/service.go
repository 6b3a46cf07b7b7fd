// Package apikeys issues and validates license-scoped bearer keys. The
// plaintext key exists only in the creation and regeneration responses;
// everything else works off the stored SHA-256 digest.
package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lizamazieva41-ai/lili-sub002/internal/cache"
	"github.com/lizamazieva41-ai/lili-sub002/internal/database"
	"github.com/lizamazieva41-ai/lili-sub002/internal/licensing"
)

// Active-key quota per plan. Unknown plans get BASIC's quota.
var maxKeysForPlan = map[string]int{
	database.PlanBasic:      1,
	database.PlanPremium:    3,
	database.PlanEnterprise: 10,
	database.PlanCustom:     50,
}

// Default daily usage ceiling per plan. Unknown plans get BASIC's ceiling.
var defaultUsageLimit = map[string]int64{
	database.PlanBasic:      1000,
	database.PlanPremium:    10000,
	database.PlanEnterprise: 100000,
	database.PlanCustom:     1000000,
}

// MaxKeysForPlan returns how many active keys a plan may hold at once
func MaxKeysForPlan(plan string) int {
	if n, ok := maxKeysForPlan[plan]; ok {
		return n
	}
	return maxKeysForPlan[database.PlanBasic]
}

// DefaultUsageLimit returns the default daily request ceiling for a plan
func DefaultUsageLimit(plan string) int64 {
	if n, ok := defaultUsageLimit[plan]; ok {
		return n
	}
	return defaultUsageLimit[database.PlanBasic]
}

// KeyStore is the persistence surface the manager needs
type KeyStore interface {
	GetLicenseByID(ctx context.Context, id string) (*database.License, error)
	CreateApiKey(ctx context.Context, key *database.ApiKey) error
	GetApiKeyByID(ctx context.Context, id string) (*database.ApiKey, error)
	GetApiKeyByHash(ctx context.Context, keyHash string) (*database.ApiKey, error)
	GetLicenseApiKeys(ctx context.Context, licenseID string, includeInactive bool) ([]database.ApiKey, error)
	CountActiveApiKeys(ctx context.Context, licenseID string) (int, error)
	UpdateApiKey(ctx context.Context, key *database.ApiKey) error
	IncrementApiKeyUsage(ctx context.Context, id string) error
	DeleteApiKey(ctx context.Context, id string) error
	InsertUsageLog(ctx context.Context, log *database.UsageLog) error
}

// Cache is the cache surface for per-key metadata
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CreateKeyInput carries the fields for key issuance
type CreateKeyInput struct {
	LicenseID   string
	Name        string
	Permissions database.KeyPermissions
	RateLimit   *database.KeyRateLimit
	UsageLimit  int64
	ExpiresAt   *time.Time
}

// CreatedKey pairs the stored record with the one-time plaintext
type CreatedKey struct {
	ApiKey    *database.ApiKey `json:"apiKey"`
	Plaintext string           `json:"key"`
}

// UpdateKeyInput is a sparse patch; nil fields are left untouched
type UpdateKeyInput struct {
	Name        *string
	Permissions *database.KeyPermissions
	RateLimit   *database.KeyRateLimit
	UsageLimit  *int64
	IsActive    *bool
	ExpiresAt   *time.Time
}

// ValidationResult is the outcome of ValidateApiKey. Existence, active,
// license, and expiry failures carry only a reason; the usage stage carries
// violations.
type ValidationResult struct {
	IsValid     bool                    `json:"isValid"`
	ApiKey      *database.ApiKey        `json:"apiKey,omitempty"`
	License     *database.License       `json:"license,omitempty"`
	Permissions database.KeyPermissions `json:"permissions"`
	RateLimit   database.KeyRateLimit   `json:"rateLimit"`
	Violations  []licensing.Violation   `json:"violations,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
}

// Service issues, validates, and revokes API keys
type Service struct {
	store     KeyStore
	cache     Cache
	enforcer  *UsageEnforcer
	logger    zerolog.Logger
	keyPrefix string
	now       func() time.Time
}

func NewService(store KeyStore, cacheService Cache, enforcer *UsageEnforcer, keyPrefix string, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		cache:     cacheService,
		enforcer:  enforcer,
		logger:    logger.With().Str("component", "apikeys").Logger(),
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

// generateKey returns the plaintext bearer token and its stored digest
func (s *Service) generateKey() (plaintext, digest string, err error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generating key material: %w", err)
	}
	plaintext = s.keyPrefix + hex.EncodeToString(raw)
	return plaintext, HashKey(plaintext), nil
}

// HashKey returns the SHA-256 hex digest stored and queried for a key
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// CreateApiKey issues a new key under a license. The plaintext in the
// response is the only time it is ever visible.
func (s *Service) CreateApiKey(ctx context.Context, input CreateKeyInput) (*CreatedKey, error) {
	license, err := s.store.GetLicenseByID(ctx, input.LicenseID)
	if err != nil {
		return nil, fmt.Errorf("loading license %s: %w", input.LicenseID, err)
	}
	if license == nil {
		return nil, fmt.Errorf("license %s: %w", input.LicenseID, licensing.ErrNotFound)
	}
	if license.Status != database.StatusActive {
		return nil, fmt.Errorf("license %s is not active: %w", input.LicenseID, licensing.ErrBusinessRule)
	}

	activeKeys, err := s.store.CountActiveApiKeys(ctx, input.LicenseID)
	if err != nil {
		return nil, fmt.Errorf("counting active keys: %w", err)
	}
	if maxKeys := MaxKeysForPlan(license.Plan); activeKeys >= maxKeys {
		return nil, fmt.Errorf("plan %s allows at most %d active keys: %w", license.Plan, maxKeys, licensing.ErrBusinessRule)
	}

	plaintext, digest, err := s.generateKey()
	if err != nil {
		return nil, err
	}

	usageLimit := input.UsageLimit
	if usageLimit <= 0 {
		usageLimit = DefaultUsageLimit(license.Plan)
	}
	var rateLimit database.KeyRateLimit
	if input.RateLimit != nil {
		rateLimit = *input.RateLimit
	}

	now := s.now()
	key := &database.ApiKey{
		ID:          uuid.New().String(),
		LicenseID:   input.LicenseID,
		Name:        input.Name,
		KeyHash:     digest,
		Permissions: input.Permissions,
		RateLimit:   rateLimit,
		UsageLimit:  usageLimit,
		UsagePeriod: "daily",
		IsActive:    true,
		ExpiresAt:   input.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateApiKey(ctx, key); err != nil {
		return nil, fmt.Errorf("creating API key: %w", err)
	}

	if err := s.cache.SetJSON(ctx, cache.ApiKeyKey(key.ID), key, cache.ApiKeyTTL); err != nil {
		s.logger.Warn().Err(err).Str("key_id", key.ID).Msg("API key cache write failed")
	}
	s.recordLedger(ctx, license, key.ID, licensing.ActionApiKeyCreated, nil)

	s.logger.Info().
		Str("key_id", key.ID).
		Str("license_id", key.LicenseID).
		Str("name", key.Name).
		Msg("API key created")

	return &CreatedKey{ApiKey: key, Plaintext: plaintext}, nil
}

// GetApiKey returns a key by ID, cache-first. Nil with a nil error means
// the key does not exist.
func (s *Service) GetApiKey(ctx context.Context, id string) (*database.ApiKey, error) {
	cacheKey := cache.ApiKeyKey(id)

	var cached database.ApiKey
	if err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
		return &cached, nil
	} else if !cache.IsMiss(err) {
		s.logger.Warn().Err(err).Str("key_id", id).Msg("API key cache read failed, falling back to store")
	}

	key, err := s.store.GetApiKeyByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading API key %s: %w", id, err)
	}
	if key == nil {
		return nil, nil
	}

	if err := s.cache.SetJSON(ctx, cacheKey, key, cache.ApiKeyTTL); err != nil {
		s.logger.Warn().Err(err).Str("key_id", id).Msg("API key cache write failed")
	}
	return key, nil
}

// ListLicenseKeys lists the keys issued under a license
func (s *Service) ListLicenseKeys(ctx context.Context, licenseID string, includeInactive bool) ([]database.ApiKey, error) {
	return s.store.GetLicenseApiKeys(ctx, licenseID, includeInactive)
}

// ValidateApiKey authenticates a plaintext key and enforces its usage and
// rate limits. The lookup goes straight to the store by digest, so a
// revocation is visible to the very next validation. On success the usage
// counter is bumped atomically in the store and the call is ledgered.
func (s *Service) ValidateApiKey(ctx context.Context, plaintext string) (*ValidationResult, error) {
	key, err := s.store.GetApiKeyByHash(ctx, HashKey(plaintext))
	if err != nil {
		return nil, fmt.Errorf("looking up API key: %w", err)
	}
	if key == nil {
		return &ValidationResult{IsValid: false, Reason: "invalid API key"}, nil
	}
	if !key.IsActive {
		return &ValidationResult{IsValid: false, Reason: "API key is revoked"}, nil
	}

	license, err := s.store.GetLicenseByID(ctx, key.LicenseID)
	if err != nil {
		return nil, fmt.Errorf("loading license %s: %w", key.LicenseID, err)
	}
	if license == nil || license.Status != database.StatusActive {
		return &ValidationResult{IsValid: false, Reason: "license is not active"}, nil
	}

	if key.ExpiresAt != nil && !key.ExpiresAt.After(s.now()) {
		return &ValidationResult{IsValid: false, Reason: "API key expired"}, nil
	}

	violations, err := s.enforcer.CheckUsageLimits(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return &ValidationResult{
			IsValid:    false,
			ApiKey:     key,
			License:    license,
			Violations: violations,
			Reason:     "usage limit exceeded",
		}, nil
	}

	if err := s.store.IncrementApiKeyUsage(ctx, key.ID); err != nil {
		return nil, fmt.Errorf("incrementing usage for key %s: %w", key.ID, err)
	}
	s.recordLedger(ctx, license, key.ID, licensing.ActionApiKeyUsed, nil)

	return &ValidationResult{
		IsValid:     true,
		ApiKey:      key,
		License:     license,
		Permissions: key.Permissions,
		RateLimit:   key.RateLimit,
	}, nil
}

// UpdateApiKey applies a sparse patch to a key
func (s *Service) UpdateApiKey(ctx context.Context, id string, input UpdateKeyInput) (*database.ApiKey, error) {
	key, err := s.store.GetApiKeyByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading API key %s: %w", id, err)
	}
	if key == nil {
		return nil, fmt.Errorf("API key %s: %w", id, licensing.ErrNotFound)
	}

	if input.Name != nil {
		key.Name = *input.Name
	}
	if input.Permissions != nil {
		key.Permissions = *input.Permissions
	}
	if input.RateLimit != nil {
		key.RateLimit = *input.RateLimit
	}
	if input.UsageLimit != nil {
		key.UsageLimit = *input.UsageLimit
	}
	if input.IsActive != nil {
		key.IsActive = *input.IsActive
	}
	if input.ExpiresAt != nil {
		key.ExpiresAt = input.ExpiresAt
	}
	key.UpdatedAt = s.now()

	if err := s.store.UpdateApiKey(ctx, key); err != nil {
		return nil, fmt.Errorf("updating API key %s: %w", id, err)
	}
	s.invalidateKey(ctx, id)
	s.ledgerForKey(ctx, key, licensing.ActionApiKeyUpdated, nil)

	return key, nil
}

// RevokeApiKey deactivates a key. The record survives for audit; it just
// stops validating.
func (s *Service) RevokeApiKey(ctx context.Context, id, reason string) error {
	key, err := s.store.GetApiKeyByID(ctx, id)
	if err != nil {
		return fmt.Errorf("loading API key %s: %w", id, err)
	}
	if key == nil {
		return fmt.Errorf("API key %s: %w", id, licensing.ErrNotFound)
	}

	key.IsActive = false
	key.UpdatedAt = s.now()

	if err := s.store.UpdateApiKey(ctx, key); err != nil {
		return fmt.Errorf("revoking API key %s: %w", id, err)
	}
	s.invalidateKey(ctx, id)

	metadata, _ := json.Marshal(map[string]string{"reason": reason})
	s.ledgerForKey(ctx, key, licensing.ActionApiKeyRevoked, metadata)

	s.logger.Info().Str("key_id", id).Str("reason", reason).Msg("API key revoked")
	return nil
}

// RegenerateApiKey replaces a key's material, invalidating the old plaintext
// immediately. The usage counter carries over.
func (s *Service) RegenerateApiKey(ctx context.Context, id string) (*CreatedKey, error) {
	key, err := s.store.GetApiKeyByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading API key %s: %w", id, err)
	}
	if key == nil {
		return nil, fmt.Errorf("API key %s: %w", id, licensing.ErrNotFound)
	}

	plaintext, digest, err := s.generateKey()
	if err != nil {
		return nil, err
	}

	key.KeyHash = digest
	key.IsActive = true
	key.UpdatedAt = s.now()

	if err := s.store.UpdateApiKey(ctx, key); err != nil {
		return nil, fmt.Errorf("regenerating API key %s: %w", id, err)
	}
	s.invalidateKey(ctx, id)
	s.ledgerForKey(ctx, key, licensing.ActionApiKeyRegenerated, nil)

	s.logger.Info().Str("key_id", id).Msg("API key regenerated")
	return &CreatedKey{ApiKey: key, Plaintext: plaintext}, nil
}

// DeleteApiKey removes a key permanently
func (s *Service) DeleteApiKey(ctx context.Context, id string) error {
	key, err := s.store.GetApiKeyByID(ctx, id)
	if err != nil {
		return fmt.Errorf("loading API key %s: %w", id, err)
	}
	if key == nil {
		return fmt.Errorf("API key %s: %w", id, licensing.ErrNotFound)
	}

	if err := s.store.DeleteApiKey(ctx, id); err != nil {
		return fmt.Errorf("deleting API key %s: %w", id, err)
	}
	s.invalidateKey(ctx, id)
	s.ledgerForKey(ctx, key, licensing.ActionApiKeyDeleted, nil)

	s.logger.Info().Str("key_id", id).Msg("API key deleted")
	return nil
}

// invalidateKey drops the cached key metadata. A failed delete is loud: the
// stale entry can keep answering GetApiKey for up to a full TTL.
func (s *Service) invalidateKey(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, cache.ApiKeyKey(id)); err != nil {
		s.logger.Error().Err(err).Str("key_id", id).Msg("Failed to invalidate cached API key")
	}
}

// ledgerForKey records a key event, resolving the owning license for its
// user ID. Ledger failures never fail the mutation they describe.
func (s *Service) ledgerForKey(ctx context.Context, key *database.ApiKey, action string, metadata json.RawMessage) {
	license, err := s.store.GetLicenseByID(ctx, key.LicenseID)
	if err != nil {
		s.logger.Warn().Err(err).Str("key_id", key.ID).Msg("Failed to resolve license for usage log")
	}
	s.recordLedger(ctx, license, key.ID, action, metadata)
}

func (s *Service) recordLedger(ctx context.Context, license *database.License, keyID, action string, metadata json.RawMessage) {
	log := &database.UsageLog{
		ID:        uuid.New().String(),
		ApiKeyID:  keyID,
		Action:    action,
		Resource:  "api_key",
		Metadata:  metadata,
		CreatedAt: s.now(),
	}
	if license != nil {
		log.UserID = license.UserID
		log.LicenseID = license.ID
	}
	if err := s.store.InsertUsageLog(ctx, log); err != nil {
		s.logger.Error().Err(err).
			Str("action", action).
			Str("key_id", keyID).
			Msg("Failed to append usage log")
	}
}
