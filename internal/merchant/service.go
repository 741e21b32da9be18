package merchant

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Service provides merchant onboarding and settings updates.
type Service struct {
	store Store
}

// NewService creates a new merchant service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create onboards a merchant with the default policy.
func (s *Service) Create(ctx context.Context, name, stripeAccountID string) (*Merchant, error) {
	m := &Merchant{
		ID:              "mer_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:            strings.TrimSpace(name),
		StripeAccountID: strings.TrimSpace(stripeAccountID),
		Policy:          DefaultPolicy(),
	}
	if err := s.store.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("create merchant: %w", err)
	}
	return m, nil
}

// Get returns a merchant by ID.
func (s *Service) Get(ctx context.Context, id string) (*Merchant, error) {
	return s.store.Get(ctx, id)
}

// GetByAccount returns the merchant linked to a processor account.
func (s *Service) GetByAccount(ctx context.Context, stripeAccountID string) (*Merchant, error) {
	return s.store.GetByAccount(ctx, stripeAccountID)
}

// UpdatePolicy validates and replaces a merchant's policy.
func (s *Service) UpdatePolicy(ctx context.Context, id string, policy Policy) (*Merchant, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Policy = policy
	if err := s.store.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("update policy: %w", err)
	}
	return m, nil
}

// SetAutoSubmitReasons replaces only the reason allow-list.
func (s *Service) SetAutoSubmitReasons(ctx context.Context, id string, reasons []string) (*Merchant, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Policy.AutoSubmitReasons = NormalizeReasons(reasons)
	if err := s.store.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("update reasons: %w", err)
	}
	return m, nil
}

// UpdateProfile replaces a merchant's evidence profile.
func (s *Service) UpdateProfile(ctx context.Context, id string, profile EvidenceProfile) (*Merchant, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Profile = profile
	if err := s.store.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return m, nil
}

// List returns all merchants.
func (s *Service) List(ctx context.Context) ([]*Merchant, error) {
	return s.store.List(ctx)
}
