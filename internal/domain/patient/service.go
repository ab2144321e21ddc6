package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medregistry/registry/internal/domain/audit"
)

var validSexes = map[string]bool{
	"male":    true,
	"female":  true,
	"other":   true,
	"unknown": true,
}

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

type CreateInput struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	DOB          string `json:"dob"`
	Sex          string `json:"sex"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	PostalCode   string `json:"postalCode"`
	CountryCode  string `json:"countryCode"`
}

func (in CreateInput) validate() error {
	if strings.TrimSpace(in.FirstName) == "" {
		return fmt.Errorf("%w: firstName is required", ErrValidation)
	}
	if strings.TrimSpace(in.LastName) == "" {
		return fmt.Errorf("%w: lastName is required", ErrValidation)
	}
	if in.DOB == "" {
		return fmt.Errorf("%w: dob is required", ErrValidation)
	}
	if !validSexes[in.Sex] {
		return fmt.Errorf("%w: sex must be one of male, female, other, unknown", ErrValidation)
	}
	return nil
}

// Create registers a new patient and returns the stored record with its
// version token.
func (s *Service) Create(ctx context.Context, in CreateInput, meta audit.Meta) (*Patient, string, error) {
	if err := in.validate(); err != nil {
		return nil, "", err
	}
	dob, err := time.Parse("2006-01-02", in.DOB)
	if err != nil {
		return nil, "", fmt.Errorf("%w: dob must be formatted YYYY-MM-DD", ErrValidation)
	}

	p := &Patient{
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		DOB:          dob,
		Sex:          in.Sex,
		Phone:        in.Phone,
		Email:        in.Email,
		AddressLine1: in.AddressLine1,
		City:         in.City,
		PostalCode:   in.PostalCode,
		CountryCode:  in.CountryCode,
	}
	if err := s.repo.Create(ctx, p, meta); err != nil {
		return nil, "", err
	}
	token, err := p.Token()
	if err != nil {
		return nil, "", err
	}
	return p, token, nil
}

// Get returns the patient and its current version token.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, string, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	token, err := p.Token()
	if err != nil {
		return nil, "", err
	}
	return p, token, nil
}

// Update applies the given changes if expectedToken still matches the
// stored record, returning the fresh record and its new token.
func (s *Service) Update(ctx context.Context, id uuid.UUID, changes UpdateInput, expectedToken string, meta audit.Meta) (*Patient, string, error) {
	p, err := s.repo.Update(ctx, id, changes, expectedToken, meta)
	if err != nil {
		return nil, "", err
	}
	token, err := p.Token()
	if err != nil {
		return nil, "", err
	}
	return p, token, nil
}

// Search runs a paginated lookup, clamping the page size to sane bounds.
func (s *Service) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	if q.Limit <= 0 {
		q.Limit = defaultSearchLimit
	}
	if q.Limit > maxSearchLimit {
		q.Limit = maxSearchLimit
	}
	return s.repo.Search(ctx, q)
}
