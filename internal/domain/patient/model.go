package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/medregistry/registry/internal/platform/phi"
)

// Patient maps to the patient table. Phone and Email are plaintext in memory;
// the repository seals them before they touch the database and unseals them on
// the way out.
type Patient struct {
	ID           uuid.UUID `db:"id" json:"id"`
	MRN          string    `db:"mrn" json:"mrn"`
	FirstName    string    `db:"first_name" json:"firstName"`
	LastName     string    `db:"last_name" json:"lastName"`
	DOB          time.Time `db:"dob" json:"dob"`
	Sex          string    `db:"sex" json:"sex"`
	Phone        string    `db:"phone" json:"phone,omitempty"`
	Email        string    `db:"email" json:"email,omitempty"`
	AddressLine1 string    `db:"address_line1" json:"addressLine1"`
	City         string    `db:"city" json:"city"`
	PostalCode   string    `db:"postal_code" json:"postalCode"`
	CountryCode  string    `db:"country_code" json:"countryCode"`
	Version      int       `db:"version" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// CanonicalView returns the token input for this record: the non-sealed
// fields plus the monotonic version counter. Sensitive fields never appear
// here.
func (p *Patient) CanonicalView() phi.CanonicalView {
	return phi.CanonicalView{
		ID:           p.ID.String(),
		MRN:          p.MRN,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		DOB:          p.DOB.Format("2006-01-02"),
		Sex:          p.Sex,
		AddressLine1: p.AddressLine1,
		City:         p.City,
		PostalCode:   p.PostalCode,
		CountryCode:  p.CountryCode,
		Version:      p.Version,
		CreatedAt:    p.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Token computes the record's version token.
func (p *Patient) Token() (string, error) {
	return phi.Fingerprint(p.CanonicalView())
}

// UpdateInput is the fixed set of updatable fields. A nil field is untouched;
// a set field is written. MRN, DOB, sex, and timestamps are immutable through
// this path.
type UpdateInput struct {
	FirstName    *string `json:"firstName"`
	LastName     *string `json:"lastName"`
	Phone        *string `json:"phone"`
	Email        *string `json:"email"`
	AddressLine1 *string `json:"addressLine1"`
	City         *string `json:"city"`
	PostalCode   *string `json:"postalCode"`
	CountryCode  *string `json:"countryCode"`
}

// IsEmpty reports whether no field is set.
func (u UpdateInput) IsEmpty() bool {
	return u.FirstName == nil && u.LastName == nil &&
		u.Phone == nil && u.Email == nil &&
		u.AddressLine1 == nil && u.City == nil &&
		u.PostalCode == nil && u.CountryCode == nil
}

// SearchQuery carries search filters and the pagination window.
type SearchQuery struct {
	// Term matches case-insensitively against last name and as a substring
	// against the MRN.
	Term     string
	MRN      string
	LastName string
	Limit    int
	Cursor   *uuid.UUID
}

// SearchResult is one page of matches in ascending record-identifier order.
type SearchResult struct {
	Patients   []*Patient
	NextCursor *uuid.UUID
	HasMore    bool
}
