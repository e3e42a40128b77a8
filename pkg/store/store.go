package store

import (
	"time"

	"revintel/pkg/domain"
)

// Store defines persistence for users and revenue-intelligence records.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	SetOnboardingComplete(id string, complete bool) error
	ListUsers() ([]domain.User, error)
	UserCount() (int64, error)

	// products
	SaveProduct(domain.ProductDetails) error
	GetProduct(id string) (domain.ProductDetails, bool, error)
	ListProductsByCustomer(customerID string) ([]domain.ProductDetails, error)

	// ICP profiles and personas
	SaveICPProfile(domain.ICPProfile) error
	GetICPProfile(customerID string) (domain.ICPProfile, bool, error)

	// ratings
	SaveRating(domain.RatingResult) error
	ListRatingsByCustomer(customerID string) ([]domain.RatingResult, error)

	// company research
	SaveResearch(domain.CompanyResearch) error
	ListResearchByCustomer(customerID string) ([]domain.CompanyResearch, error)

	// product-sheet extractions
	SaveExtraction(domain.ExtractionRecord) error
	GetExtraction(id string) (domain.ExtractionRecord, bool, error)
	GetLatestExtractionByCustomer(customerID string) (domain.ExtractionRecord, bool, error)
	SetExtractionStatus(id string, status domain.ExtractionStatus, errMsg string) error
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// TokenRevoker tracks revoked token IDs until expiry.
type TokenRevoker interface {
	Revoke(jti string, ttl time.Duration) error
	IsRevoked(jti string) (bool, error)
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKSProvider is an optional capability exposed by session stores that can
// publish JSON Web Keys.
type JWKSProvider interface {
	JWKS() []JWK
}
