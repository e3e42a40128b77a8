package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID                 string `gorm:"primaryKey"`
	Email              string `gorm:"uniqueIndex;not null"`
	PasswordHash       string `gorm:"not null"`
	Role               string `gorm:"not null"`
	Status             string
	OnboardingComplete bool      `gorm:"not null;default:false"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time
}

type ProductModel struct {
	ID                    string `gorm:"primaryKey"`
	CustomerID            string `gorm:"not null;index"`
	ProductName           string `gorm:"not null"`
	ProductDescription    string `gorm:"type:text"`
	DistinguishingFeature string `gorm:"type:text"`
	BusinessModel         string `gorm:"not null"`
	Industry              string
	Goals                 string `gorm:"type:text"`
	Source                string
	CreatedAt             time.Time `gorm:"not null;index"`
	UpdatedAt             time.Time `gorm:"not null"`
}

type ICPProfileModel struct {
	ID              string `gorm:"primaryKey"`
	CustomerID      string `gorm:"not null;uniqueIndex"`
	CompanyName     string
	ProductName     string
	Segment         string         `gorm:"type:text"`
	FirmographicFit string         `gorm:"type:text"`
	KeySignals      datatypes.JSON `gorm:"type:jsonb"`
	Disqualifiers   datatypes.JSON `gorm:"type:jsonb"`
	Personas        datatypes.JSON `gorm:"type:jsonb"`
	GeneratedAt     time.Time      `gorm:"not null"`
}

type RatingModel struct {
	ID         string `gorm:"primaryKey"`
	CustomerID string `gorm:"not null;index"`
	Company    string `gorm:"not null"`
	Overall    int    `gorm:"not null"`
	Grade      string
	Criteria   datatypes.JSON `gorm:"type:jsonb"`
	Summary    string         `gorm:"type:text"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}

type ResearchModel struct {
	ID          string `gorm:"primaryKey"`
	CustomerID  string `gorm:"not null;index"`
	Company     string `gorm:"not null"`
	WebsiteURL  string
	Description string    `gorm:"type:text"`
	ValueProp   string    `gorm:"type:text"`
	TargetBuyer string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null;index"`
}

type ExtractionModel struct {
	ID           string `gorm:"primaryKey"`
	CustomerID   string `gorm:"not null;index"`
	Filename     string `gorm:"not null"`
	StorageKey   string
	Status       string `gorm:"not null"`
	ErrorMessage string
	Product      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time      `gorm:"not null;index"`
	UpdatedAt    time.Time      `gorm:"not null"`
}
