package domain

import "time"

// JobStatus is the lifecycle state of an asynchronous generation job.
// Completed and Failed are terminal.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobKind identifies the type of work an async job performs.
type JobKind string

const (
	KindGenerateICP       JobKind = "generate_icp"
	KindProductExtraction JobKind = "product_extraction"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

// User is an authenticated account as reported by the auth service.
type User struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	PasswordHash       string     `json:"-"`
	Role               UserRole   `json:"role"`
	Status             UserStatus `json:"status"`
	OnboardingComplete bool       `json:"onboardingComplete"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// BusinessModel enumerates the accepted product business models.
type BusinessModel string

const (
	ModelB2BSubscription BusinessModel = "b2b-subscription"
	ModelB2BLicense      BusinessModel = "b2b-license"
	ModelB2CSubscription BusinessModel = "b2c-subscription"
	ModelMarketplace     BusinessModel = "marketplace"
	ModelServices        BusinessModel = "services"
)

// ValidBusinessModel reports whether the value is one of the accepted models.
func ValidBusinessModel(m BusinessModel) bool {
	switch m {
	case ModelB2BSubscription, ModelB2BLicense, ModelB2CSubscription, ModelMarketplace, ModelServices:
		return true
	}
	return false
}

// ProductDetails is the user-entered (or extracted) description of a product.
type ProductDetails struct {
	ID                    string        `json:"id"`
	CustomerID            string        `json:"customerId"`
	ProductName           string        `json:"productName"`
	ProductDescription    string        `json:"productDescription"`
	DistinguishingFeature string        `json:"distinguishingFeature"`
	BusinessModel         BusinessModel `json:"businessModel"`
	Industry              string        `json:"industry,omitempty"`
	Goals                 string        `json:"goals,omitempty"`
	Source                string        `json:"source,omitempty"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

// Persona is an AI-generated buyer archetype.
type Persona struct {
	ID             string    `json:"id"`
	CustomerID     string    `json:"customerId"`
	Name           string    `json:"name"`
	Title          string    `json:"title"`
	CompanySize    string    `json:"companySize"`
	Industry       string    `json:"industry"`
	Goals          []string  `json:"goals"`
	PainPoints     []string  `json:"painPoints"`
	BuyingTriggers []string  `json:"buyingTriggers"`
	Objections     []string  `json:"objections"`
	Channels       []string  `json:"channels"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ICPProfile is the generated ideal-customer-profile document.
type ICPProfile struct {
	ID              string    `json:"id"`
	CustomerID      string    `json:"customerId"`
	CompanyName     string    `json:"companyName"`
	ProductName     string    `json:"productName"`
	Segment         string    `json:"segment"`
	FirmographicFit string    `json:"firmographicFit"`
	KeySignals      []string  `json:"keySignals"`
	Disqualifiers   []string  `json:"disqualifiers"`
	Personas        []Persona `json:"personas"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

// RatingCriterion is one scored axis of a company rating.
type RatingCriterion struct {
	Name      string `json:"name"`
	Score     int    `json:"score"`
	MaxScore  int    `json:"maxScore"`
	Rationale string `json:"rationale"`
}

// RatingResult is the synchronous company-rating output.
type RatingResult struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customerId"`
	Company    string            `json:"company"`
	Overall    int               `json:"overall"`
	Grade      string            `json:"grade"`
	Criteria   []RatingCriterion `json:"criteria"`
	Summary    string            `json:"summary"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// CompanyResearch captures what was learned about a company's public site.
type CompanyResearch struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customerId"`
	Company     string    `json:"company"`
	WebsiteURL  string    `json:"websiteUrl"`
	Description string    `json:"description"`
	ValueProp   string    `json:"valueProp"`
	TargetBuyer string    `json:"targetBuyer"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ExtractionStatus tracks a product-sheet extraction request.
type ExtractionStatus string

const (
	ExtractionQueued     ExtractionStatus = "queued"
	ExtractionProcessing ExtractionStatus = "processing"
	ExtractionReady      ExtractionStatus = "ready"
	ExtractionFailed     ExtractionStatus = "failed"
)

// ExtractionRecord is the persisted state of one product-sheet extraction.
type ExtractionRecord struct {
	ID           string           `json:"id"`
	CustomerID   string           `json:"customerId"`
	Filename     string           `json:"filename"`
	StorageKey   string           `json:"-"`
	Status       ExtractionStatus `json:"status"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Product      *ProductDetails  `json:"product,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// MetricTranslation is the technical-translator output: a technical metric
// restated in business language.
type MetricTranslation struct {
	Metric      string `json:"metric"`
	Value       string `json:"value"`
	Translation string `json:"translation"`
	Impact      string `json:"impact"`
}

// ExportPayload is the ephemeral projection handed to export adapters.
// It is built from already-loaded data right before an export call.
type ExportPayload struct {
	CompanyName string    `json:"companyName"`
	ProductName string    `json:"productName"`
	Personas    []Persona `json:"personas"`
	GeneratedAt time.Time `json:"generatedAt"`
}
