package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"revintel/pkg/domain"
)

const migrateLockID int64 = 52415241

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&ProductModel{},
			&ICPProfileModel{},
			&RatingModel{},
			&ResearchModel{},
			&ExtractionModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "role", "status", "onboarding_complete", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SetOnboardingComplete flips the onboarding flag used for post-auth routing.
func (s *GormStore) SetOnboardingComplete(id string, complete bool) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"onboarding_complete": complete,
			"updated_at":          time.Now().UTC(),
		}).Error
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns the number of registered users.
func (s *GormStore) UserCount() (int64, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SaveProduct stores or updates product details.
func (s *GormStore) SaveProduct(p domain.ProductDetails) error {
	model := productToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"product_name", "product_description", "distinguishing_feature", "business_model", "industry", "goals", "source", "updated_at"}),
	}).Create(&model).Error
}

// GetProduct returns a product by ID.
func (s *GormStore) GetProduct(id string) (domain.ProductDetails, bool, error) {
	var model ProductModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ProductDetails{}, false, nil
		}
		return domain.ProductDetails{}, false, err
	}
	return productFromModel(model), true, nil
}

// ListProductsByCustomer returns a customer's saved products, newest first.
func (s *GormStore) ListProductsByCustomer(customerID string) ([]domain.ProductDetails, error) {
	var models []ProductModel
	if err := s.db.Where("customer_id = ?", customerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ProductDetails, 0, len(models))
	for _, m := range models {
		res = append(res, productFromModel(m))
	}
	return res, nil
}

// SaveICPProfile stores or replaces a customer's ICP profile.
func (s *GormStore) SaveICPProfile(p domain.ICPProfile) error {
	model, err := icpToModel(p)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"company_name", "product_name", "segment", "firmographic_fit", "key_signals", "disqualifiers", "personas", "generated_at"}),
	}).Create(&model).Error
}

// GetICPProfile returns the ICP profile for a customer.
func (s *GormStore) GetICPProfile(customerID string) (domain.ICPProfile, bool, error) {
	var model ICPProfileModel
	if err := s.db.Where("customer_id = ?", customerID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ICPProfile{}, false, nil
		}
		return domain.ICPProfile{}, false, err
	}
	profile, err := icpFromModel(model)
	if err != nil {
		return domain.ICPProfile{}, false, err
	}
	return profile, true, nil
}

// SaveRating stores a company rating result.
func (s *GormStore) SaveRating(r domain.RatingResult) error {
	model, err := ratingToModel(r)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListRatingsByCustomer returns a customer's ratings, newest first.
func (s *GormStore) ListRatingsByCustomer(customerID string) ([]domain.RatingResult, error) {
	var models []RatingModel
	if err := s.db.Where("customer_id = ?", customerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.RatingResult, 0, len(models))
	for _, m := range models {
		rating, err := ratingFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, rating)
	}
	return res, nil
}

// SaveResearch stores a company research record.
func (s *GormStore) SaveResearch(r domain.CompanyResearch) error {
	model := researchToModel(r)
	return s.db.Create(&model).Error
}

// ListResearchByCustomer returns a customer's research records, newest first.
func (s *GormStore) ListResearchByCustomer(customerID string) ([]domain.CompanyResearch, error) {
	var models []ResearchModel
	if err := s.db.Where("customer_id = ?", customerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.CompanyResearch, 0, len(models))
	for _, m := range models {
		res = append(res, researchFromModel(m))
	}
	return res, nil
}

// SaveExtraction stores or updates an extraction record.
func (s *GormStore) SaveExtraction(e domain.ExtractionRecord) error {
	model, err := extractionToModel(e)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"filename", "storage_key", "status", "error_message", "product", "updated_at"}),
	}).Create(&model).Error
}

// GetExtraction returns an extraction record by ID.
func (s *GormStore) GetExtraction(id string) (domain.ExtractionRecord, bool, error) {
	var model ExtractionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ExtractionRecord{}, false, nil
		}
		return domain.ExtractionRecord{}, false, err
	}
	rec, err := extractionFromModel(model)
	if err != nil {
		return domain.ExtractionRecord{}, false, err
	}
	return rec, true, nil
}

// GetLatestExtractionByCustomer returns the most recent extraction for a customer.
func (s *GormStore) GetLatestExtractionByCustomer(customerID string) (domain.ExtractionRecord, bool, error) {
	var model ExtractionModel
	if err := s.db.Where("customer_id = ?", customerID).Order("created_at DESC").First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ExtractionRecord{}, false, nil
		}
		return domain.ExtractionRecord{}, false, err
	}
	rec, err := extractionFromModel(model)
	if err != nil {
		return domain.ExtractionRecord{}, false, err
	}
	return rec, true, nil
}

// SetExtractionStatus updates extraction status/error.
func (s *GormStore) SetExtractionStatus(id string, status domain.ExtractionStatus, errMsg string) error {
	return s.db.Model(&ExtractionModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:                 u.ID,
		Email:              u.Email,
		PasswordHash:       u.PasswordHash,
		Role:               string(u.Role),
		Status:             string(u.Status),
		OnboardingComplete: u.OnboardingComplete,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:                 m.ID,
		Email:              m.Email,
		PasswordHash:       m.PasswordHash,
		Role:               domain.UserRole(m.Role),
		Status:             domain.UserStatus(m.Status),
		OnboardingComplete: m.OnboardingComplete,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func productToModel(p domain.ProductDetails) ProductModel {
	return ProductModel{
		ID:                    p.ID,
		CustomerID:            p.CustomerID,
		ProductName:           p.ProductName,
		ProductDescription:    p.ProductDescription,
		DistinguishingFeature: p.DistinguishingFeature,
		BusinessModel:         string(p.BusinessModel),
		Industry:              p.Industry,
		Goals:                 p.Goals,
		Source:                p.Source,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func productFromModel(m ProductModel) domain.ProductDetails {
	return domain.ProductDetails{
		ID:                    m.ID,
		CustomerID:            m.CustomerID,
		ProductName:           m.ProductName,
		ProductDescription:    m.ProductDescription,
		DistinguishingFeature: m.DistinguishingFeature,
		BusinessModel:         domain.BusinessModel(m.BusinessModel),
		Industry:              m.Industry,
		Goals:                 m.Goals,
		Source:                m.Source,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func icpToModel(p domain.ICPProfile) (ICPProfileModel, error) {
	signals, err := marshalJSON(p.KeySignals)
	if err != nil {
		return ICPProfileModel{}, err
	}
	disqualifiers, err := marshalJSON(p.Disqualifiers)
	if err != nil {
		return ICPProfileModel{}, err
	}
	personas, err := marshalJSON(p.Personas)
	if err != nil {
		return ICPProfileModel{}, err
	}
	return ICPProfileModel{
		ID:              p.ID,
		CustomerID:      p.CustomerID,
		CompanyName:     p.CompanyName,
		ProductName:     p.ProductName,
		Segment:         p.Segment,
		FirmographicFit: p.FirmographicFit,
		KeySignals:      signals,
		Disqualifiers:   disqualifiers,
		Personas:        personas,
		GeneratedAt:     p.GeneratedAt,
	}, nil
}

func icpFromModel(m ICPProfileModel) (domain.ICPProfile, error) {
	p := domain.ICPProfile{
		ID:              m.ID,
		CustomerID:      m.CustomerID,
		CompanyName:     m.CompanyName,
		ProductName:     m.ProductName,
		Segment:         m.Segment,
		FirmographicFit: m.FirmographicFit,
		GeneratedAt:     m.GeneratedAt,
	}
	if err := unmarshalJSON(m.KeySignals, &p.KeySignals); err != nil {
		return domain.ICPProfile{}, err
	}
	if err := unmarshalJSON(m.Disqualifiers, &p.Disqualifiers); err != nil {
		return domain.ICPProfile{}, err
	}
	if err := unmarshalJSON(m.Personas, &p.Personas); err != nil {
		return domain.ICPProfile{}, err
	}
	return p, nil
}

func ratingToModel(r domain.RatingResult) (RatingModel, error) {
	criteria, err := marshalJSON(r.Criteria)
	if err != nil {
		return RatingModel{}, err
	}
	return RatingModel{
		ID:         r.ID,
		CustomerID: r.CustomerID,
		Company:    r.Company,
		Overall:    r.Overall,
		Grade:      r.Grade,
		Criteria:   criteria,
		Summary:    r.Summary,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func ratingFromModel(m RatingModel) (domain.RatingResult, error) {
	r := domain.RatingResult{
		ID:         m.ID,
		CustomerID: m.CustomerID,
		Company:    m.Company,
		Overall:    m.Overall,
		Grade:      m.Grade,
		Summary:    m.Summary,
		CreatedAt:  m.CreatedAt,
	}
	if err := unmarshalJSON(m.Criteria, &r.Criteria); err != nil {
		return domain.RatingResult{}, err
	}
	return r, nil
}

func researchToModel(r domain.CompanyResearch) ResearchModel {
	return ResearchModel{
		ID:          r.ID,
		CustomerID:  r.CustomerID,
		Company:     r.Company,
		WebsiteURL:  r.WebsiteURL,
		Description: r.Description,
		ValueProp:   r.ValueProp,
		TargetBuyer: r.TargetBuyer,
		CreatedAt:   r.CreatedAt,
	}
}

func researchFromModel(m ResearchModel) domain.CompanyResearch {
	return domain.CompanyResearch{
		ID:          m.ID,
		CustomerID:  m.CustomerID,
		Company:     m.Company,
		WebsiteURL:  m.WebsiteURL,
		Description: m.Description,
		ValueProp:   m.ValueProp,
		TargetBuyer: m.TargetBuyer,
		CreatedAt:   m.CreatedAt,
	}
}

func extractionToModel(e domain.ExtractionRecord) (ExtractionModel, error) {
	var product datatypes.JSON
	if e.Product != nil {
		data, err := json.Marshal(e.Product)
		if err != nil {
			return ExtractionModel{}, err
		}
		product = datatypes.JSON(data)
	}
	return ExtractionModel{
		ID:           e.ID,
		CustomerID:   e.CustomerID,
		Filename:     e.Filename,
		StorageKey:   e.StorageKey,
		Status:       string(e.Status),
		ErrorMessage: e.ErrorMessage,
		Product:      product,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}, nil
}

func extractionFromModel(m ExtractionModel) (domain.ExtractionRecord, error) {
	rec := domain.ExtractionRecord{
		ID:           m.ID,
		CustomerID:   m.CustomerID,
		Filename:     m.Filename,
		StorageKey:   m.StorageKey,
		Status:       domain.ExtractionStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if len(m.Product) > 0 {
		var product domain.ProductDetails
		if err := json.Unmarshal(m.Product, &product); err != nil {
			return domain.ExtractionRecord{}, err
		}
		rec.Product = &product
	}
	return rec, nil
}

func marshalJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

func unmarshalJSON(data datatypes.JSON, out any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
