package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"buglens/pkg/domain"
)

const migrateLockID int64 = 48151623

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
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
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &AnalysisModel{}, &UsageStatisticModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
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

// CreateUser inserts a new user, failing with ErrDuplicateEmail on a taken email.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"full_name", "email", "password_hash", "provider", "provider_id", "profile_picture_url",
			"role", "status", "password_reset_token", "password_reset_expiry", "last_login_at", "updated_at",
		}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return s.firstUser(ctx, "email = ?", email)
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	return s.firstUser(ctx, "id = ?", id)
}

// GetUserByResetToken returns the user holding the given reset token.
func (s *GormStore) GetUserByResetToken(ctx context.Context, token string) (domain.User, bool, error) {
	if token == "" {
		return domain.User{}, false, nil
	}
	return s.firstUser(ctx, "password_reset_token = ?", token)
}

func (s *GormStore) firstUser(ctx context.Context, query string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveAnalysis inserts an analysis. Records are never updated.
func (s *GormStore) SaveAnalysis(ctx context.Context, a domain.Analysis) error {
	model, err := analysisToModel(a)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetAnalysis returns an analysis by ID regardless of owner.
func (s *GormStore) GetAnalysis(ctx context.Context, id string) (domain.Analysis, bool, error) {
	var model AnalysisModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Analysis{}, false, nil
		}
		return domain.Analysis{}, false, err
	}
	return analysisFromModel(model), true, nil
}

// ListAnalysesByUser returns the newest analyses of a user.
func (s *GormStore) ListAnalysesByUser(ctx context.Context, userID string, limit int) ([]domain.Analysis, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.listAnalyses(q)
}

// ListAnalysesByLanguage returns a user's analyses for one language, newest first.
func (s *GormStore) ListAnalysesByLanguage(ctx context.Context, userID, language string) ([]domain.Analysis, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(language) = ?", userID, strings.ToLower(language)).
		Order("created_at desc").Order("id desc")
	return s.listAnalyses(q)
}

func (s *GormStore) listAnalyses(q *gorm.DB) ([]domain.Analysis, error) {
	var models []AnalysisModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Analysis, 0, len(models))
	for _, m := range models {
		out = append(out, analysisFromModel(m))
	}
	return out, nil
}

// CountAnalysesBySuccess counts a user's analyses since a cutoff, split by outcome.
func (s *GormStore) CountAnalysesBySuccess(ctx context.Context, userID string, since time.Time) (int, int, error) {
	var rows []struct {
		Success bool
		Total   int64
	}
	err := s.db.WithContext(ctx).Model(&AnalysisModel{}).
		Select("success, COUNT(*) AS total").
		Where("user_id = ? AND created_at >= ?", userID, since).
		Group("success").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}
	var successful, failed int
	for _, r := range rows {
		if r.Success {
			successful = int(r.Total)
		} else {
			failed = int(r.Total)
		}
	}
	return successful, failed, nil
}

// SaveStatistic inserts or updates a usage statistic.
func (s *GormStore) SaveStatistic(ctx context.Context, st domain.UsageStatistic) error {
	model := statisticToModel(st)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_resolved", "resolved_at"}),
	}).Create(&model).Error
}

// GetStatisticByAnalysis returns the statistic linked to a user's analysis.
func (s *GormStore) GetStatisticByAnalysis(ctx context.Context, userID, analysisID string) (domain.UsageStatistic, bool, error) {
	var model UsageStatisticModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND analysis_id = ?", userID, analysisID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UsageStatistic{}, false, nil
		}
		return domain.UsageStatistic{}, false, err
	}
	return statisticFromModel(model), true, nil
}

// ListStatisticsSince returns a user's statistics created at or after since, oldest first.
func (s *GormStore) ListStatisticsSince(ctx context.Context, userID string, since time.Time) ([]domain.UsageStatistic, error) {
	var models []UsageStatisticModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.UsageStatistic, 0, len(models))
	for _, m := range models {
		out = append(out, statisticFromModel(m))
	}
	return out, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:                  u.ID,
		FullName:            u.FullName,
		Email:               u.Email,
		PasswordHash:        u.PasswordHash,
		Provider:            u.Provider,
		ProviderID:          u.ProviderID,
		ProfilePictureURL:   u.ProfilePictureURL,
		Role:                u.Role,
		Status:              string(u.Status),
		PasswordResetToken:  u.PasswordResetToken,
		PasswordResetExpiry: u.PasswordResetExpiry,
		LastLoginAt:         u.LastLoginAt,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:                  m.ID,
		FullName:            m.FullName,
		Email:               m.Email,
		PasswordHash:        m.PasswordHash,
		Provider:            m.Provider,
		ProviderID:          m.ProviderID,
		ProfilePictureURL:   m.ProfilePictureURL,
		Role:                m.Role,
		Status:              status,
		PasswordResetToken:  m.PasswordResetToken,
		PasswordResetExpiry: m.PasswordResetExpiry,
		LastLoginAt:         m.LastLoginAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func analysisToModel(a domain.Analysis) (AnalysisModel, error) {
	meta, err := json.Marshal(analysisMetadata{
		Model:        a.Model,
		Attempts:     a.Attempts,
		FinishReason: a.FinishReason,
		FailureKind:  a.FailureKind,
	})
	if err != nil {
		return AnalysisModel{}, fmt.Errorf("encode analysis metadata: %w", err)
	}
	return AnalysisModel{
		ID:            a.ID,
		UserID:        a.UserID,
		Language:      a.Language,
		ErrorLogs:     a.ErrorLogs,
		SourceCode:    a.SourceCode,
		RootCause:     a.RootCause,
		Explanation:   a.Explanation,
		Fix:           a.Fix,
		CorrectedCode: a.CorrectedCode,
		Success:       a.Success,
		ErrorMessage:  a.ErrorMessage,
		Metadata:      datatypes.JSON(meta),
		CreatedAt:     a.CreatedAt,
	}, nil
}

func analysisFromModel(m AnalysisModel) domain.Analysis {
	var meta analysisMetadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Analysis{
		ID:            m.ID,
		UserID:        m.UserID,
		Language:      m.Language,
		ErrorLogs:     m.ErrorLogs,
		SourceCode:    m.SourceCode,
		RootCause:     m.RootCause,
		Explanation:   m.Explanation,
		Fix:           m.Fix,
		CorrectedCode: m.CorrectedCode,
		CreatedAt:     m.CreatedAt,
		Success:       m.Success,
		ErrorMessage:  m.ErrorMessage,
		Model:         meta.Model,
		Attempts:      meta.Attempts,
		FinishReason:  meta.FinishReason,
		FailureKind:   meta.FailureKind,
	}
}

func statisticToModel(s domain.UsageStatistic) UsageStatisticModel {
	return UsageStatisticModel{
		ID:                  s.ID,
		UserID:              s.UserID,
		AnalysisID:          s.AnalysisID,
		Language:            s.Language,
		ErrorType:           s.ErrorType,
		IsResolved:          s.IsResolved,
		ResponseTimeSeconds: s.ResponseTimeSeconds,
		ResolvedAt:          s.ResolvedAt,
		CreatedAt:           s.CreatedAt,
	}
}

func statisticFromModel(m UsageStatisticModel) domain.UsageStatistic {
	return domain.UsageStatistic{
		ID:                  m.ID,
		UserID:              m.UserID,
		AnalysisID:          m.AnalysisID,
		Language:            m.Language,
		ErrorType:           m.ErrorType,
		IsResolved:          m.IsResolved,
		ResponseTimeSeconds: m.ResponseTimeSeconds,
		CreatedAt:           m.CreatedAt,
		ResolvedAt:          m.ResolvedAt,
	}
}
