package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID                  string `gorm:"primaryKey"`
	FullName            string `gorm:"size:100;not null"`
	Email               string `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash        string `gorm:"not null"`
	Provider            string `gorm:"size:20;not null;default:Email"`
	ProviderID          string `gorm:"size:255"`
	ProfilePictureURL   string `gorm:"size:500"`
	Role                string `gorm:"size:50;not null"`
	Status              string `gorm:"size:20"`
	PasswordResetToken  string `gorm:"size:255;index"`
	PasswordResetExpiry *time.Time
	LastLoginAt         *time.Time
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time
}

type AnalysisModel struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"not null;index:idx_analysis_user_created,priority:1"`
	Language      string `gorm:"size:50;not null"`
	ErrorLogs     string `gorm:"type:text;not null"`
	SourceCode    string `gorm:"type:text;not null"`
	RootCause     string `gorm:"type:text"`
	Explanation   string `gorm:"type:text"`
	Fix           string `gorm:"type:text"`
	CorrectedCode string `gorm:"type:text"`
	Success       bool   `gorm:"not null"`
	ErrorMessage  string
	Metadata      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_analysis_user_created,priority:2"`
}

// analysisMetadata is the shape of AnalysisModel.Metadata.
type analysisMetadata struct {
	Model        string `json:"model,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
	FailureKind  string `json:"failureKind,omitempty"`
}

type UsageStatisticModel struct {
	ID                  string `gorm:"primaryKey"`
	UserID              string `gorm:"not null;index:idx_stat_user_created,priority:1"`
	AnalysisID          string `gorm:"index"`
	Language            string `gorm:"size:50;not null"`
	ErrorType           string `gorm:"size:200"`
	IsResolved          bool   `gorm:"not null"`
	ResponseTimeSeconds float64
	ResolvedAt          *time.Time
	CreatedAt           time.Time `gorm:"not null;index:idx_stat_user_created,priority:2"`
}
