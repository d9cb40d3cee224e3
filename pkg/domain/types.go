package domain

import "time"

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
)

// RoleDeveloper is assigned to every new account.
const RoleDeveloper = "Developer"

// Identity providers recorded on User.Provider.
const (
	ProviderEmail  = "Email"
	ProviderGoogle = "Google"
	ProviderGitHub = "GitHub"
)

type User struct {
	ID                  string     `json:"id"`
	FullName            string     `json:"fullName"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Provider            string     `json:"provider,omitempty"`
	ProviderID          string     `json:"-"`
	ProfilePictureURL   string     `json:"profilePictureUrl,omitempty"`
	Role                string     `json:"role"`
	Status              UserStatus `json:"status"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	LastLoginAt         *time.Time `json:"lastLoginAt,omitempty"`
	PasswordResetToken  string     `json:"-"`
	PasswordResetExpiry *time.Time `json:"-"`
}

// Analysis is one debugging request and its outcome. Records are append-only.
type Analysis struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Language      string    `json:"language"`
	ErrorLogs     string    `json:"errorLogs"`
	SourceCode    string    `json:"sourceCode"`
	RootCause     string    `json:"rootCause"`
	Explanation   string    `json:"explanation"`
	Fix           string    `json:"fix"`
	CorrectedCode string    `json:"correctedCode"`
	CreatedAt     time.Time `json:"createdAt"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	Model         string    `json:"model,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	FinishReason  string    `json:"-"`
	// FailureKind names the ai.Kind of a degraded record.
	FailureKind string `json:"-"`
}

type UsageStatistic struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"userId"`
	AnalysisID          string     `json:"analysisId,omitempty"`
	Language            string     `json:"language"`
	ErrorType           string     `json:"errorType"`
	IsResolved          bool       `json:"isResolved"`
	ResponseTimeSeconds float64    `json:"responseTimeSeconds"`
	CreatedAt           time.Time  `json:"createdAt"`
	ResolvedAt          *time.Time `json:"resolvedAt,omitempty"`
}

type OverviewStats struct {
	TotalAnalyses       int     `json:"totalAnalyses"`
	ResolvedBugs        int     `json:"resolvedBugs"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	SuccessRate         float64 `json:"successRate"`
	SuccessfulAnalyses  int     `json:"successfulAnalyses"`
	FailedAnalyses      int     `json:"failedAnalyses"`
}

type LanguageUsage struct {
	Language   string  `json:"language"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type TimelinePoint struct {
	Date     string `json:"date"`
	Analyses int    `json:"analyses"`
	Resolved int    `json:"resolved"`
}

type ErrorTypeCount struct {
	ErrorType   string `json:"errorType"`
	Occurrences int    `json:"occurrences"`
	Severity    string `json:"severity"`
}

type QuickStats struct {
	TodayAnalyses    int        `json:"todayAnalyses"`
	MostUsedLanguage string     `json:"mostUsedLanguage,omitempty"`
	LastAnalysisAt   *time.Time `json:"lastAnalysisAt,omitempty"`
}

// UserStatistics is the dashboard report for one user over a trailing window.
type UserStatistics struct {
	Days          int              `json:"days"`
	Overview      OverviewStats    `json:"overview"`
	LanguageUsage []LanguageUsage  `json:"languageUsage"`
	Timeline      []TimelinePoint  `json:"timeline"`
	CommonErrors  []ErrorTypeCount `json:"commonErrors"`
	QuickStats    QuickStats       `json:"quickStats"`
}
