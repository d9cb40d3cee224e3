package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"buglens/internal/metrics"
	"buglens/internal/util"
	"buglens/pkg/ai"
	"buglens/pkg/domain"
	"buglens/pkg/events"
)

const (
	DefaultLanguage = "C#"

	defaultListLimit = 50
	maxListLimit     = 100
)

// Texts of a degraded record.
const (
	FailedErrorMessage = "Failed to analyze code. Please try again."
	FailedRootCause    = "Analysis Failed"
	FailedFix          = "Please check your input and try again, or contact support if the issue persists."
)

// applied in order
var sanitizeBlocklist = []string{"<script>", "</script>", "--", ";--"}

// Sanitize strips a small blocklist of markup and SQL comment markers and
// trims the result. It is not an escaping layer.
func Sanitize(s string) string {
	for _, bad := range sanitizeBlocklist {
		s = strings.ReplaceAll(s, bad, "")
	}
	return strings.TrimSpace(s)
}

var errorTypePattern = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_.]*(?:Exception|Error)\b`)

// MaxErrorTypeLength matches the usage_statistics.error_type column.
const MaxErrorTypeLength = 200

// ErrorType returns the last segment of the first exception or error
// identifier in the log, e.g. "NullReferenceException" for
// "System.NullReferenceException: ...". Longer names keep their trailing
// MaxErrorTypeLength characters so the Exception/Error suffix survives.
func ErrorType(errorLogs string) string {
	match := errorTypePattern.FindString(errorLogs)
	if match == "" {
		return ""
	}
	if i := strings.LastIndex(match, "."); i >= 0 {
		match = match[i+1:]
	}
	if len(match) > MaxErrorTypeLength {
		match = match[len(match)-MaxErrorTypeLength:]
	}
	return match
}

// CreateAnalysis runs the AI analysis and persists the outcome. AI failures
// never surface as errors: they produce a degraded record instead. Only a
// persistence failure is returned.
//
// Once the input is valid the work no longer follows ctx cancellation, so a
// client that disconnects mid-analysis still leaves a stored record. The
// analyzer's attempt timeout bounds the model calls.
func (a *App) CreateAnalysis(ctx context.Context, userID string, in AnalysisInput) (domain.Analysis, error) {
	if strings.TrimSpace(in.ErrorLogs) == "" {
		in.ErrorLogs = ""
	}
	if strings.TrimSpace(in.SourceCode) == "" {
		in.SourceCode = ""
	}
	if err := a.check(in); err != nil {
		return domain.Analysis{}, err
	}

	ctx = context.WithoutCancel(ctx)
	start := a.now()
	language := Sanitize(in.Language)
	if language == "" {
		language = DefaultLanguage
	}
	analysis := domain.Analysis{
		ID:         util.NewSortableID(start),
		UserID:     userID,
		Language:   language,
		ErrorLogs:  Sanitize(in.ErrorLogs),
		SourceCode: Sanitize(in.SourceCode),
		CreatedAt:  start.UTC(),
	}

	result, err := a.analyzer.Analyze(ctx, analysis.Language, analysis.ErrorLogs, analysis.SourceCode)
	if err != nil {
		a.logger.ErrorContext(ctx, "analysis failed, storing degraded record", "err", err)
		degrade(&analysis, err)
	} else {
		analysis.RootCause = Sanitize(result.RootCause)
		analysis.Explanation = Sanitize(result.Explanation)
		analysis.Fix = Sanitize(result.SuggestedFix)
		analysis.CorrectedCode = Sanitize(result.CorrectedCode)
		analysis.Success = true
		analysis.Model = result.Model
		analysis.Attempts = result.Attempts
		analysis.FinishReason = result.FinishReason
	}

	if err := a.store.SaveAnalysis(ctx, analysis); err != nil {
		return domain.Analysis{}, fmt.Errorf("save analysis: %w", err)
	}
	metrics.ObserveAnalysis(analysis.Success)

	elapsed := a.now().Sub(start)
	a.afterAnalysis(ctx, analysis, elapsed)
	return analysis, nil
}

func degrade(analysis *domain.Analysis, err error) {
	analysis.Success = false
	analysis.ErrorMessage = FailedErrorMessage
	analysis.RootCause = FailedRootCause
	analysis.Explanation = "Unable to complete analysis: " + err.Error()
	analysis.Fix = FailedFix
	analysis.CorrectedCode = analysis.SourceCode

	var aiErr *ai.Error
	if errors.As(err, &aiErr) {
		analysis.FailureKind = aiErr.Kind.String()
		analysis.Attempts = aiErr.Attempts
	}
}

// afterAnalysis records the usage statistic, archives the record and emits
// the completion event. Failures are logged only.
func (a *App) afterAnalysis(ctx context.Context, analysis domain.Analysis, elapsed time.Duration) {
	stat := domain.UsageStatistic{
		ID:                  util.NewSortableID(analysis.CreatedAt),
		UserID:              analysis.UserID,
		AnalysisID:          analysis.ID,
		Language:            analysis.Language,
		ErrorType:           ErrorType(analysis.ErrorLogs),
		ResponseTimeSeconds: elapsed.Seconds(),
		CreatedAt:           analysis.CreatedAt,
	}
	if err := a.store.SaveStatistic(ctx, stat); err != nil {
		a.logger.ErrorContext(ctx, "save usage statistic failed", "analysis_id", analysis.ID, "err", err)
	}

	if a.archive != nil {
		key, err := a.archive.Archive(ctx, analysis)
		if err != nil {
			a.logger.WarnContext(ctx, "archive analysis failed", "analysis_id", analysis.ID, "err", err)
		} else {
			a.logger.DebugContext(ctx, "analysis archived", "analysis_id", analysis.ID, "key", key)
		}
	}

	if a.publisher != nil {
		ev := events.AnalysisCompleted{
			AnalysisID:          analysis.ID,
			UserID:              analysis.UserID,
			Language:            analysis.Language,
			ErrorType:           stat.ErrorType,
			Success:             analysis.Success,
			ResponseTimeSeconds: stat.ResponseTimeSeconds,
			CreatedAt:           analysis.CreatedAt,
		}
		if err := a.publisher.PublishAnalysisCompleted(ctx, ev); err != nil {
			a.logger.WarnContext(ctx, "publish analysis event failed", "analysis_id", analysis.ID, "err", err)
		}
	}
}

// GetAnalysis returns one of the user's analyses. Another user's record is
// reported as ErrAnalysisNotFound.
func (a *App) GetAnalysis(ctx context.Context, userID, id string) (domain.Analysis, error) {
	analysis, ok, err := a.store.GetAnalysis(ctx, id)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("fetch analysis: %w", err)
	}
	if !ok || analysis.UserID != userID {
		return domain.Analysis{}, ErrAnalysisNotFound
	}
	return analysis, nil
}

// ListAnalyses returns the user's most recent analyses, newest first.
func (a *App) ListAnalyses(ctx context.Context, userID string, limit int) ([]domain.Analysis, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	items, err := a.store.ListAnalysesByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return items, nil
}

// ListAnalysesByLanguage returns the user's analyses for one language.
func (a *App) ListAnalysesByLanguage(ctx context.Context, userID, language string) ([]domain.Analysis, error) {
	items, err := a.store.ListAnalysesByLanguage(ctx, userID, strings.TrimSpace(language))
	if err != nil {
		return nil, fmt.Errorf("list analyses by language: %w", err)
	}
	return items, nil
}

// SetAnalysisResolution marks whether the analysis fixed the user's bug.
func (a *App) SetAnalysisResolution(ctx context.Context, userID, analysisID string, resolved bool) error {
	stat, ok, err := a.store.GetStatisticByAnalysis(ctx, userID, analysisID)
	if err != nil {
		return fmt.Errorf("fetch statistic: %w", err)
	}
	if !ok {
		return ErrAnalysisNotFound
	}
	stat.IsResolved = resolved
	stat.ResolvedAt = nil
	if resolved {
		now := a.now().UTC()
		stat.ResolvedAt = &now
	}
	if err := a.store.SaveStatistic(ctx, stat); err != nil {
		return fmt.Errorf("save statistic: %w", err)
	}
	return nil
}

// DemoRequest is a sample request for the frontend's "try it" button.
func DemoRequest() AnalysisInput {
	return AnalysisInput{
		Language: DefaultLanguage,
		ErrorLogs: `System.NullReferenceException: Object reference not set to an instance of an object.
   at BugLens.Services.UserService.GetUserById(Int32 id) in C:\Projects\BugLens\Services\UserService.cs:line 45
   at BugLens.Controllers.UserController.GetUser(Int32 id) in C:\Projects\BugLens\Controllers\UserController.cs:line 23`,
		SourceCode: `public class UserService
{
    private List<User> _users;

    public User GetUserById(int id)
    {
        return _users.FirstOrDefault(u => u.Id == id);
    }
}`,
	}
}
