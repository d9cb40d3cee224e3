package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"buglens/pkg/domain"
)

const (
	DefaultStatisticsDays = 30
	maxStatisticsDays     = 365
	topErrorTypes         = 10
)

// Statistics builds the dashboard report over the trailing days window.
// A zero days value selects the default window.
func (a *App) Statistics(ctx context.Context, userID string, days int) (domain.UserStatistics, error) {
	if days == 0 {
		days = DefaultStatisticsDays
	}
	if days < 1 || days > maxStatisticsDays {
		return domain.UserStatistics{}, ErrInvalidDays
	}
	now := a.now().UTC()
	since := now.AddDate(0, 0, -days)

	var (
		stats              []domain.UsageStatistic
		successful, failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = a.store.ListStatisticsSince(gctx, userID, since)
		if err != nil {
			return fmt.Errorf("list statistics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		successful, failed, err = a.store.CountAnalysesBySuccess(gctx, userID, since)
		if err != nil {
			return fmt.Errorf("count analyses: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.UserStatistics{}, err
	}

	report := BuildStatistics(stats, now)
	report.Days = days
	report.Overview.SuccessfulAnalyses = successful
	report.Overview.FailedAnalyses = failed
	return report, nil
}

// BuildStatistics aggregates usage rows in memory. now anchors the
// "today" counter.
func BuildStatistics(stats []domain.UsageStatistic, now time.Time) domain.UserStatistics {
	report := domain.UserStatistics{
		LanguageUsage: []domain.LanguageUsage{},
		Timeline:      []domain.TimelinePoint{},
		CommonErrors:  []domain.ErrorTypeCount{},
	}
	total := len(stats)
	if total == 0 {
		return report
	}

	var (
		resolved     int
		responseTime float64
		today        = now.UTC().Format(time.DateOnly)
		languages    = map[string]int{}
		errorTypes   = map[string]int{}
		days         = map[string]*domain.TimelinePoint{}
		last         time.Time
	)
	for _, s := range stats {
		if s.IsResolved {
			resolved++
		}
		responseTime += s.ResponseTimeSeconds
		languages[s.Language]++
		if s.ErrorType != "" {
			errorTypes[s.ErrorType]++
		}

		day := s.CreatedAt.UTC().Format(time.DateOnly)
		p, ok := days[day]
		if !ok {
			p = &domain.TimelinePoint{Date: day}
			days[day] = p
		}
		p.Analyses++
		if s.IsResolved {
			p.Resolved++
		}
		if day == today {
			report.QuickStats.TodayAnalyses++
		}
		if s.CreatedAt.After(last) {
			last = s.CreatedAt
		}
	}

	report.Overview.TotalAnalyses = total
	report.Overview.ResolvedBugs = resolved
	report.Overview.AverageResponseTime = round2(responseTime / float64(total))
	report.Overview.SuccessRate = round2(float64(resolved) / float64(total) * 100)

	for lang, n := range languages {
		report.LanguageUsage = append(report.LanguageUsage, domain.LanguageUsage{
			Language:   lang,
			Count:      n,
			Percentage: round2(float64(n) / float64(total) * 100),
		})
	}
	sort.Slice(report.LanguageUsage, func(i, j int) bool {
		li, lj := report.LanguageUsage[i], report.LanguageUsage[j]
		if li.Count != lj.Count {
			return li.Count > lj.Count
		}
		return li.Language < lj.Language
	})

	for et, n := range errorTypes {
		report.CommonErrors = append(report.CommonErrors, domain.ErrorTypeCount{
			ErrorType:   et,
			Occurrences: n,
			Severity:    Severity(n),
		})
	}
	sort.Slice(report.CommonErrors, func(i, j int) bool {
		ei, ej := report.CommonErrors[i], report.CommonErrors[j]
		if ei.Occurrences != ej.Occurrences {
			return ei.Occurrences > ej.Occurrences
		}
		return ei.ErrorType < ej.ErrorType
	})
	if len(report.CommonErrors) > topErrorTypes {
		report.CommonErrors = report.CommonErrors[:topErrorTypes]
	}

	for _, p := range days {
		report.Timeline = append(report.Timeline, *p)
	}
	sort.Slice(report.Timeline, func(i, j int) bool {
		return report.Timeline[i].Date < report.Timeline[j].Date
	})

	report.QuickStats.MostUsedLanguage = report.LanguageUsage[0].Language
	lastUTC := last.UTC()
	report.QuickStats.LastAnalysisAt = &lastUTC
	return report
}

// Severity buckets an error type by how often it occurred.
func Severity(occurrences int) string {
	switch {
	case occurrences >= 20:
		return "high"
	case occurrences >= 10:
		return "medium"
	default:
		return "low"
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
