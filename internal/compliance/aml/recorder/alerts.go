package recorder

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/matrix"
)

var sourceTitles = map[aml.SourceKind]string{
	aml.SourceSanctions:    "Sanctions list match",
	aml.SourcePEP:          "Politically exposed person match",
	aml.SourceAdverseMedia: "Adverse media coverage",
	aml.SourceWalletRisk:   "High-risk wallet exposure",
}

// BuildAlerts derives the alerts a screening raises: one per source that produced candidates,
// plus a threshold alert when the assessment is HIGH or CRITICAL.
func BuildAlerts(result *aml.ScreeningResult, m *matrix.RiskMatrix, now time.Time) []aml.Alert {
	strongest := make(map[aml.SourceKind]aml.MatchCandidate)
	for _, c := range result.Candidates {
		if cur, ok := strongest[c.Source]; !ok || c.Severity > cur.Severity {
			strongest[c.Source] = c
		}
	}

	var alerts []aml.Alert
	for _, kind := range aml.AllSources {
		c, ok := strongest[kind]
		if !ok {
			continue
		}
		title := sourceTitles[kind]
		if c.MatchedName != "" {
			title = fmt.Sprintf("%s: %s (%s)", title, c.MatchedName, c.ListID)
		}
		alerts = append(alerts, newAlert(result, aml.AlertTypeForSource(kind), m.Decide(c.Severity).Level, title, c.Severity, now))
	}

	a := result.Assessment
	if a.Level.Rank() >= aml.RiskLevelHigh.Rank() {
		title := fmt.Sprintf("Risk score %.2f reached %s", a.OverallScore, a.Level)
		alerts = append(alerts, newAlert(result, aml.AlertRiskThreshold, a.Level, title, a.OverallScore, now))
	}
	return alerts
}

func newAlert(result *aml.ScreeningResult, t aml.AlertType, severity aml.RiskLevel, title string, score float64, now time.Time) aml.Alert {
	return aml.Alert{
		ID:          uuid.New(),
		UserID:      result.UserID,
		ScreeningID: result.ID,
		Type:        t,
		Status:      aml.AlertStatusOpen,
		Severity:    severity,
		Title:       truncate(title, 255),
		Score:       score,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
