package pipeline

import (
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// InvestmentInsights scans document text for basic investment signals.
func InvestmentInsights(text string) string {
	t := strings.ToLower(whitespaceRe.ReplaceAllString(text, " "))

	var insights []string
	if strings.Contains(t, "revenue") {
		insights = append(insights, "Revenue information identified.")
	}
	if strings.Contains(t, "net income") || strings.Contains(t, "profit") {
		insights = append(insights, "Profitability indicators detected.")
	}
	if strings.Contains(t, "cash flow") {
		insights = append(insights, "Cash flow metrics present.")
	}
	if len(insights) == 0 {
		insights = append(insights, "Limited investment signals detected.")
	}
	return "Investment Insights:\n" + strings.Join(insights, "\n")
}

// RiskAssessment scans document text for explicit risk language.
func RiskAssessment(text string) string {
	t := strings.ToLower(text)

	var risks []string
	if strings.Contains(t, "decline") || strings.Contains(t, "decrease") {
		risks = append(risks, "Potential performance decline mentioned.")
	}
	if strings.Contains(t, "uncertain") || strings.Contains(t, "volatility") {
		risks = append(risks, "Market uncertainty detected.")
	}
	if strings.Contains(t, "increase in expenses") {
		risks = append(risks, "Rising cost risk identified.")
	}
	if len(risks) == 0 {
		risks = append(risks, "No major risks explicitly found.")
	}
	return "Risk Assessment:\n" + strings.Join(risks, "\n")
}
