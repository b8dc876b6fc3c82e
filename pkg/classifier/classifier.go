// Package classifier derives a structured view of a workflow failure
// report: category, severity, the node involved and search keywords.
// Classification is pure and total over arbitrary report content.
package classifier

import (
	"regexp"
	"strings"

	"github.com/flowmend/flowmend/pkg/models"
)

// rule binds one category to the patterns that select it. Rules are
// evaluated in order; the first match wins, so the table encodes
// priority from most to least specific.
type rule struct {
	category models.ErrorCategory
	patterns []*regexp.Regexp
}

var rules = []rule{
	{models.CategoryAuthentication, compile(
		`\bunauthorized\b`,
		`\b401\b`,
		`invalid\s+(api[ _-]?key|token|credentials?|signature)`,
		`authentication\s+(failed|error|required)`,
		`(expired|revoked)\s+(token|credentials?)`,
	)},
	{models.CategoryPermission, compile(
		`\bforbidden\b`,
		`\b403\b`,
		`(permission|access)\s+denied`,
		`insufficient\s+(permissions?|scopes?|privileges?)`,
	)},
	{models.CategoryRateLimit, compile(
		`rate\s*limit`,
		`\b429\b`,
		`too\s+many\s+requests`,
		`quota\s+exceeded`,
		`throttl(ed|ing)`,
	)},
	{models.CategoryTimeout, compile(
		`\btimed?\s*out\b`,
		`\btimeout\b`,
		`deadline\s+exceeded`,
		`etimedout|esockettimedout`,
	)},
	{models.CategoryNetwork, compile(
		`econnrefused|econnreset|enotfound|ehostunreach|eai_again`,
		`socket\s+hang\s+up`,
		`connection\s+(refused|reset|closed|aborted)`,
		`getaddrinfo|\bdns\b`,
		`network\s+(error|unreachable)`,
		`\b(502|503|504)\b|bad\s+gateway|service\s+unavailable`,
	)},
	{models.CategoryDataFormat, compile(
		`unexpected\s+token`,
		`unexpected\s+end\s+of\s+(json\s+)?input`,
		`(invalid|malformed)\s+(json|xml|payload|body)`,
		`parse\s+error|failed\s+to\s+parse`,
		`(serialization|deserialization|encoding|decoding)\s+(error|failed)`,
	)},
	{models.CategoryMissingData, compile(
		`cannot\s+read\s+propert(y|ies)`,
		`is\s+not\s+defined`,
		`\bundefined\b`,
		`(missing|no)\s+(data|field|value|item|input)`,
		`empty\s+(response|result|array|input)`,
	)},
	{models.CategoryConfiguration, compile(
		`not\s+configured`,
		`(missing|invalid)\s+config(uration)?`,
		`misconfigured`,
		`no\s+credentials?\s+(set|configured|found)`,
	)},
	{models.CategoryValidation, compile(
		`validation\s+(failed|error)`,
		`invalid\s+(input|value|parameter|argument|format)`,
		`required\s+(field|property|parameter|value)`,
		`\b400\b|bad\s+request`,
		`schema\s+(validation|mismatch)`,
	)},
}

var severityByCategory = map[models.ErrorCategory]models.Severity{
	models.CategoryAuthentication: models.SeverityCritical,
	models.CategoryPermission:     models.SeverityCritical,
	models.CategoryRateLimit:      models.SeverityWarning,
	models.CategoryTimeout:        models.SeverityWarning,
	models.CategoryNetwork:        models.SeverityError,
	models.CategoryValidation:     models.SeverityError,
	models.CategoryConfiguration:  models.SeverityError,
	models.CategoryDataFormat:     models.SeverityError,
	models.CategoryMissingData:    models.SeverityError,
	models.CategoryUnknown:        models.SeverityError,
}

var areasByCategory = map[models.ErrorCategory][]string{
	models.CategoryAuthentication: {"credentials"},
	models.CategoryPermission:     {"credentials", "access"},
	models.CategoryRateLimit:      {"throttling"},
	models.CategoryTimeout:        {"connectivity", "performance"},
	models.CategoryNetwork:        {"connectivity"},
	models.CategoryValidation:     {"input"},
	models.CategoryConfiguration:  {"configuration"},
	models.CategoryDataFormat:     {"data"},
	models.CategoryMissingData:    {"data"},
}

var (
	nodeQuotedRe = regexp.MustCompile(`(?i)node\s+['"\x60]([^'"\x60]+)['"\x60]`)
	nodeBareRe   = regexp.MustCompile(`(?i)\bnode\s+([A-Za-z][\w-]*)`)
	wordRe       = regexp.MustCompile(`[a-z0-9_]+`)
)

const maxKeywords = 10

// Classify derives the parsed view of a report. The workflow document is
// optional; when present it resolves node names to node types.
func Classify(report *models.ErrorReport, doc *models.WorkflowDocument) *models.ParsedError {
	text := report.Message
	if report.StackTrace != "" {
		text += "\n" + report.StackTrace
	}

	category := categorize(text)

	parsed := &models.ParsedError{
		Category: category,
		Severity: severityByCategory[category],
		NodeName: report.NodeName,
		NodeType: report.NodeType,
		Keywords: keywords(report.Message),
	}

	if parsed.NodeName == "" {
		parsed.NodeName = extractNodeName(text)
	}

	if parsed.NodeType == "" && parsed.NodeName != "" && doc != nil {
		if node := doc.NodeByName(parsed.NodeName); node != nil {
			parsed.NodeType = node.Type
		}
	}

	parsed.AffectedAreas = affectedAreas(category, parsed.NodeType)

	return parsed
}

func categorize(text string) models.ErrorCategory {
	lowered := strings.ToLower(text)

	for _, r := range rules {
		for _, pattern := range r.patterns {
			if pattern.MatchString(lowered) {
				return r.category
			}
		}
	}

	return models.CategoryUnknown
}

// extractNodeName pulls the failing node's name out of free-form error
// text. Quoted forms ("node 'HTTP Request'") are preferred over bare
// single-word forms.
func extractNodeName(text string) string {
	if match := nodeQuotedRe.FindStringSubmatch(text); match != nil {
		return strings.TrimSpace(match[1])
	}

	if match := nodeBareRe.FindStringSubmatch(text); match != nil {
		return match[1]
	}

	return ""
}

func affectedAreas(category models.ErrorCategory, nodeType string) []string {
	areas := append([]string(nil), areasByCategory[category]...)

	lowered := strings.ToLower(nodeType)
	for _, hint := range nodeTypeAreas {
		if !containsAny(lowered, hint.needles) {
			continue
		}

		if !contains(areas, hint.area) {
			areas = append(areas, hint.area)
		}
	}

	return areas
}

var nodeTypeAreas = []struct {
	area    string
	needles []string
}{
	{"http", []string{"http", "webhook", "graphql"}},
	{"database", []string{"postgres", "mysql", "mongo", "redis", "sql", "database"}},
	{"messaging", []string{"slack", "email", "gmail", "telegram", "discord"}},
	{"scheduling", []string{"schedule", "cron", "wait"}},
}

// keywords tokenizes the message into lowercase search terms: stop words
// and short tokens are dropped, duplicates keep their first position and
// the result is capped.
func keywords(message string) []string {
	seen := make(map[string]bool)
	words := make([]string, 0, maxKeywords)

	for _, token := range wordRe.FindAllString(strings.ToLower(message), -1) {
		if len(token) <= 3 || stopWords[token] || seen[token] {
			continue
		}

		seen[token] = true

		words = append(words, token)
		if len(words) == maxKeywords {
			break
		}
	}

	if len(words) == 0 {
		return nil
	}

	return words
}

var stopWords = map[string]bool{
	"about": true, "after": true, "again": true, "because": true,
	"been": true, "before": true, "being": true, "cannot": true,
	"could": true, "does": true, "error": true, "failed": true,
	"failure": true, "from": true, "have": true, "into": true,
	"node": true, "should": true, "that": true, "their": true,
	"there": true, "these": true, "this": true, "those": true,
	"unable": true, "when": true, "which": true, "while": true,
	"with": true, "would": true, "your": true,
}

func compile(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}

	return compiled
}

func contains(list []string, item string) bool {
	for _, candidate := range list {
		if candidate == item {
			return true
		}
	}

	return false
}

func containsAny(s string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}

	return false
}
