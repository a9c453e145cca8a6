package ingest

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"decodebook-backend/models"

	"github.com/ledongthuc/pdf"
)

var (
	sectionHeaderRe = regexp.MustCompile(`^Section\s+(\d{1,2})\s*[—–-]\s*(.+)$`)
	ruleStartRe     = regexp.MustCompile(`^(\d{1,2}-\d{3,4})\s+(.+)$`)
	pageNoiseRe     = regexp.MustCompile(`(?i)^(page\s+\d+|\d+\s*$|©.*)`)
)

// ExtractText extracts plain text from a PDF file
func ExtractText(filePath string) (string, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	b, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract plain text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(b); err != nil {
		return "", fmt.Errorf("failed to read text: %w", err)
	}
	return buf.String(), nil
}

// LoadPDF extracts and parses the rules of a code-book PDF
func LoadPDF(filePath string) ([]models.Rule, error) {
	text, err := ExtractText(filePath)
	if err != nil {
		return nil, err
	}
	rules := ParseRules(text)
	if len(rules) == 0 {
		return nil, fmt.Errorf("no rules found in %s", filePath)
	}
	return rules, nil
}

// ParseRules splits code-book text into rules
// A rule starts at a line like "12-618 Electrical metallic tubing, outdoor use" and runs until the next rule,
// subsection heading or section header. The first occurrence of a rule number wins.
func ParseRules(text string) []models.Rule {
	lines := cleanLines(text)

	var (
		rules      []models.Rule
		seen       = make(map[string]bool)
		section    string
		subsection *string
		current    *models.Rule
		body       []string
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(strings.Join(body, "\n"))
		if current.Content == "" {
			current.Content = current.Title
		}
		if !seen[current.RuleID] {
			seen[current.RuleID] = true
			rules = append(rules, *current)
		}
		current = nil
		body = nil
	}

	for i, line := range lines {
		if m := sectionHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			section = strings.TrimSpace(m[2])
			subsection = nil
			continue
		}

		if m := ruleStartRe.FindStringSubmatch(line); m != nil {
			flush()
			ruleSection := section
			if ruleSection == "" {
				ruleSection = "Section " + strings.SplitN(m[1], "-", 2)[0]
			}
			current = &models.Rule{
				RuleID:     m[1],
				Section:    ruleSection,
				Subsection: subsection,
				Title:      strings.TrimSpace(m[2]),
			}
			continue
		}

		if isSubsectionHeading(line) && i+1 < len(lines) && ruleStartRe.MatchString(lines[i+1]) {
			flush()
			heading := line
			subsection = &heading
			continue
		}

		if current != nil {
			body = append(body, line)
		}
	}
	flush()

	return rules
}

func cleanLines(text string) []string {
	text = strings.ReplaceAll(text, "\f", "\n")
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" || pageNoiseRe.MatchString(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// isSubsectionHeading reports whether a line looks like a short title rather than rule text
func isSubsectionHeading(line string) bool {
	if len(line) > 80 || strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
		return false
	}
	first := line[0]
	if first < 'A' || first > 'Z' {
		return false
	}
	return len(strings.Fields(line)) <= 10
}
