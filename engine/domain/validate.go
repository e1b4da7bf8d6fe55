package domain

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Request limits.
const (
	MaxBatchCombos = 500
	MaxComboRunes  = 100
)

var localeRegex = regexp.MustCompile(`^[a-zA-Z]{2}([-_][a-zA-Z]{2})?$`)

// EnrichRequest is a batch enrichment request from the dashboard.
type EnrichRequest struct {
	AppID          string   `json:"appId"`
	OrganizationID string   `json:"organizationId"`
	Locale         string   `json:"locale"`
	Platform       Platform `json:"platform"`
	Combos         []string `json:"combos"`
	Refresh        bool     `json:"refresh,omitempty"`
}

// AnalyzeRequest runs the full generate, score and enrich flow for an app.
type AnalyzeRequest struct {
	AppID          string             `json:"appId"`
	OrganizationID string             `json:"organizationId"`
	Locale         string             `json:"locale"`
	Platform       Platform           `json:"platform"`
	Metadata       Metadata           `json:"metadata"`
	Trends         map[string]float64 `json:"trends,omitempty"`
	Limit          int                `json:"limit,omitempty"`
	Refresh        bool               `json:"refresh,omitempty"`
}

// NormalizeLocale lowercases a locale and uses '-' as separator.
func NormalizeLocale(locale string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(locale)), "_", "-")
}

// ValidateLocale checks a locale like "en" or "en-US".
func ValidateLocale(locale string) error {
	if !localeRegex.MatchString(strings.TrimSpace(locale)) {
		return NewValidationError("locale", locale, ErrInvalidLocale)
	}
	return nil
}

// ValidatePlatform checks the store platform.
func ValidatePlatform(p Platform) error {
	switch p {
	case PlatformIOS, PlatformAndroid:
		return nil
	}
	return NewValidationError("platform", string(p), ErrInvalidPlatform)
}

// validateApp checks the fields shared by every app-scoped request.
func validateApp(appID, orgID, locale string, platform Platform) error {
	if strings.TrimSpace(appID) == "" {
		return NewValidationError("appId", appID, ErrMissingField)
	}
	if _, err := uuid.Parse(orgID); err != nil {
		return NewValidationError("organizationId", orgID, ErrInvalidOrg)
	}
	if err := ValidateLocale(locale); err != nil {
		return err
	}
	return ValidatePlatform(platform)
}

// ValidateEnrichRequest validates a batch enrichment request.
func ValidateEnrichRequest(r EnrichRequest) error {
	if err := validateApp(r.AppID, r.OrganizationID, r.Locale, r.Platform); err != nil {
		return err
	}
	if len(r.Combos) == 0 {
		return NewValidationError("combos", "", ErrNoCombos)
	}
	if len(r.Combos) > MaxBatchCombos {
		return NewValidationError("combos", strconv.Itoa(len(r.Combos)), ErrTooManyCombos)
	}
	for _, c := range r.Combos {
		if utf8.RuneCountInString(c) > MaxComboRunes {
			return NewValidationError("combos", c, ErrComboTooLong)
		}
	}
	return nil
}

// ValidateAnalyzeRequest validates a full analysis request.
func ValidateAnalyzeRequest(r AnalyzeRequest) error {
	if err := validateApp(r.AppID, r.OrganizationID, r.Locale, r.Platform); err != nil {
		return err
	}
	return ValidateMetadata(r.Metadata)
}

// ValidateMetadata requires at least one non-blank field.
func ValidateMetadata(m Metadata) error {
	if strings.TrimSpace(m.Title) != "" || strings.TrimSpace(m.Subtitle) != "" {
		return nil
	}
	for _, c := range m.Custom {
		if strings.TrimSpace(c) != "" {
			return nil
		}
	}
	return NewValidationError("metadata", "", ErrMetadataEmpty)
}
