package service

import (
	"fmt"
	"regexp"
	"strings"

	"minicrm/internal/models"
)

const namePlaceholder = "{{name}}"

var placeholderPattern = regexp.MustCompile(`\{\{\s*[a-zA-Z_]+\s*\}\}`)

// TemplateService handles message template rendering
type TemplateService struct{}

// NewTemplateService creates a new template service
func NewTemplateService() *TemplateService {
	return &TemplateService{}
}

// Render substitutes {{name}} with the customer's name.
// Other placeholders are left in the text untouched.
func (s *TemplateService) Render(template string, customer *models.Customer) string {
	name := ""
	if customer != nil {
		name = customer.Name
	}
	return strings.ReplaceAll(template, namePlaceholder, name)
}

// ValidateTemplate checks that a template is usable for a campaign
func (s *TemplateService) ValidateTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("template cannot be empty")
	}
	return nil
}

// UnknownPlaceholders lists the placeholders Render leaves in the text
func (s *TemplateService) UnknownPlaceholders(template string) []string {
	var unknown []string
	for _, p := range placeholderPattern.FindAllString(template, -1) {
		if p != namePlaceholder {
			unknown = append(unknown, p)
		}
	}
	return unknown
}
