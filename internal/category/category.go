// Package category parses Outlook-style appointment categories of the
// form "<customer name> - <billing type>" (or the reversed
// "<billing type> - <customer name>"), and the handful of special
// categories (admin, break, online) that don't carry a customer name.
package category

import (
	"strings"

	"github.com/auriora/calendar-archivist/internal/models"
)

var validBillingTypes = map[string]bool{
	"billable":     true,
	"non-billable": true,
}

var specialCategories = map[string]bool{
	"admin - non-billable": true,
	"break - non-billable": true,
	"online":               true,
}

// ParseOutlookCategory splits a single category string into
// (customer, billingType). Both are empty when the string doesn't
// match a recognized format.
func ParseOutlookCategory(categoryString string) (customer, billingType string) {
	if categoryString == "" {
		return "", ""
	}

	clean := strings.ToLower(strings.TrimSpace(categoryString))
	if specialCategories[clean] {
		if clean == "online" {
			return "Online", "online"
		}
		parts := strings.SplitN(clean, " - ", 2)
		if len(parts) == 2 {
			return strings.Title(parts[0]), parts[1]
		}
	}

	if !strings.Contains(categoryString, " - ") {
		return "", ""
	}
	parts := strings.Split(categoryString, " - ")
	if len(parts) != 2 {
		return "", ""
	}

	part1 := strings.TrimSpace(parts[0])
	part2 := strings.TrimSpace(parts[1])
	if part1 == "" || part2 == "" {
		return "", ""
	}

	part1Lower, part2Lower := strings.ToLower(part1), strings.ToLower(part2)

	if validBillingTypes[part2Lower] {
		return part1, part2Lower
	}
	if validBillingTypes[part1Lower] {
		return part2, part1Lower
	}
	return "", ""
}

// ValidationResult is the outcome of validating a batch of category
// strings.
type ValidationResult struct {
	Valid   []string
	Invalid []string
	Issues  []string
}

// ValidateCategoryFormat validates each category string and collects
// a human-readable issue per rejection.
func ValidateCategoryFormat(categories []string) ValidationResult {
	result := ValidationResult{}
	for _, cat := range categories {
		if cat == "" {
			result.Invalid = append(result.Invalid, cat)
			result.Issues = append(result.Issues, "Empty or non-string category: "+cat)
			continue
		}

		customer, billingType := ParseOutlookCategory(cat)
		if customer != "" && billingType != "" {
			result.Valid = append(result.Valid, cat)
			continue
		}

		result.Invalid = append(result.Invalid, cat)
		switch {
		case !strings.Contains(cat, " - "):
			result.Issues = append(result.Issues, "Missing ' - ' separator in category: "+cat)
		case len(strings.Split(cat, " - ")) != 2:
			result.Issues = append(result.Issues, "Too many ' - ' separators in category: "+cat)
		case strings.TrimSpace(strings.Split(cat, " - ")[0]) == "":
			result.Issues = append(result.Issues, "Empty customer name in category: "+cat)
		default:
			secondPart := strings.ToLower(strings.TrimSpace(strings.Split(cat, " - ")[1]))
			if !validBillingTypes[secondPart] && !specialCategories[strings.ToLower(cat)] {
				result.Issues = append(result.Issues, "Invalid billing type in category: "+cat)
			}
		}
	}
	return result
}

// IsSpecialCategory reports whether category is one of the
// non-customer special categories (admin, break, online).
func IsSpecialCategory(cat string) bool {
	if cat == "" {
		return false
	}
	return specialCategories[strings.ToLower(strings.TrimSpace(cat))]
}

// CustomerBillingInfo is the result of extracting customer/billing
// information from a single appointment's categories.
type CustomerBillingInfo struct {
	Customer        string
	BillingType     string
	IsValid         bool
	Issues          []string
	CategoriesFound []string
	IsPersonal      bool
}

// ExtractCustomerBillingInfo reads an appointment's categories and
// derives its customer/billing classification. An appointment with no
// categories at all is treated as personal; one with categories that
// fail to parse is flagged invalid but not personal (a misconfigured
// work appointment, not a personal one).
func ExtractCustomerBillingInfo(appt *models.Appointment) CustomerBillingInfo {
	info := CustomerBillingInfo{}
	info.CategoriesFound = extractCategories(appt)

	if len(info.CategoriesFound) == 0 {
		info.IsPersonal = true
		info.Issues = append(info.Issues, "No categories found - treating as personal appointment")
		return info
	}

	validation := ValidateCategoryFormat(info.CategoriesFound)
	if len(validation.Valid) > 0 {
		firstValid := validation.Valid[0]
		customer, billingType := ParseOutlookCategory(firstValid)
		info.Customer = customer
		info.BillingType = billingType
		info.IsValid = true

		if len(validation.Valid) > 1 {
			info.Issues = append(info.Issues, "Multiple valid categories found, using first: "+firstValid)
		}
	}
	info.Issues = append(info.Issues, validation.Issues...)

	return info
}

func extractCategories(appt *models.Appointment) []string {
	if appt == nil {
		return nil
	}
	var out []string
	for _, c := range appt.Categories {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// ShouldMarkPrivate reports whether an appointment should be marked
// private based on its category classification (personal
// appointments only).
func ShouldMarkPrivate(appt *models.Appointment) bool {
	return ExtractCustomerBillingInfo(appt).IsPersonal
}

// ProcessAppointments applies privacy classification to a batch,
// marking personal appointments' Sensitivity as private in place.
func ProcessAppointments(appointments []*models.Appointment) []*models.Appointment {
	for _, appt := range appointments {
		if ShouldMarkPrivate(appt) {
			appt.Sensitivity = models.SensitivityPrivate
		}
	}
	return appointments
}

// Stats aggregates category classification across a whole archive
// run, supplementing the per-appointment parse with run-wide customer
// and billing-type breakdowns.
type Stats struct {
	TotalAppointments          int
	AppointmentsWithCategories int
	PersonalAppointments       int
	ValidCategories            int
	InvalidCategories          int
	Customers                  []string
	BillingTypes                map[string]int
	Issues                      []string
}

// GetCategoryStatistics computes run-wide Stats over a batch of
// appointments.
func GetCategoryStatistics(appointments []*models.Appointment) Stats {
	stats := Stats{
		TotalAppointments: len(appointments),
		BillingTypes:      map[string]int{},
	}
	customerSet := map[string]bool{}

	for _, appt := range appointments {
		info := ExtractCustomerBillingInfo(appt)

		if len(info.CategoriesFound) > 0 {
			stats.AppointmentsWithCategories++
		}
		if info.IsPersonal {
			stats.PersonalAppointments++
		}
		if info.IsValid {
			stats.ValidCategories++
			if info.Customer != "" {
				customerSet[info.Customer] = true
			}
			if info.BillingType != "" {
				stats.BillingTypes[info.BillingType]++
			}
		} else if !info.IsPersonal {
			stats.InvalidCategories++
		}
		stats.Issues = append(stats.Issues, info.Issues...)
	}

	for customer := range customerSet {
		stats.Customers = append(stats.Customers, customer)
	}
	return stats
}
