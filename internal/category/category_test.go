package category

import (
	"testing"

	"github.com/auriora/calendar-archivist/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestParseOutlookCategory_StandardOrder(t *testing.T) {
	customer, billing := ParseOutlookCategory("Acme Corp - billable")
	assert.Equal(t, "Acme Corp", customer)
	assert.Equal(t, "billable", billing)
}

func TestParseOutlookCategory_ReversedOrder(t *testing.T) {
	customer, billing := ParseOutlookCategory("billable - Acme Corp")
	assert.Equal(t, "Acme Corp", customer)
	assert.Equal(t, "billable", billing)
}

func TestParseOutlookCategory_Special(t *testing.T) {
	customer, billing := ParseOutlookCategory("Admin - Non-Billable")
	assert.Equal(t, "Admin", customer)
	assert.Equal(t, "non-billable", billing)

	customer, billing = ParseOutlookCategory("Online")
	assert.Equal(t, "Online", customer)
	assert.Equal(t, "online", billing)
}

func TestParseOutlookCategory_Invalid(t *testing.T) {
	customer, billing := ParseOutlookCategory("Just A Category")
	assert.Empty(t, customer)
	assert.Empty(t, billing)

	customer, billing = ParseOutlookCategory("")
	assert.Empty(t, customer)
	assert.Empty(t, billing)
}

func TestValidateCategoryFormat(t *testing.T) {
	result := ValidateCategoryFormat([]string{"Acme Corp - billable", "no-separator", ""})
	assert.Equal(t, []string{"Acme Corp - billable"}, result.Valid)
	assert.Len(t, result.Invalid, 2)
	assert.Len(t, result.Issues, 2)
}

func TestIsSpecialCategory(t *testing.T) {
	assert.True(t, IsSpecialCategory("Online"))
	assert.True(t, IsSpecialCategory("admin - non-billable"))
	assert.False(t, IsSpecialCategory("Acme Corp - billable"))
}

func TestExtractCustomerBillingInfo_NoCategories(t *testing.T) {
	info := ExtractCustomerBillingInfo(&models.Appointment{})
	assert.True(t, info.IsPersonal)
	assert.False(t, info.IsValid)
}

func TestExtractCustomerBillingInfo_Valid(t *testing.T) {
	info := ExtractCustomerBillingInfo(&models.Appointment{Categories: []string{"Acme Corp - billable"}})
	assert.False(t, info.IsPersonal)
	assert.True(t, info.IsValid)
	assert.Equal(t, "Acme Corp", info.Customer)
}

func TestExtractCustomerBillingInfo_MisconfiguredNotPersonal(t *testing.T) {
	info := ExtractCustomerBillingInfo(&models.Appointment{Categories: []string{"not formatted properly"}})
	assert.False(t, info.IsPersonal)
	assert.False(t, info.IsValid)
	assert.NotEmpty(t, info.Issues)
}

func TestShouldMarkPrivate(t *testing.T) {
	assert.True(t, ShouldMarkPrivate(&models.Appointment{}))
	assert.False(t, ShouldMarkPrivate(&models.Appointment{Categories: []string{"Acme Corp - billable"}}))
}

func TestProcessAppointments(t *testing.T) {
	personal := &models.Appointment{}
	work := &models.Appointment{Categories: []string{"Acme Corp - billable"}}
	ProcessAppointments([]*models.Appointment{personal, work})
	assert.Equal(t, models.SensitivityPrivate, personal.Sensitivity)
	assert.NotEqual(t, models.SensitivityPrivate, work.Sensitivity)
}

func TestGetCategoryStatistics(t *testing.T) {
	appointments := []*models.Appointment{
		{Categories: []string{"Acme Corp - billable"}},
		{Categories: []string{"Beta LLC - non-billable"}},
		{},
		{Categories: []string{"malformed"}},
	}
	stats := GetCategoryStatistics(appointments)
	assert.Equal(t, 4, stats.TotalAppointments)
	assert.Equal(t, 3, stats.AppointmentsWithCategories)
	assert.Equal(t, 1, stats.PersonalAppointments)
	assert.Equal(t, 2, stats.ValidCategories)
	assert.Equal(t, 1, stats.InvalidCategories)
	assert.ElementsMatch(t, []string{"Acme Corp", "Beta LLC"}, stats.Customers)
	assert.Equal(t, 1, stats.BillingTypes["billable"])
	assert.Equal(t, 1, stats.BillingTypes["non-billable"])
}
