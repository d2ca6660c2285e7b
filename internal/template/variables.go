package template

import (
	"sort"
	"time"
)

// VariableInfo documents a template variable
type VariableInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DefaultVariables are the variables every recipient context provides
var DefaultVariables = map[string]string{
	"first_name":          "First name",
	"last_name":           "Last name",
	"telegram_username":   "Telegram username",
	"email":               "Email address",
	"phone":               "Phone number",
	"country":             "Country",
	"city":                "City",
	"club":                "Club or school",
	"company":             "Company",
	"position":            "Position or title",
	"certificate_name":    "Name on certificate",
	"presentation":        "Presentation topic",
	"bio":                 "Biography",
	"competition_name":    "Competition name",
	"competition_type":    "Competition type",
	"role":                "Role (player, adviser, viewer, voter)",
	"registration_status": "Registration status (pending, approved, rejected)",
	"date":                "Current date",
	"time":                "Current time",
}

// Placeholder returns the preview stand-in for a variable
func Placeholder(name string) string {
	if desc, ok := DefaultVariables[name]; ok {
		return "[" + desc + "]"
	}
	return "[" + name + "]"
}

// ListVariables returns DefaultVariables sorted by name
func ListVariables() []VariableInfo {
	vars := make([]VariableInfo, 0, len(DefaultVariables))
	for name, desc := range DefaultVariables {
		vars = append(vars, VariableInfo{Name: name, Description: desc})
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}

// SampleContext returns illustrative values for every default variable
func SampleContext(now time.Time) map[string]any {
	return map[string]any{
		"first_name":          "John",
		"last_name":           "Doe",
		"telegram_username":   "johndoe",
		"email":               "john.doe@example.com",
		"phone":               "+1234567890",
		"country":             "United States",
		"city":                "New York",
		"club":                "Chess Club NYC",
		"company":             "Acme Corp",
		"position":            "Developer",
		"certificate_name":    "John Doe",
		"presentation":        "The Future of Chess",
		"bio":                 "International chess player",
		"competition_name":    "Spring Open 2026",
		"competition_type":    "Online Tournament",
		"role":                "player",
		"registration_status": "approved",
		"date":                now.Format("2006-01-02"),
		"time":                now.Format("15:04:05"),
	}
}
