package schema

import (
	"fmt"
	"strings"
)

// paramRules are checked in order against the lower-cased parameter name.
var paramRules = []struct {
	keywords    []string
	description string
}{
	{[]string{"query", "search"}, "Search query text from the user (product name, keyword or phrase)"},
	{[]string{"message"}, "Message text to send"},
	{[]string{"term", "keyword"}, "Search term or keyword"},
	{[]string{"id"}, "Unique identifier of the item (for example a product or order ID)"},
	{[]string{"name"}, "Name of the item"},
	{[]string{"category"}, "Product category to filter by"},
	{[]string{"price"}, "Price value or price range"},
}

// matchParam returns a keyword-based description for name.
func matchParam(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, rule := range paramRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.description, true
			}
		}
	}
	return fmt.Sprintf("%s value from user query", name), false
}

// describeParam returns a human-readable hint for a parameter name.
func describeParam(name string) string {
	desc, _ := matchParam(name)
	return desc
}

var toolRules = []struct {
	keyword  string
	template string
}{
	{"search", `Search the merchant catalog for products matching what the user asks for. Takes "%s" parameter with the search text.`},
	{"product", `Fetch product information from the merchant catalog. Takes "%s" parameter identifying the product.`},
	{"cart", `Manage the user's shopping cart with the merchant. Takes "%s" parameter describing the cart action.`},
	{"checkout", `Start checkout for the user's cart with the merchant. Takes "%s" parameter for the checkout request.`},
	{"order", `Look up order information with the merchant. Takes "%s" parameter identifying the order.`},
}

// describeTool picks a description by tool type first, then by the leading
// parameter name, then falls back to a generic sentence.
func describeTool(toolType, firstParam string) string {
	for _, candidate := range []string{toolType, firstParam} {
		lower := strings.ToLower(candidate)
		if lower == "" {
			continue
		}
		for _, rule := range toolRules {
			if strings.Contains(lower, rule.keyword) {
				return fmt.Sprintf(rule.template, firstParam)
			}
		}
	}
	label := toolType
	if label == "" {
		label = "Custom"
	}
	return fmt.Sprintf(`%s functionality. Takes "%s" parameter to process the user's request.`, label, firstParam)
}
