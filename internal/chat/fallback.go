package chat

import (
	"fmt"
	"strings"
)

type rule struct {
	keywords []string
	template string
}

// Evaluated in order; the first rule with a keyword in the message wins.
var rules = []rule{
	{
		keywords: []string{"symptom"},
		template: "Common symptoms of %s include leaf spots, wilting, yellowing, and stunted growth. The exact symptoms can vary depending on the plant species and disease severity.",
	},
	{
		keywords: []string{"treat", "cure"},
		template: "To treat %s, consider removing infected plant parts, improving air circulation, and using appropriate fungicides or pesticides. Always follow label instructions carefully.",
	},
	{
		keywords: []string{"prevent"},
		template: "To prevent %s, maintain good plant hygiene, avoid overhead watering, ensure proper spacing between plants, and use disease-resistant varieties when possible.",
	},
	{
		keywords: []string{"cause"},
		template: "%s is typically caused by fungal, bacterial, or viral pathogens. Environmental factors like humidity, temperature, and poor air circulation can also contribute.",
	},
}

const genericTemplate = "I can help you with %s. This is a plant disease that affects various crops. Ask me about symptoms, treatment, prevention, or causes for more specific information."

// unknownDisease stands in when a request carries a message but no label.
const unknownDisease = "this plant disease"

// Fallback returns canned guidance about disease chosen by keywords in message.
func Fallback(disease, message string) string {
	if disease == "" {
		disease = unknownDisease
	}
	lower := strings.ToLower(message)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return fmt.Sprintf(r.template, disease)
			}
		}
	}
	return fmt.Sprintf(genericTemplate, disease)
}
