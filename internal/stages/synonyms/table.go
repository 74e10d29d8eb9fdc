package synonyms

// DefaultTable maps common product-search terms to their alternatives.
func DefaultTable() map[string][]string {
	return map[string][]string{
		"laptop": {"notebook", "computer"},
		"phone":  {"mobile", "smartphone", "cellphone"},
		"car":    {"vehicle", "automobile", "auto"},
		"buy":    {"purchase", "acquire", "get"},
		"cheap":  {"inexpensive", "affordable", "budget"},
		"fast":   {"quick", "rapid", "speedy"},
		"good":   {"great", "excellent", "quality"},
	}
}
