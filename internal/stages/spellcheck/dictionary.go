package spellcheck

// DefaultDictionary covers common product-search misspellings. Deployments
// with their own vocabulary pass a custom dictionary to Spec.
func DefaultDictionary() map[string]string {
	return map[string]string{
		"labtop":    "laptop",
		"notbook":   "notebook",
		"computor":  "computer",
		"phoen":     "phone",
		"mobil":     "mobile",
		"smatphone": "smartphone",
		"vehical":   "vehicle",
		"automobil": "automobile",
		"cheep":     "cheap",
		"expensiv":  "expensive",
		"afforable": "affordable",
		"qick":      "quick",
		"rapd":      "rapid",
		"excelent":  "excellent",
		"qualit":    "quality",
	}
}
