package search

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DefaultSynonyms maps Dutch garment terms to the English labels the region
// detector tends to emit. Keys and values are matched case-insensitively.
var DefaultSynonyms = map[string][]string{
	"trui":     {"sweater", "pullover", "knitwear", "trui", "vest"},
	"rok":      {"skirt", "rok"},
	"broek":    {"pants", "trousers", "jeans", "broek", "shorts"},
	"blouse":   {"blouse", "shirt", "top", "hemd"},
	"schoenen": {"shoes", "boots", "laarzen", "schoenen", "sneakers"},
	"blazer":   {"blazer", "jasje", "colbert", "jack", "jacket"},
	"tas":      {"bag", "tas", "handtas", "rugzak"},
	"ketting":  {"necklace", "ketting", "halsketting"},
	"armband":  {"bracelet", "armband"},
}

// LoadSynonyms reads a synonym table from a JSON file of the shape
// {"term": ["label", ...], ...}. An empty path returns the default table.
func LoadSynonyms(path string) (map[string][]string, error) {
	if path == "" {
		return DefaultSynonyms, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read synonyms file: %w", err)
	}
	var table map[string][]string
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse synonyms file %s: %w", path, err)
	}
	return table, nil
}

// synonymsFor returns the expansion list for a query term, or nil when the
// term is not in the table.
func synonymsFor(table map[string][]string, term string) []string {
	term = strings.ToLower(strings.TrimSpace(term))
	if labels, ok := table[term]; ok {
		return labels
	}
	// The table is keyed lowercase by convention, but a user-supplied file
	// may not be.
	for key, labels := range table {
		if strings.ToLower(key) == term {
			return labels
		}
	}
	return nil
}
