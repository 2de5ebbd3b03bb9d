package workspace

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// slugRegex matches characters that should be replaced with hyphens
	slugRegex = regexp.MustCompile(`[^a-z0-9]+`)
	// multiHyphenRegex matches multiple consecutive hyphens
	multiHyphenRegex = regexp.MustCompile(`-+`)
)

// Slugify converts a job name into a filesystem-safe directory name.
// Rules:
// - Lowercase
// - Replace spaces and special chars with hyphens (keep a-z, 0-9, hyphen)
// - Collapse multiple hyphens
// - Trim leading/trailing hyphens
// - Max length: 50 chars
//
// Examples:
//
//	"Build & Test" -> "build-test"
//	"deploy/prod"  -> "deploy-prod"
func Slugify(name string) string {
	if name == "" {
		return "job"
	}

	// Normalize unicode casing before lowercasing.
	caser := cases.Title(language.English)
	result := caser.String(strings.TrimSpace(name))
	result = strings.ToLower(result)

	result = slugRegex.ReplaceAllString(result, "-")
	result = multiHyphenRegex.ReplaceAllString(result, "-")
	result = strings.Trim(result, "-")

	if len(result) > 50 {
		cutoff := 50
		if idx := strings.LastIndex(result[:cutoff], "-"); idx > 0 {
			cutoff = idx
		}
		result = result[:cutoff]
	}

	if result == "" {
		return "job"
	}
	return result
}

// GenerateUniqueSlug generates a slug from a name, ensuring it doesn't
// collide with existing slugs by adding a numeric suffix if needed.
func GenerateUniqueSlug(name string, existing []string) string {
	slug := Slugify(name)
	for i := 1; contains(existing, slug); i++ {
		slug = fmt.Sprintf("%s-%d", Slugify(name), i)
	}
	return slug
}

// UniqueSlugs maps each name to a distinct slug. Names that slugify
// identically ("build_test" and "build-test") get numeric suffixes.
// Names are assigned in sorted order so the mapping is stable across
// callers.
func UniqueSlugs(names []string) map[string]string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	slugs := make(map[string]string, len(sorted))
	taken := make([]string, 0, len(sorted))
	for _, name := range sorted {
		slug := GenerateUniqueSlug(name, taken)
		slugs[name] = slug
		taken = append(taken, slug)
	}
	return slugs
}

// contains checks if a string exists in a slice.
func contains(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}
