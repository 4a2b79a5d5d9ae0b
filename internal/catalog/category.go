package catalog

import "strings"

// Category is one of the fixed knowledge fragment subject tags.
type Category string

const (
	Historical   Category = "HISTORICAL"
	Scientific   Category = "SCIENTIFIC"
	Cultural     Category = "CULTURAL"
	Technical    Category = "TECHNICAL"
	Biographical Category = "BIOGRAPHICAL"
)

// DefaultCategory is assigned when a fragment is shared without a valid category.
const DefaultCategory = Historical

// CategorySpec describes how a category is presented.
type CategorySpec struct {
	Key         Category `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Icon        string   `json:"icon"`
	Color       string   `json:"color"`
}

var categories = []CategorySpec{
	{Historical, "Historical", "Events, eras, and past occurrences of significance", "📜", "#8B4513"},
	{Scientific, "Scientific", "Research, discoveries, and natural laws", "🔬", "#1E90FF"},
	{Cultural, "Cultural", "Art, traditions, social practices, and beliefs", "🎭", "#9932CC"},
	{Technical, "Technical", "Engineering, code, mechanics, and procedures", "⚙️", "#696969"},
	{Biographical, "Biographical", "Life stories, personal histories, and memoirs", "👤", "#FF6347"},
}

// Categories returns every category in declaration order.
func Categories() []CategorySpec {
	out := make([]CategorySpec, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory resolves a category name case-insensitively.
// The second return value is false when nothing matches.
func ParseCategory(s string) (Category, bool) {
	key := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, c := range categories {
		if c.Key == key {
			return c.Key, true
		}
	}
	return "", false
}

// Spec returns the presentation bundle for c. Unknown values fall back to
// the default category.
func (c Category) Spec() CategorySpec {
	for _, spec := range categories {
		if spec.Key == c {
			return spec
		}
	}
	return categories[0]
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	_, ok := ParseCategory(string(c))
	return ok
}
