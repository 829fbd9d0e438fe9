package domain

import "fmt"

// Category is a node of the three level category tree.
// Cards only reference level 3 categories.
type Category struct {
	ID       string
	Level    int
	Name     string
	NameEN   string
	ParentID string
}

// ValidateCategoryTree checks that levels grow by one from parent to child
// and that every level 3 category reaches a level 1 root.
func ValidateCategoryTree(categories []Category) error {
	byID := make(map[string]Category, len(categories))
	for _, c := range categories {
		if c.Level < 1 || c.Level > 3 {
			return fmt.Errorf("category %s: level %d out of range", c.ID, c.Level)
		}
		byID[c.ID] = c
	}

	for _, c := range categories {
		if c.Level == 1 {
			if c.ParentID != "" {
				return fmt.Errorf("category %s: level 1 category has parent %s", c.ID, c.ParentID)
			}
			continue
		}
		parent, ok := byID[c.ParentID]
		if !ok {
			return fmt.Errorf("category %s: missing parent %q", c.ID, c.ParentID)
		}
		if parent.Level != c.Level-1 {
			return fmt.Errorf("category %s: parent %s has level %d, want %d", c.ID, parent.ID, parent.Level, c.Level-1)
		}
	}
	return nil
}
