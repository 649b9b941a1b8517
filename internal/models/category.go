// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package models

// Category is one of the fixed feed categories a post can be filed under.
// The zero value means "unset".
type Category string

const (
	CategoryTechnology Category = "Technology"
	CategoryLifestyle  Category = "Lifestyle"
	CategoryFood       Category = "Food"
	CategoryTravel     Category = "Travel"
	CategoryEducation  Category = "Education"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryTechnology,
	CategoryLifestyle,
	CategoryFood,
	CategoryTravel,
	CategoryEducation,
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Filter selects which posts a feed load returns: a single category or all.
type Filter string

// FilterAll matches every post regardless of category.
const FilterAll Filter = "all"

// ParseFilter converts a query value into a Filter. An empty value means
// FilterAll. Returns false for anything that is neither "all" nor a category.
func ParseFilter(s string) (Filter, bool) {
	if s == "" || s == string(FilterAll) {
		return FilterAll, true
	}
	if Category(s).Valid() {
		return Filter(s), true
	}
	return "", false
}

// Category returns the category this filter restricts to and true, or
// ("", false) for FilterAll.
func (f Filter) Category() (Category, bool) {
	if f == FilterAll || f == "" {
		return "", false
	}
	return Category(f), true
}
