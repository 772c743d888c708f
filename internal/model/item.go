package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Item is a clothing listing offered for swapping.
type Item struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	Type         string    `json:"type,omitempty"`
	Size         string    `json:"size"`
	Condition    string    `json:"condition"`
	Brand        string    `json:"brand,omitempty"`
	Tags         []string  `json:"tags"`
	Images       []Image   `json:"images"`
	UploaderID   int64     `json:"uploaderId"`
	Availability string    `json:"availability"`
	Approved     bool      `json:"approved"`
	Points       int       `json:"points"`
	SwapCount    int       `json:"swapCount"`
	Views        int       `json:"views"`
	LikeCount    int       `json:"likeCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	// Joined fields (not always populated).
	UploaderName string `json:"uploaderName,omitempty"`
}

// Image is one photo of an item.
type Image struct {
	ID        int64  `json:"id"`
	URL       string `json:"url"`
	Alt       string `json:"alt"`
	IsPrimary bool   `json:"isPrimary"`
}

// Item availability.
const (
	AvailabilityAvailable = "available"
	AvailabilitySwapped   = "swapped"
	AvailabilityHidden    = "hidden"
)

// ValidAvailability reports whether a is a known availability.
func ValidAvailability(a string) bool {
	return a == AvailabilityAvailable || a == AvailabilitySwapped || a == AvailabilityHidden
}

// Categories lists the accepted item categories.
var Categories = []string{
	"tops", "bottoms", "outerwear", "dresses", "shoes",
	"accessories", "activewear", "formal", "casual", "other",
}

// Sizes lists the accepted clothing and shoe sizes.
var Sizes = []string{
	"XS", "S", "M", "L", "XL", "XXL", "XXXL",
	"0", "2", "4", "6", "8", "10", "12", "14", "16", "18", "20", "22", "24", "26", "28", "29",
	"30", "32", "34", "36", "38", "40", "42",
	"5", "5.5", "6.5", "7", "7.5", "8.5", "9", "9.5", "10.5", "11", "11.5", "12.5", "13", "15",
	"One Size",
}

// Conditions lists the accepted item conditions.
var Conditions = []string{"new", "like-new", "good", "fair", "poor"}

// Field limits.
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 1000
	MaxTagLength         = 30
	MaxBrandLength       = 50
	MaxTypeLength        = 50
)

// Validate checks an item's required fields and enums.
func (it *Item) Validate() error {
	it.Title = strings.TrimSpace(it.Title)
	it.Description = strings.TrimSpace(it.Description)

	switch {
	case it.Title == "":
		return fmt.Errorf("title required")
	case len(it.Title) > MaxTitleLength:
		return fmt.Errorf("title cannot be more than %d characters", MaxTitleLength)
	case it.Description == "":
		return fmt.Errorf("description required")
	case len(it.Description) > MaxDescriptionLength:
		return fmt.Errorf("description cannot be more than %d characters", MaxDescriptionLength)
	case !slices.Contains(Categories, it.Category):
		return fmt.Errorf("invalid category")
	case !slices.Contains(Sizes, it.Size):
		return fmt.Errorf("invalid size")
	case len(it.Brand) > MaxBrandLength:
		return fmt.Errorf("brand cannot be more than %d characters", MaxBrandLength)
	case len(it.Type) > MaxTypeLength:
		return fmt.Errorf("type cannot be more than %d characters", MaxTypeLength)
	case it.Points < 0:
		return fmt.Errorf("points cannot be negative")
	}

	if it.Condition == "" {
		it.Condition = "good"
	}
	if !slices.Contains(Conditions, it.Condition) {
		return fmt.Errorf("invalid condition")
	}

	tags := it.Tags[:0]
	for _, tag := range it.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if len(tag) > MaxTagLength {
			return fmt.Errorf("each tag cannot be more than %d characters", MaxTagLength)
		}
		tags = append(tags, tag)
	}
	it.Tags = tags
	return nil
}

// NormalizePrimary enforces the primary image rule: exactly one image is
// primary when there are any, the first flagged one wins, and the first image
// is used when none is flagged.
func NormalizePrimary(images []Image) {
	if len(images) == 0 {
		return
	}
	primary := -1
	for i := range images {
		if images[i].IsPrimary && primary < 0 {
			primary = i
		}
		images[i].IsPrimary = false
	}
	if primary < 0 {
		primary = 0
	}
	images[primary].IsPrimary = true
}

// PrimaryImage returns the primary image, if any.
func (it *Item) PrimaryImage() *Image {
	for i := range it.Images {
		if it.Images[i].IsPrimary {
			return &it.Images[i]
		}
	}
	if len(it.Images) > 0 {
		return &it.Images[0]
	}
	return nil
}
