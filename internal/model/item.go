package model

import "time"

// ItemStatus is the availability of a listed item.
type ItemStatus string

// Item statuses.
const (
	ItemAvailable ItemStatus = "available"
	ItemReserved  ItemStatus = "reserved"
	ItemSwapped   ItemStatus = "swapped"
)

// Item is a listed clothing item.
type Item struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category"`
	Size        string     `json:"size,omitempty"`
	Condition   string     `json:"condition"`
	Tags        []string   `json:"tags"`
	Images      []string   `json:"images"`
	PointsValue int64      `json:"points_value"`
	Status      ItemStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Item categories.
const (
	CategoryMen    = "men"
	CategoryWomen  = "women"
	CategoryKids   = "kids"
	CategoryUnisex = "unisex"
)

// Item conditions.
const (
	ConditionNew     = "new"
	ConditionLikeNew = "like_new"
	ConditionGood    = "good"
	ConditionUsed    = "used"
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c string) bool {
	switch c {
	case CategoryMen, CategoryWomen, CategoryKids, CategoryUnisex:
		return true
	}
	return false
}

// ValidCondition reports whether c is a known condition.
func ValidCondition(c string) bool {
	switch c {
	case ConditionNew, ConditionLikeNew, ConditionGood, ConditionUsed:
		return true
	}
	return false
}
