package models

import "strings"

// ListingType is the commercial kind of a property listing.
type ListingType string

const (
	ListingRent ListingType = "rent"
	ListingSale ListingType = "sale"
)

// Property is a rental or sale listing.
type Property struct {
	ID          string      `json:"id"`
	ServerID    string      `json:"server_id,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Price       float64     `json:"price"`
	Currency    string      `json:"currency,omitempty"`
	Address     string      `json:"address,omitempty"`
	City        string      `json:"city,omitempty"`
	Bedrooms    int         `json:"bedrooms,omitempty"`
	Bathrooms   int         `json:"bathrooms,omitempty"`
	Area        float64     `json:"area,omitempty"`
	ListingType ListingType `json:"listing_type,omitempty"`
	OwnerID     string      `json:"owner_id,omitempty"`
	SyncStatus  SyncStatus  `json:"sync_status"`
	Error       string      `json:"error,omitempty"`
	UpdatedAt   int64       `json:"updated_at"`
}

// Validate checks the fields required to create a listing.
func (p *Property) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return errInvalid("title is required")
	}
	if p.Price < 0 {
		return errInvalid("price must not be negative")
	}
	switch p.ListingType {
	case "", ListingRent, ListingSale:
	default:
		return errInvalid("unknown listing type " + string(p.ListingType))
	}
	return nil
}

// ToFields maps the property into a record payload. Empty optional values
// are omitted.
func (p *Property) ToFields() Fields {
	f := Fields{
		"title": p.Title,
		"price": p.Price,
	}
	setString(f, "description", p.Description)
	setString(f, "currency", p.Currency)
	setString(f, "address", p.Address)
	setString(f, "city", p.City)
	setString(f, "listingType", string(p.ListingType))
	setString(f, "ownerId", p.OwnerID)
	if p.Bedrooms != 0 {
		f["bedrooms"] = p.Bedrooms
	}
	if p.Bathrooms != 0 {
		f["bathrooms"] = p.Bathrooms
	}
	if p.Area != 0 {
		f["area"] = p.Area
	}
	return f
}

// PropertyFromRecord maps a stored record back into a Property.
func PropertyFromRecord(r Record) Property {
	f := r.Fields
	return Property{
		ID:          r.ID,
		ServerID:    r.ServerID,
		Title:       f.String("title"),
		Description: f.String("description"),
		Price:       f.Float("price"),
		Currency:    f.String("currency"),
		Address:     f.String("address"),
		City:        f.String("city"),
		Bedrooms:    f.Int("bedrooms"),
		Bathrooms:   f.Int("bathrooms"),
		Area:        f.Float("area"),
		ListingType: ListingType(f.String("listingType")),
		OwnerID:     f.String("ownerId"),
		SyncStatus:  r.SyncStatus,
		Error:       r.Error(),
		UpdatedAt:   r.UpdatedAt,
	}
}

// PropertyPatch is a partial update. Nil pointers leave a field unchanged.
type PropertyPatch struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Price       *float64     `json:"price,omitempty"`
	Currency    *string      `json:"currency,omitempty"`
	Address     *string      `json:"address,omitempty"`
	City        *string      `json:"city,omitempty"`
	Bedrooms    *int         `json:"bedrooms,omitempty"`
	Bathrooms   *int         `json:"bathrooms,omitempty"`
	Area        *float64     `json:"area,omitempty"`
	ListingType *ListingType `json:"listing_type,omitempty"`
}

// ToFields returns only the fields set on the patch.
func (p *PropertyPatch) ToFields() Fields {
	f := Fields{}
	if p.Title != nil {
		f["title"] = *p.Title
	}
	if p.Description != nil {
		f["description"] = *p.Description
	}
	if p.Price != nil {
		f["price"] = *p.Price
	}
	if p.Currency != nil {
		f["currency"] = *p.Currency
	}
	if p.Address != nil {
		f["address"] = *p.Address
	}
	if p.City != nil {
		f["city"] = *p.City
	}
	if p.Bedrooms != nil {
		f["bedrooms"] = *p.Bedrooms
	}
	if p.Bathrooms != nil {
		f["bathrooms"] = *p.Bathrooms
	}
	if p.Area != nil {
		f["area"] = *p.Area
	}
	if p.ListingType != nil {
		f["listingType"] = string(*p.ListingType)
	}
	return f
}

// Validate rejects patches that would make the listing invalid.
func (p *PropertyPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return errInvalid("title must not be empty")
	}
	if p.Price != nil && *p.Price < 0 {
		return errInvalid("price must not be negative")
	}
	if p.ListingType != nil {
		switch *p.ListingType {
		case ListingRent, ListingSale:
		default:
			return errInvalid("unknown listing type " + string(*p.ListingType))
		}
	}
	return nil
}

func setString(f Fields, key, value string) {
	if value != "" {
		f[key] = value
	}
}
