package domain

// Recommendation is a single nearby legal professional enriched with detail
// fields from the places service. Recommendations are ephemeral: they travel
// in the advisory response and may be embedded on an assistant Message, but
// are never persisted as standalone records.
type Recommendation struct {
	Name             string        `json:"name"`
	FormattedAddress string        `json:"formatted_address"`
	Rating           float64       `json:"rating"`
	UserRatingsTotal int           `json:"user_ratings_total"`
	FormattedPhone   string        `json:"formatted_phone_number,omitempty"`
	Website          string        `json:"website,omitempty"`
	OpeningHours     *OpeningHours `json:"opening_hours,omitempty"`
	PlaceID          string        `json:"place_id"`
}

// OpeningHours carries the current opening status when the places service
// reports one.
type OpeningHours struct {
	OpenNow bool `json:"open_now"`
}
