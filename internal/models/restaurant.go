package models

// Restaurant is a dining location as returned by the campus directory
type Restaurant struct {
	ConceptID           int         `json:"conceptId"`
	Name                string      `json:"name"`
	ShortDescription    string      `json:"shortDescription"`
	Description         string      `json:"description"`
	Location            string      `json:"location"`
	Coordinates         Coordinates `json:"coordinates"`
	Times               []OpenRange `json:"times"`
	Menu                string      `json:"menu"`
	AcceptsOnlineOrders bool        `json:"acceptsOnlineOrders"`
	TodaysSpecials      []Special   `json:"todaysSpecials"`
	TodaysSoups         []Special   `json:"todaysSoups"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type OpenRange struct {
	Start WeekTime `json:"start"`
	End   WeekTime `json:"end"`
}

type WeekTime struct {
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

type Special struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}
