package domain

// Page is the envelope every list endpoint returns.
type Page[T any] struct {
	Success bool `json:"success"`
	Data    []T  `json:"data"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
}

type College struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	LogoURL  string `json:"logo,omitempty"`
	Verified bool   `json:"verified"`
}

type Club struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	CollegeID string `json:"college,omitempty"`
	Category  string `json:"category,omitempty"`
}

type Project struct {
	ID        string   `json:"_id"`
	Title     string   `json:"title"`
	Summary   string   `json:"description,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	CollegeID string   `json:"college,omitempty"`
	Likes     int      `json:"likes"`
	Liked     bool     `json:"isLiked"`
}

// LikeRes is returned by POST /projects/like/{id}.
type LikeRes struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Likes   *int   `json:"likes,omitempty"`
	Liked   *bool  `json:"isLiked,omitempty"`
}
