package mal

import "encoding/json"

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type image struct {
	ImageURL      string `json:"image_url"`
	SmallImageURL string `json:"small_image_url"`
	LargeImageURL string `json:"large_image_url"`
}

type named struct {
	MalID int64  `json:"mal_id"`
	Name  string `json:"name"`
}

type manga struct {
	MalID  int64  `json:"mal_id"`
	URL    string `json:"url"`
	Images struct {
		JPG  image `json:"jpg"`
		WebP image `json:"webp"`
	} `json:"images"`
	Title         string   `json:"title"`
	TitleEnglish  string   `json:"title_english"`
	TitleJapanese string   `json:"title_japanese"`
	TitleSynonyms []string `json:"title_synonyms"`
	Type          string   `json:"type"`
	Chapters      int      `json:"chapters"`
	Volumes       int      `json:"volumes"`
	Status        string   `json:"status"`
	Published     struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"published"`
	Score        float64 `json:"score"`
	ScoredBy     int64   `json:"scored_by"`
	Rank         int64   `json:"rank"`
	Popularity   int64   `json:"popularity"`
	Members      int64   `json:"members"`
	Favorites    int64   `json:"favorites"`
	Synopsis     string  `json:"synopsis"`
	Authors      []named `json:"authors"`
	Genres       []named `json:"genres"`
	Themes       []named `json:"themes"`
	Demographics []named `json:"demographics"`
}

type listPage struct {
	Pagination struct {
		LastVisiblePage int  `json:"last_visible_page"`
		HasNextPage     bool `json:"has_next_page"`
	} `json:"pagination"`
	Data []struct {
		MalID int64 `json:"mal_id"`
	} `json:"data"`
}
