package remanga

import (
	"fmt"
	"strconv"
	"strings"
)

type named struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// number accepts 9.1, "9.1" and null
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("remanga: bad number %q: %w", s, err)
	}
	*n = number(f)
	return nil
}

type title struct {
	ID            int64  `json:"id"`
	Dir           string `json:"dir"`
	MainName      string `json:"main_name"`
	SecondaryName string `json:"secondary_name"`
	AnotherName   string `json:"another_name"`
	Cover         struct {
		Low  string `json:"low"`
		Mid  string `json:"mid"`
		High string `json:"high"`
	} `json:"cover"`
	Type           named   `json:"type"`
	Status         named   `json:"status"`
	CountChapters  int     `json:"count_chapters"`
	TotalViews     int64   `json:"total_views"`
	IssueYear      int     `json:"issue_year"`
	AvgRating      number  `json:"avg_rating"`
	CountRating    int64   `json:"count_rating"`
	CountBookmarks int64   `json:"count_bookmarks"`
	AgeLimit       int     `json:"age_limit"`
	Description    string  `json:"description"`
	Genres         []named `json:"genres"`
	Categories     []named `json:"categories"`
}

type listPage struct {
	Next    *string    `json:"next"`
	Results []listItem `json:"results"`
}

type listItem struct {
	Dir string `json:"dir"`
}
