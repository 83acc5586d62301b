package shikimori

import "encoding/json"

type gqlResponse struct {
	Data struct {
		Mangas []json.RawMessage `json:"mangas"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type stat struct {
	Count int64 `json:"count"`
}

type genre struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Russian string `json:"russian"`
	Kind    string `json:"kind"`
}

type personRole struct {
	RolesEn []string `json:"rolesEn"`
	Person  struct {
		Name string `json:"name"`
	} `json:"person"`
}

type incompleteDate struct {
	Date string `json:"date"`
}

type manga struct {
	ID            string         `json:"id"`
	MalID         string         `json:"malId"`
	Russian       string         `json:"russian"`
	English       string         `json:"english"`
	Japanese      string         `json:"japanese"`
	Synonyms      []string       `json:"synonyms"`
	Kind          string         `json:"kind"`
	Score         float64        `json:"score"`
	ScoresStats   []stat         `json:"scoresStats"`
	Status        string         `json:"status"`
	StatusesStats []stat         `json:"statusesStats"`
	Volumes       int            `json:"volumes"`
	Chapters      int            `json:"chapters"`
	AiredOn       incompleteDate `json:"airedOn"`
	ReleasedOn    incompleteDate `json:"releasedOn"`
	Poster        *struct {
		OriginalURL string `json:"originalUrl"`
		MainURL     string `json:"mainUrl"`
		PreviewURL  string `json:"previewUrl"`
	} `json:"poster"`
	Genres      []genre      `json:"genres"`
	PersonRoles []personRole `json:"personRoles"`
	Description string       `json:"description"`
}
