package mal

import (
	"strings"

	"shinga/internal/services/updater/domain"
)

var types = map[string]string{
	"manga":       domain.TypeManga,
	"manhwa":      domain.TypeManhwa,
	"manhua":      domain.TypeManhua,
	"light novel": domain.TypeLightNovel,
	"novel":       domain.TypeNovel,
	"one-shot":    domain.TypeOneShot,
	"doujinshi":   domain.TypeDoujin,
	"webtoon":     domain.TypeWebtoon,
}

var statuses = map[string]string{
	"publishing":   domain.StatusOngoing,
	"finished":     domain.StatusFinished,
	"discontinued": domain.StatusDiscontinued,
	"on hiatus":    domain.StatusFrozen,
	"upcoming":     domain.StatusAnons,
}

func typeOf(s string) string {
	if t, ok := types[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return domain.TypeOther
}

// statusOf returns "" for statuses we do not track
func statusOf(s string) string {
	return statuses[strings.ToLower(strings.TrimSpace(s))]
}
