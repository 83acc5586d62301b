package shikimori

import (
	"strings"

	"shinga/internal/services/updater/domain"
)

var types = map[string]string{
	"manga":       domain.TypeManga,
	"manhwa":      domain.TypeManhwa,
	"manhua":      domain.TypeManhua,
	"light_novel": domain.TypeLightNovel,
	"novel":       domain.TypeNovel,
	"one_shot":    domain.TypeOneShot,
	"doujin":      domain.TypeDoujin,
}

var statuses = map[string]string{
	"ongoing":      domain.StatusOngoing,
	"released":     domain.StatusFinished,
	"discontinued": domain.StatusDiscontinued,
	"paused":       domain.StatusFrozen,
	"anons":        domain.StatusAnons,
}

func typeOf(s string) string {
	if t, ok := types[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return domain.TypeOther
}

func statusOf(s string) string {
	return statuses[strings.ToLower(strings.TrimSpace(s))]
}

// isAuthor keeps story and art credits, dropping editors and publishers
func isAuthor(roles []string) bool {
	for _, r := range roles {
		switch strings.ToLower(r) {
		case "story", "art", "story & art", "original creator":
			return true
		}
	}
	return false
}

func isThrottle(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "too many requests") || strings.Contains(m, "rate limit")
}
