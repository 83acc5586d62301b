package remanga

import (
	"strings"

	"shinga/internal/services/updater/domain"
)

var types = map[string]string{
	"другое":          domain.TypeOther,
	"манга":           domain.TypeManga,
	"манхва":          domain.TypeManhwa,
	"маньхуа":         domain.TypeManhua,
	"западный комикс": domain.TypeComics,
	"рукомикс":        domain.TypeComics,
}

var statuses = map[string]string{
	"закончен":      domain.StatusFinished,
	"продолжается":  domain.StatusOngoing,
	"заморожен":     domain.StatusFrozen,
	"лицензировано": domain.StatusLicensed,
	"анонс":         domain.StatusAnons,
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
