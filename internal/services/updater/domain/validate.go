package domain

import (
	"strings"

	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/net/http/bind"
)

// Validate checks a normalized title before it is cached or stored
// failures are parse errors since they mean the upstream shape drifted
func Validate(t NormalizedTitle) error {
	if err := bind.Validate(t); err != nil {
		var field string
		if e, ok := perr.As(err); ok {
			field = e.Field()
		}
		return perr.WithField(perr.Newf(perr.ErrorCodeParse, "invalid %s title %s: %v", t.Source, t.ExternalID, err), field)
	}
	if !t.HasName() {
		return perr.WithField(perr.Newf(perr.ErrorCodeParse, "invalid %s title %s: no name", t.Source, t.ExternalID), "name_en")
	}
	// the canonical id may point at another source (shikimori titles collapse onto MAL)
	if _, _, ok := SplitKey(t.ID); !ok {
		return perr.WithField(perr.Newf(perr.ErrorCodeParse, "title id %q is not SOURCE|id", t.ID), "id")
	}
	if t.ID != Key(t.Source, t.ExternalID) && !strings.HasPrefix(t.ID, string(SourceMAL)+"|") {
		return perr.WithField(perr.Newf(perr.ErrorCodeParse, "title id %q does not match %s", t.ID, Key(t.Source, t.ExternalID)), "id")
	}
	return nil
}
