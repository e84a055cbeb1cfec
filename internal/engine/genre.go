package engine

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Charitha2009/chronicle/internal/domain"
	"github.com/Charitha2009/chronicle/internal/engine/auth"
)

// SuggestGenre asks the narrator for a genre fitting the current roster.
func (e Engine) SuggestGenre(ctx context.Context, code, actorID string) (domain.GenreSuggestion, error) {
	if err := auth.RequireActor(actorID); err != nil {
		return domain.GenreSuggestion{}, err
	}
	c, err := e.loadCampaign(ctx, nil, code)
	if err != nil {
		return domain.GenreSuggestion{}, err
	}
	members, err := e.roster(ctx, c.Code, false)
	if err != nil {
		return domain.GenreSuggestion{}, err
	}
	res := e.Narrator.SuggestGenre(ctx, members)
	if res.Fallback() {
		e.log().WithError(res.Cause).WithFields(logrus.Fields{"code": c.Code, "roster": len(members)}).Warn("genre suggestion fell back to default")
	}
	return domain.GenreSuggestion{
		Genre:      res.Value.Genre,
		Confidence: res.Value.Confidence,
		Reasoning:  res.Value.Reasoning,
		Fallback:   res.Fallback(),
	}, nil
}
