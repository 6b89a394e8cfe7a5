package views

import (
	"context"

	appI18n "github.com/pavelanni/fluency/internal/i18n"
	"github.com/pavelanni/fluency/internal/model"
)

// path prefixes p with the deployment base path.
func path(ctx context.Context, p string) string {
	return model.BasePathFromContext(ctx) + p
}

func alertText(ctx context.Context, a model.Alert) string {
	msg := appI18n.Td(ctx, a.MessageID, a.Data)
	if a.Detail != "" {
		msg += " " + a.Detail
	}
	return msg
}
