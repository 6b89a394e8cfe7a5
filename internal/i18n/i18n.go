package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

// locale is what the middleware stores per request.
type locale struct {
	tag language.Tag
	loc *i18n.Localizer
}

var (
	bundle  *i18n.Bundle
	matcher language.Matcher
)

// Init loads the embedded translations with lang as the default language.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := b.ParseMessageFileBytes(data, e.Name()); err != nil {
			return fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		slog.Debug("loaded locale file", "file", e.Name())
	}

	// The bundle lists its default language first, which makes it the
	// matcher's fallback.
	bundle = b
	matcher = language.NewMatcher(b.LanguageTags())
	return nil
}

// Supported returns the languages with a translation file, default first.
func Supported() []language.Tag {
	return bundle.LanguageTags()
}

// Match picks the best supported language for the given preferences. Each
// preference may be a tag or a full Accept-Language header; empty values
// are skipped.
func Match(prefs ...string) language.Tag {
	var tags []language.Tag
	for _, p := range prefs {
		if p == "" {
			continue
		}
		parsed, _, err := language.ParseAcceptLanguage(p)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	_, idx, _ := matcher.Match(tags...)
	return bundle.LanguageTags()[idx]
}

// WithLanguage stores a localizer for tag in the context.
func WithLanguage(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, ctxKey{}, locale{tag: tag, loc: i18n.NewLocalizer(bundle, tag.String())})
}

func fromCtx(ctx context.Context) locale {
	if l, ok := ctx.Value(ctxKey{}).(locale); ok {
		return l
	}
	def := bundle.LanguageTags()[0]
	return locale{tag: def, loc: i18n.NewLocalizer(bundle, def.String())}
}

// Lang returns the BCP 47 tag of the request language, for the html lang attribute.
func Lang(ctx context.Context) string {
	return fromCtx(ctx).tag.String()
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	s, err := fromCtx(ctx).loc.Localize(&i18n.LocalizeConfig{MessageID: msgID})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}

// Td translates a message by ID with template data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	s, err := fromCtx(ctx).loc.Localize(&i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: data,
	})
	if err != nil {
		slog.Warn("missing translation", "id", msgID, "error", err)
		return msgID
	}
	return s
}
