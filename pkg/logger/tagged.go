package logger

import (
	"context"
	"log/slog"

	"github.com/armorclaw/errsink/pkg/errchain"
)

// Tagged writes tagged error records through a Logger. It satisfies the
// sink's logging collaborator.
type Tagged struct {
	log *Logger
}

// NewTagged wraps l. A nil logger falls back to Global.
func NewTagged(l *Logger) *Tagged {
	if l == nil {
		l = Global()
	}
	return &Tagged{log: l}
}

// Error logs err under tag, with its chain as a structured attribute
func (t *Tagged) Error(tag, message string, err error) {
	t.log.ErrorEvent(context.Background(), message, err,
		slog.String("tag", tag),
		slog.Any("error_chain", chainAttr(err)),
	)
}

func chainAttr(err error) []string {
	links := errchain.Links(err)
	out := make([]string, len(links))
	for i, link := range links {
		if link.Message == "" {
			out[i] = string(link.Kind)
			continue
		}
		out[i] = string(link.Kind) + ": " + link.Message
	}
	return out
}
