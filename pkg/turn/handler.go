package turn

import "github.com/tabletalk-dev/tabletalk/pkg/datasets"

// Handler observes a turn while it runs. Calls happen on the goroutine
// running the turn, in order: the query, its result, then answer fragments.
type Handler interface {
	HandleQuery(query string)
	HandleResult(result *datasets.Result)
	HandleText(text string)
}

// NopHandler ignores every event.
type NopHandler struct{}

func (NopHandler) HandleQuery(string) {}
func (NopHandler) HandleResult(*datasets.Result) {}
func (NopHandler) HandleText(string) {}

// TextHandler forwards answer fragments to a function and ignores the rest.
type TextHandler func(text string)

func (TextHandler) HandleQuery(string) {}
func (TextHandler) HandleResult(*datasets.Result) {}
func (f TextHandler) HandleText(text string) { f(text) }
