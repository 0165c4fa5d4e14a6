package agent

// Observer is notified as cycles progress. The dashboard implements it to
// surface live activity; NopObserver is the default.
type Observer interface {
	// PromptSent fires just before a prompt goes to the model.
	PromptSent(prompt string)

	// ResponseReceived fires with the response text, which on a query
	// failure is the substituted error text.
	ResponseReceived(response string)

	// Event fires for cycle milestones, e.g. kind "action" or "reflection".
	Event(kind, message string)
}

// NopObserver discards every notification.
type NopObserver struct{}

func (NopObserver) PromptSent(string)       {}
func (NopObserver) ResponseReceived(string) {}
func (NopObserver) Event(string, string)    {}
