package tokens

import "github.com/heartside/heartside/pkg/db"

// BudgetParams bounds model input and output sizing. It is
// configuration, not persisted state.
type BudgetParams struct {
	MaxContextTokens   int // hard context window of the model
	SafetyMargin       int // reserved headroom for counting drift
	MaxHistoryMessages int // message-count ceiling before cost trimming
	MaxHistoryTokens   int // cost ceiling for the trimmed history
	CompletionFloor    int // minimum completion token cap
	CompletionCeiling  int // maximum default completion token cap
	CompletionFraction float64
}

// DefaultBudgetParams returns the parameters calibrated for a GPT-4o
// class 131072-token context window.
func DefaultBudgetParams() BudgetParams {
	return BudgetParams{
		MaxContextTokens:   131072,
		SafetyMargin:       2000,
		MaxHistoryMessages: 30,
		MaxHistoryTokens:   120000,
		CompletionFloor:    100,
		CompletionCeiling:  2000,
		CompletionFraction: 0.2,
	}
}

// Truncate trims an oldest-first history so that it contains at most
// maxMessages messages and costs at most maxTokens units. Messages are
// dropped from the front (oldest first); the newest message is never
// dropped, even if it alone exceeds the budget — the caller must treat
// that case as an oversized input before invoking a model.
//
// The result is always a suffix of the input, oldest-first.
func (e *Estimator) Truncate(messages []db.Message, maxMessages, maxTokens int) []db.Message {
	if maxMessages > 0 && len(messages) > maxMessages {
		messages = messages[len(messages)-maxMessages:]
	}

	total := e.ConversationCost(messages)
	for total > maxTokens && len(messages) > 1 {
		total -= e.MessageCost(&messages[0])
		messages = messages[1:]
	}

	return messages
}
