// Package tokens sizes conversation history against a model context
// window and trims it to fit.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/heartside/heartside/pkg/db"
)

// ImageTokenCost is the fixed cost charged per attached image
// reference, calibrated to the vision input cost of GPT-4o class
// models.
const ImageTokenCost = 85

// Estimator computes deterministic token cost estimates for messages
// using a sub-word encoding. It is safe for concurrent use.
type Estimator struct {
	encoding *tiktoken.Tiktoken
}

// NewEstimator creates an estimator for the given model name, falling
// back to the cl100k_base encoding when the model is unknown.
func NewEstimator(model string) (*Estimator, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get fallback encoding: %w", err)
		}
	}
	return &Estimator{encoding: encoding}, nil
}

// CountText returns the token count of a text fragment.
func (e *Estimator) CountText(text string) int {
	if text == "" {
		return 0
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// MessageCost returns the estimated cost of a single message: body
// text plus audio transcript at text rates, a fixed cost per image
// reference, and a small overhead for the role label.
func (e *Estimator) MessageCost(msg *db.Message) int {
	cost := 0
	cost += e.CountText(msg.Content)
	cost += e.CountText(msg.AudioText)
	cost += len(msg.ImageURLs) * ImageTokenCost
	cost += e.CountText(msg.Role)
	return cost
}

// ConversationCost returns the total estimated cost of a history.
// Appending a message never decreases the total.
func (e *Estimator) ConversationCost(messages []db.Message) int {
	total := 0
	for i := range messages {
		total += e.MessageCost(&messages[i])
	}
	return total
}
