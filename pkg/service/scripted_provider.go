// Deterministic offline completion provider
package service

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

// defaultLineDelay paces scripted replies so the client sees a stream
// rather than a single burst.
const defaultLineDelay = 250 * time.Millisecond

// Keyword sets for the scripted reply cascade. Matching is substring
// based; the English sets are checked against lowercased text.
var (
	moodKeywords         = []string{"心情不好", "难过", "低落", "焦虑", "压力大", "委屈", "烦"}
	moodKeywordsEN       = []string{"sad", "anxious", "stress", "down", "upset"}
	confirmKeywords      = []string{"好呀", "好啊", "好", "嗯", "可以", "行", "来吧", "想试试"}
	greetingKeywords     = []string{"你好", "嗨", "在吗", "hello", "hi", "早上好", "中午好", "晚上好"}
	relationshipKeywords = []string{"不理我", "怎么办", "冷战", "吵架", "老公", "男朋友", "伴侣", "对象"}
)

// Reply templates, one per cascade category. Lines are streamed as
// separate units.
const (
	replyEmptyTurn = "我在这儿。你想聊什么，我都认真听着。"

	replyRepeatedTurn = "我在呢，你慢慢说就好。\n" +
		"不用急着组织语言，想到什么就说什么。"

	replyMood = "抱抱你，今天不开心也没关系，我一直都在这儿陪着你。\n" +
		"不管是想吐槽、想安静，还是只想随便说说话，我都听着。\n" +
		"愿你今晚能被温柔接住，坏心情早点飘走。"

	replyConfirmAfterMood = "好呀，我在。\n" +
		"那我们就轻轻说一说：今天让你最难受的那一刻是什么？\n" +
		"你想到哪一句就说哪一句，我都会接着。"

	replyRelationship = "这真的会让人很难受，尤其是你在乎他的时候。\n" +
		"你先别急着责怪自己，我会陪你一起想办法。\n" +
		"如果你愿意，我们先把刚刚发生的那一幕理一理，我陪你慢慢说。"

	replyGreeting = "你好呀，我在这儿陪你。\n" +
		"今天想聊点什么？开心的、不开心的，都可以。"

	replyConfirm = "好呀，我陪你慢慢聊。\n" +
		"你可以从今天最想说的一件小事开始。"

	replyListening = "我在认真听你说。\n" +
		"如果你愿意，可以多说一点点，我会一直陪着你。"
)

// ScriptedProvider replaces the live model with a rule-based reply
// selector over the recent user turns. Given identical recent-turn
// text it always produces the same reply and the same line split.
type ScriptedProvider struct {
	// LineDelay is the pause between emitted lines. Zero disables
	// pacing (used by tests).
	LineDelay time.Duration
}

// NewScriptedProvider returns a provider with the default pacing.
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{LineDelay: defaultLineDelay}
}

// StreamCompletion implements CompletionProvider. The payload's user
// turns drive a first-match-wins rule cascade; the selected template
// is split into non-empty lines and each line is emitted as one delta.
func (p *ScriptedProvider) StreamCompletion(ctx context.Context, messages []*schema.Message, maxCompletionTokens int) (*schema.StreamReader[*schema.Message], error) {
	reply := p.selectReply(userTexts(messages))

	lines := []string{}
	for _, line := range strings.Split(reply, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}

	sr, sw := schema.Pipe[*schema.Message](len(lines))
	go func() {
		defer sw.Close()
		for i, line := range lines {
			if i < len(lines)-1 {
				line += "\n"
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			if closed := sw.Send(&schema.Message{Role: schema.Assistant, Content: line}, nil); closed {
				return
			}
			if p.LineDelay > 0 && i < len(lines)-1 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.LineDelay):
				}
			}
		}
	}()
	return sr, nil
}

// cascadeRule pairs a predicate with its reply template. Rules are
// evaluated in declaration order; the first match wins.
type cascadeRule struct {
	match func(c *cascadeContext) bool
	reply string
}

type cascadeContext struct {
	texts          []string
	latest         string
	loweredLatest  string
	context        string
	loweredContext string
}

var cascadeRules = []cascadeRule{
	{func(c *cascadeContext) bool { return c.latest == "" }, replyEmptyTurn},
	{func(c *cascadeContext) bool {
		return len(c.texts) >= 2 && c.latest == c.texts[len(c.texts)-2]
	}, replyRepeatedTurn},
	{func(c *cascadeContext) bool {
		return containsAny(c.latest, moodKeywords) || containsAny(c.loweredLatest, moodKeywordsEN)
	}, replyMood},
	{func(c *cascadeContext) bool {
		hasMoodContext := containsAny(c.context, moodKeywords) || containsAny(c.loweredContext, moodKeywordsEN)
		return isOneOf(c.latest, confirmKeywords) && hasMoodContext
	}, replyConfirmAfterMood},
	{func(c *cascadeContext) bool { return containsAny(c.latest, relationshipKeywords) }, replyRelationship},
	{func(c *cascadeContext) bool {
		return containsAny(c.latest, greetingKeywords) || containsAny(c.loweredLatest, []string{"hello", "hi"})
	}, replyGreeting},
	{func(c *cascadeContext) bool { return isOneOf(c.latest, confirmKeywords) }, replyConfirm},
}

func (p *ScriptedProvider) selectReply(texts []string) string {
	latest := ""
	if len(texts) > 0 {
		latest = texts[len(texts)-1]
	}
	recent := texts
	if len(recent) > 4 {
		recent = recent[len(recent)-4:]
	}
	c := &cascadeContext{
		texts:          texts,
		latest:         latest,
		loweredLatest:  strings.ToLower(latest),
		context:        strings.Join(recent, " "),
		loweredContext: strings.ToLower(strings.Join(recent, " ")),
	}
	for _, rule := range cascadeRules {
		if rule.match(c) {
			return rule.reply
		}
	}
	return replyListening
}

// userTexts extracts the trimmed, non-empty user turns from a model
// payload in order.
func userTexts(messages []*schema.Message) []string {
	var texts []string
	for _, msg := range messages {
		if msg.Role != schema.User {
			continue
		}
		text := msg.Content
		if text == "" && len(msg.MultiContent) > 0 {
			var parts []string
			for _, part := range msg.MultiContent {
				if part.Type == schema.ChatMessagePartTypeText && part.Text != "" {
					parts = append(parts, part.Text)
				}
			}
			text = strings.Join(parts, "\n")
		}
		text = strings.TrimSpace(text)
		if text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func isOneOf(s string, values []string) bool {
	for _, v := range values {
		if s == v {
			return true
		}
	}
	return false
}
