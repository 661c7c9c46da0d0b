package tokens

import (
	"testing"

	"github.com/heartside/heartside/pkg/db"
)

func newTestEstimator(t *testing.T) *Estimator {
	t.Helper()
	e, err := NewEstimator("gpt-4o")
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}
	return e
}

func TestCountText(t *testing.T) {
	e := newTestEstimator(t)

	if got := e.CountText(""); got != 0 {
		t.Fatalf("CountText(\"\") = %d, want 0", got)
	}
	short := e.CountText("hello")
	long := e.CountText("hello, how are you doing today my friend")
	if short <= 0 {
		t.Fatalf("CountText(short) = %d, want > 0", short)
	}
	if long <= short {
		t.Fatalf("CountText(long) = %d, want > %d", long, short)
	}
}

func TestMessageCost_ImagesAndAudio(t *testing.T) {
	e := newTestEstimator(t)

	plain := db.Message{Role: db.RoleUser, Content: "看看这张照片"}
	withImages := db.Message{
		Role:      db.RoleUser,
		Content:   "看看这张照片",
		ImageURLs: []string{"/uploads/a.jpg", "/uploads/b.jpg"},
	}
	if got, want := e.MessageCost(&withImages)-e.MessageCost(&plain), 2*ImageTokenCost; got != want {
		t.Fatalf("image cost delta = %d, want %d", got, want)
	}

	withAudio := plain
	withAudio.AudioText = "今天有点累"
	if e.MessageCost(&withAudio) <= e.MessageCost(&plain) {
		t.Fatalf("audio transcript should increase message cost")
	}
}

func TestConversationCost_Monotonic(t *testing.T) {
	e := newTestEstimator(t)

	history := []db.Message{
		{Role: db.RoleUser, Content: "你好"},
		{Role: db.RoleAssistant, Content: "你好呀，我在这儿陪你。"},
	}
	base := e.ConversationCost(history)
	grown := e.ConversationCost(append(history, db.Message{Role: db.RoleUser, Content: "今天有点累"}))
	if grown <= base {
		t.Fatalf("ConversationCost after append = %d, want > %d", grown, base)
	}
}

func TestNewEstimator_UnknownModelFallsBack(t *testing.T) {
	e, err := NewEstimator("definitely-not-a-real-model")
	if err != nil {
		t.Fatalf("NewEstimator() error = %v", err)
	}
	if got := e.CountText("hello"); got <= 0 {
		t.Fatalf("CountText with fallback encoding = %d, want > 0", got)
	}
}
