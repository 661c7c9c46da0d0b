package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/heartside/heartside/pkg/db"
	"github.com/heartside/heartside/pkg/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	return database
}

func newTestMomentService(t *testing.T, generator CaptionGenerator) *MomentService {
	t.Helper()
	s := NewMomentService(newTestDB(t), generator, newTestPreparer(t))
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	return s
}

// failingGenerator always errors, forcing the fallback path.
type failingGenerator struct{}

func (failingGenerator) GenerateCaption(ctx context.Context, instruction, prompt string) (string, error) {
	return "", errors.New("upstream unavailable")
}

// ========== Caption sanitization ==========

func TestSanitizeCaption(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "今天也要好好的", "今天也要好好的"},
		{"role label", "AI陪伴助手：今天也要好好的", "今天也要好好的"},
		{"nested markers", "> **今天也要好好的**", "今天也要好好的"},
		{"quoted", "“今天也要好好的”", "今天也要好好的"},
		{"horizontal runs", "今天  也要\t好好的", "今天 也要 好好的"},
		{"blank line runs", "第一句\n\n\n\n第二句", "第一句\n\n第二句"},
		{"whitespace only", "  \n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeCaption(tt.in); got != tt.want {
				t.Fatalf("sanitizeCaption(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeCaption_Truncates(t *testing.T) {
	long := strings.Repeat("陪", 500)
	got := sanitizeCaption(long)
	if runes := []rune(got); len(runes) != captionMaxRunes {
		t.Fatalf("len(sanitized) = %d runes, want %d", len(runes), captionMaxRunes)
	}
}

func TestSanitizeCaption_Idempotent(t *testing.T) {
	inputs := []string{
		"assistant: > *你好*",
		"用户：  第一句\n\n\n\n> 第二句  ",
		"“ 前后有空格 ”",
		strings.Repeat("长文本需要截断 ", 100),
		"",
	}
	for _, in := range inputs {
		once := sanitizeCaption(in)
		twice := sanitizeCaption(once)
		if once != twice {
			t.Fatalf("sanitizeCaption not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

// ========== Fallback captions ==========

func TestFallbackCaption_MoodCategory(t *testing.T) {
	got := fallbackCaption([]string{"今天心情不好"}, nil, "")
	if got != fallbackCategories[1].caption {
		t.Fatalf("fallbackCaption() = %q, want the distress template", got)
	}
}

func TestFallbackCaption_ChildcareCategory(t *testing.T) {
	got := fallbackCaption([]string{"宝宝又闹了一晚上"}, nil, "")
	if got != fallbackCategories[0].caption {
		t.Fatalf("fallbackCaption() = %q, want the childcare template", got)
	}
}

func TestFallbackCaption_AssistantTextsMatchToo(t *testing.T) {
	got := fallbackCaption([]string{"嗯"}, []string{"夜奶确实很辛苦"}, "")
	if got != fallbackCategories[0].caption {
		t.Fatalf("fallbackCaption() = %q, want the childcare template", got)
	}
}

func TestFallbackCaption_SeedTransform(t *testing.T) {
	got := fallbackCaption([]string{"他不理我怎么办？"}, nil, "")
	want := "他不理我慢慢来" + fallbackTemplateSuffix
	if got != want {
		t.Fatalf("fallbackCaption() = %q, want %q", got, want)
	}
}

func TestFallbackCaption_LongSeedTruncated(t *testing.T) {
	got := fallbackCaption([]string{strings.Repeat("想", 50)}, nil, "")
	want := strings.Repeat("想", fallbackSeedMaxRunes) + "…" + fallbackTemplateSuffix
	if got != want {
		t.Fatalf("fallbackCaption() = %q, want %q", got, want)
	}
}

func TestFallbackCaption_NoUserText(t *testing.T) {
	if got := fallbackCaption(nil, nil, "周末的对话"); got != "周末的对话" {
		t.Fatalf("fallbackCaption() = %q, want the seed", got)
	}
	if got := fallbackCaption(nil, nil, "  "); got != "记录一段对话心情" {
		t.Fatalf("fallbackCaption() = %q, want the stock caption", got)
	}
}

func TestSynthesizeCaption_ProviderFailureFallsBack(t *testing.T) {
	s := newTestMomentService(t, failingGenerator{})

	got := s.SynthesizeCaption(context.Background(), []string{"今天有点难过"}, []string{"抱抱你"}, "")
	if got == "" {
		t.Fatalf("SynthesizeCaption() returned empty caption on provider failure")
	}
	if got != fallbackCategories[1].caption {
		t.Fatalf("SynthesizeCaption() = %q, want the distress fallback", got)
	}
}

// ========== Image collection ==========

func TestCollectImages_DedupOrderAndCap(t *testing.T) {
	s := newTestMomentService(t, nil)

	messages := []db.Message{
		{Role: db.RoleUser, ImageURLs: []string{"https://img.example.com/1.jpg", "https://img.example.com/2.jpg"}},
		{Role: db.RoleAssistant, ImageURLs: []string{"https://img.example.com/ignored.jpg"}},
		{Role: db.RoleUser, ImageURLs: []string{"https://img.example.com/2.jpg", "https://img.example.com/3.jpg"}},
	}
	for i := 4; i <= 12; i++ {
		messages = append(messages, db.Message{
			Role:      db.RoleUser,
			ImageURLs: []string{"https://img.example.com/" + strings.Repeat("x", i) + ".jpg"},
		})
	}

	got := s.CollectImages(messages)
	if len(got) != momentMaxImages {
		t.Fatalf("len(CollectImages()) = %d, want %d", len(got), momentMaxImages)
	}
	if got[0] != "https://img.example.com/1.jpg" || got[1] != "https://img.example.com/2.jpg" || got[2] != "https://img.example.com/3.jpg" {
		t.Fatalf("CollectImages() order = %v", got[:3])
	}
	seen := map[string]bool{}
	for _, img := range got {
		if seen[img] {
			t.Fatalf("CollectImages() returned duplicate %q", img)
		}
		seen[img] = true
	}
}

// ========== Derived posts ==========

func seedConversation(t *testing.T, s *MomentService, id string, messages []db.Message) {
	t.Helper()
	if err := s.db.AutoMigrate(&db.Conversation{}, &db.Message{}); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	if err := s.db.Create(&db.Conversation{ID: id, Title: "深夜聊天"}).Error; err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	for i := range messages {
		messages[i].ID = id + "-" + strings.Repeat("m", i+1)
		messages[i].ConversationID = id
		if err := s.db.Create(&messages[i]).Error; err != nil {
			t.Fatalf("create message: %v", err)
		}
	}
}

func TestCreateMomentFromConversation(t *testing.T) {
	s := newTestMomentService(t, nil)
	seedConversation(t, s, "conv-1", []db.Message{
		{Role: db.RoleUser, Content: "今天心情不好"},
		{Role: db.RoleAssistant, Content: "抱抱你，我在这儿。"},
		{Role: db.RoleUser, Content: "谢谢你", ImageURLs: []string{"https://img.example.com/a.jpg"}},
		{Role: db.RoleAssistant, Content: "随时都在。"},
	})

	resp, err := s.CreateMomentFromConversation(context.Background(), "conv-1", &models.SessionToMomentRequest{})
	if err != nil {
		t.Fatalf("CreateMomentFromConversation() error = %v", err)
	}
	// The latest user turn drives the fallback seed.
	if want := "谢谢你" + fallbackTemplateSuffix; resp.Content != want {
		t.Fatalf("Content = %q, want %q", resp.Content, want)
	}
	if len(resp.ImageURLs) != 1 || resp.ImageURLs[0] != "https://img.example.com/a.jpg" {
		t.Fatalf("ImageURLs = %v", resp.ImageURLs)
	}
	if resp.AuthorName != defaultUserName {
		t.Fatalf("AuthorName = %q, want default", resp.AuthorName)
	}
	if resp.SessionID == nil || *resp.SessionID != "conv-1" {
		t.Fatalf("SessionID = %v, want conv-1", resp.SessionID)
	}
	if resp.CommentCount != 2 {
		t.Fatalf("CommentCount = %d, want 2 seeded assistant comments", resp.CommentCount)
	}
	for _, comment := range resp.Comments {
		if comment.UserName != assistantCommentName {
			t.Fatalf("comment UserName = %q", comment.UserName)
		}
	}
}

func TestCreateMomentFromConversation_EmptyConversation(t *testing.T) {
	s := newTestMomentService(t, nil)
	seedConversation(t, s, "conv-empty", nil)

	if _, err := s.CreateMomentFromConversation(context.Background(), "conv-empty", &models.SessionToMomentRequest{}); !errors.Is(err, ErrMomentEmptySource) {
		t.Fatalf("error = %v, want ErrMomentEmptySource", err)
	}
}

func TestCreateMomentFromConversation_NotFound(t *testing.T) {
	s := newTestMomentService(t, nil)
	if err := s.db.AutoMigrate(&db.Conversation{}, &db.Message{}); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}

	if _, err := s.CreateMomentFromConversation(context.Background(), "missing", &models.SessionToMomentRequest{}); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("error = %v, want ErrConversationNotFound", err)
	}
}

// ========== Timeline operations ==========

func TestToggleLike(t *testing.T) {
	s := newTestMomentService(t, nil)
	moment, err := s.CreateMoment(&models.MomentCreateRequest{Content: "第一条动态"})
	if err != nil {
		t.Fatalf("CreateMoment() error = %v", err)
	}

	liked, err := s.ToggleLike(moment.ID, "小鹿")
	if err != nil {
		t.Fatalf("ToggleLike() error = %v", err)
	}
	if !liked.Liked || liked.LikeCount != 1 {
		t.Fatalf("first toggle = %+v, want liked with count 1", liked)
	}

	unliked, err := s.ToggleLike(moment.ID, "小鹿")
	if err != nil {
		t.Fatalf("ToggleLike() error = %v", err)
	}
	if unliked.Liked || unliked.LikeCount != 0 {
		t.Fatalf("second toggle = %+v, want unliked with count 0", unliked)
	}
}

func TestAddComment_ThreadedReply(t *testing.T) {
	s := newTestMomentService(t, nil)
	moment, err := s.CreateMoment(&models.MomentCreateRequest{Content: "第一条动态"})
	if err != nil {
		t.Fatalf("CreateMoment() error = %v", err)
	}

	parent, err := s.AddComment(moment.ID, &models.MomentCommentCreateRequest{UserName: "小鹿", Content: "加油"})
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}

	reply, err := s.AddComment(moment.ID, &models.MomentCommentCreateRequest{
		UserName: "阿树",
		Content:  "一起加油",
		ParentID: &parent.ID,
	})
	if err != nil {
		t.Fatalf("AddComment() reply error = %v", err)
	}
	if reply.ReplyToName != "小鹿" {
		t.Fatalf("ReplyToName = %q, want parent author", reply.ReplyToName)
	}

	other, err := s.CreateMoment(&models.MomentCreateRequest{Content: "另一条动态"})
	if err != nil {
		t.Fatalf("CreateMoment() error = %v", err)
	}
	if _, err := s.AddComment(other.ID, &models.MomentCommentCreateRequest{Content: "错挂的回复", ParentID: &parent.ID}); !errors.Is(err, ErrCommentParentInvalid) {
		t.Fatalf("error = %v, want ErrCommentParentInvalid", err)
	}
}

func TestDeleteMoment_AuthorOnly(t *testing.T) {
	s := newTestMomentService(t, nil)
	moment, err := s.CreateMoment(&models.MomentCreateRequest{AuthorName: "小鹿", Content: "要删除的动态"})
	if err != nil {
		t.Fatalf("CreateMoment() error = %v", err)
	}

	if _, err := s.DeleteMoment(moment.ID, "阿树"); !errors.Is(err, ErrNotMomentAuthor) {
		t.Fatalf("error = %v, want ErrNotMomentAuthor", err)
	}

	resp, err := s.DeleteMoment(moment.ID, "小鹿")
	if err != nil {
		t.Fatalf("DeleteMoment() error = %v", err)
	}
	if !resp.Deleted {
		t.Fatalf("Deleted = false")
	}
	if _, err := s.DeleteMoment(moment.ID, "小鹿"); !errors.Is(err, ErrMomentNotFound) {
		t.Fatalf("error = %v, want ErrMomentNotFound after delete", err)
	}
}

func TestListMoments_PagingAndLikedByMe(t *testing.T) {
	s := newTestMomentService(t, nil)
	for _, content := range []string{"第一条", "第二条", "第三条"} {
		if _, err := s.CreateMoment(&models.MomentCreateRequest{Content: content}); err != nil {
			t.Fatalf("CreateMoment() error = %v", err)
		}
	}

	page1, err := s.ListMoments(1, 2, "小鹿")
	if err != nil {
		t.Fatalf("ListMoments() error = %v", err)
	}
	if len(page1.Moments) != 2 || !page1.HasMore || page1.Total != 3 {
		t.Fatalf("page1 = %d moments, hasMore=%v, total=%d", len(page1.Moments), page1.HasMore, page1.Total)
	}

	if _, err := s.ToggleLike(page1.Moments[0].ID, "小鹿"); err != nil {
		t.Fatalf("ToggleLike() error = %v", err)
	}
	again, err := s.ListMoments(1, 2, "小鹿")
	if err != nil {
		t.Fatalf("ListMoments() error = %v", err)
	}
	if !again.Moments[0].LikedByMe {
		t.Fatalf("LikedByMe = false, want true for the viewer")
	}

	page2, err := s.ListMoments(2, 2, "小鹿")
	if err != nil {
		t.Fatalf("ListMoments() error = %v", err)
	}
	if len(page2.Moments) != 1 || page2.HasMore {
		t.Fatalf("page2 = %d moments, hasMore=%v", len(page2.Moments), page2.HasMore)
	}
}
