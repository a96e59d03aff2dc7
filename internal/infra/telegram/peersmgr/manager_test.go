package peersmgr

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/gotd/td/tg"
)

// sampleDialogs собирает ответ сервера с одним пользователем, одним чатом и одним каналом.
func sampleDialogs() *tg.MessagesDialogs {
	return &tg.MessagesDialogs{
		Dialogs: []tg.DialogClass{
			&tg.Dialog{Peer: &tg.PeerUser{UserID: 101}},
			&tg.Dialog{Peer: &tg.PeerChat{ChatID: 202}},
			&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 303}},
		},
		Users: []tg.UserClass{
			&tg.User{ID: 101, FirstName: "Alice", LastName: "Liddell", Username: "alice"},
		},
		Chats: []tg.ChatClass{
			&tg.Chat{ID: 202, Title: "Tea Party"},
			&tg.Channel{ID: 303, Title: "Wonderland News", Username: "wonderland"},
		},
	}
}

func TestSaveDialogsSnapshotRoundtrip(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "peers.bbolt")
	svc, err := New(tg.NewClient(nil), dbPath)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := svc.saveDialogsSnapshot(sampleDialogs()); err != nil {
		t.Fatalf("saveDialogsSnapshot() error: %v", err)
	}

	want := []DialogRef{
		{Kind: DialogKindUser, ID: 101, Title: "Alice Liddell", Username: "alice"},
		{Kind: DialogKindChat, ID: 202, Title: "Tea Party"},
		{Kind: DialogKindChannel, ID: 303, Title: "Wonderland News", Username: "wonderland"},
	}
	if got := svc.Dialogs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Dialogs() = %+v, want %+v", got, want)
	}

	// Снимок должен пережить перезапуск: закрываем и открываем базу заново.
	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	reopened, err := New(tg.NewClient(nil), dbPath)
	if err != nil {
		t.Fatalf("reopen New() error: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if got := reopened.Dialogs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Dialogs() after reopen = %+v, want %+v", got, want)
	}
}

func TestDialogsReturnsCopy(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "peers.bbolt")
	svc, err := New(tg.NewClient(nil), dbPath)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer func() { _ = svc.Close() }()

	if err := svc.saveDialogsSnapshot(sampleDialogs()); err != nil {
		t.Fatalf("saveDialogsSnapshot() error: %v", err)
	}

	first := svc.Dialogs()
	first[0].Title = "mutated"
	if got := svc.Dialogs(); got[0].Title == "mutated" {
		t.Fatalf("Dialogs() must return a copy, internal snapshot mutated")
	}
}

func TestCollectDialogNames(t *testing.T) {
	t.Parallel()

	names := collectDialogNames(sampleDialogs())

	if got := names[DialogKindUser][101]; got.title != "Alice Liddell" || got.username != "alice" {
		t.Errorf("user name = %+v", got)
	}
	if got := names[DialogKindChat][202]; got.title != "Tea Party" {
		t.Errorf("chat name = %+v", got)
	}
	if got := names[DialogKindChannel][303]; got.username != "wonderland" {
		t.Errorf("channel name = %+v", got)
	}
}

func TestNormalizeDialogsResponse(t *testing.T) {
	t.Parallel()

	slice := &tg.MessagesDialogsSlice{
		Dialogs: []tg.DialogClass{&tg.Dialog{Peer: &tg.PeerUser{UserID: 1}}},
	}
	got, err := normalizeDialogsResponse(slice)
	if err != nil {
		t.Fatalf("normalizeDialogsResponse(slice) error: %v", err)
	}
	if len(got.Dialogs) != 1 {
		t.Fatalf("dialogs = %d, want 1", len(got.Dialogs))
	}

	if _, err := normalizeDialogsResponse(&tg.MessagesDialogsNotModified{}); err == nil {
		t.Fatalf("not modified must map to sentinel error")
	}
}
