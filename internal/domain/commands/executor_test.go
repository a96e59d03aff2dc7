package commands

import (
	"testing"

	"github.com/gotd/td/tg"

	"telegram-terminal/internal/infra/telegram/peersmgr"
)

func TestBuildDialog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ref  peersmgr.DialogRef
		want Dialog
	}{
		{
			name: "user with username",
			ref:  peersmgr.DialogRef{Kind: peersmgr.DialogKindUser, ID: 1, Title: "Alice Liddell", Username: "alice"},
			want: Dialog{ID: 1, Kind: "user", Title: "Alice Liddell", Username: "alice"},
		},
		{
			name: "chat without username",
			ref:  peersmgr.DialogRef{Kind: peersmgr.DialogKindChat, ID: 2, Title: "Tea Party"},
			want: Dialog{ID: 2, Kind: "chat", Title: "Tea Party", Username: "-"},
		},
		{
			name: "empty title gets placeholder",
			ref:  peersmgr.DialogRef{Kind: peersmgr.DialogKindChannel, ID: 3, Username: "@news"},
			want: Dialog{ID: 3, Kind: "channel", Title: "<unknown>", Username: "news"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := buildDialog(tc.ref); got != tc.want {
				t.Errorf("buildDialog() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestRandomIDForDistinctCalls(t *testing.T) {
	t.Parallel()

	// Одинаковый текст одному адресату в разные моменты времени должен давать
	// разные random_id, иначе сервер дедуплицирует честные повторные отправки.
	seen := make(map[int64]struct{})
	for range 64 {
		id := randomIDFor("@alice", "hello")
		if _, dup := seen[id]; dup {
			t.Fatalf("randomIDFor produced duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
}

func TestFirstMessage(t *testing.T) {
	t.Parallel()

	msg := &tg.Message{ID: 42, Message: "hi"}

	tests := []struct {
		name    string
		resp    tg.MessagesMessagesClass
		wantID  int
		wantErr bool
	}{
		{
			name:   "plain messages",
			resp:   &tg.MessagesMessages{Messages: []tg.MessageClass{msg}},
			wantID: 42,
		},
		{
			name:   "slice skips empty",
			resp:   &tg.MessagesMessagesSlice{Messages: []tg.MessageClass{&tg.MessageEmpty{ID: 1}, msg}},
			wantID: 42,
		},
		{
			name:   "channel messages",
			resp:   &tg.MessagesChannelMessages{Messages: []tg.MessageClass{msg}},
			wantID: 42,
		},
		{
			name:    "only empty messages",
			resp:    &tg.MessagesMessages{Messages: []tg.MessageClass{&tg.MessageEmpty{ID: 1}}},
			wantErr: true,
		},
		{
			name:    "not modified is unexpected",
			resp:    &tg.MessagesMessagesNotModified{},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := firstMessage(tc.resp)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("firstMessage() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("firstMessage() error: %v", err)
			}
			if got.GetID() != tc.wantID {
				t.Errorf("message id = %d, want %d", got.GetID(), tc.wantID)
			}
		})
	}
}
