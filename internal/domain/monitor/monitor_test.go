package monitor

import (
	"strings"
	"testing"

	"github.com/gotd/td/tg"
)

func entitiesFixture() tg.Entities {
	return tg.Entities{
		Users: map[int64]*tg.User{
			101: {ID: 101, FirstName: "Alice", LastName: "Liddell"},
			102: {ID: 102, Username: "hatter"},
		},
		Chats: map[int64]*tg.Chat{
			202: {ID: 202, Title: "Tea Party"},
		},
		Channels: map[int64]*tg.Channel{
			303: {ID: 303, Title: "Wonderland News"},
		},
	}
}

func TestFormatLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *tg.Message
		want []string // подстроки, которые обязаны присутствовать
	}{
		{
			name: "private message",
			msg: &tg.Message{
				Date:    1700000000,
				Message: "hello",
				FromID:  &tg.PeerUser{UserID: 101},
				PeerID:  &tg.PeerUser{UserID: 101},
			},
			want: []string{"Alice Liddell: hello"},
		},
		{
			name: "group message shows chat and sender",
			msg: &tg.Message{
				Date:    1700000000,
				Message: "more tea",
				FromID:  &tg.PeerUser{UserID: 102},
				PeerID:  &tg.PeerChat{ChatID: 202},
			},
			want: []string{"Tea Party", "@hatter", "more tea"},
		},
		{
			name: "channel post without author",
			msg: &tg.Message{
				Date:    1700000000,
				Message: "breaking",
				PeerID:  &tg.PeerChannel{ChannelID: 303},
			},
			want: []string{"Wonderland News", "breaking"},
		},
		{
			name: "outgoing message marked as me",
			msg: &tg.Message{
				Date:    1700000000,
				Out:     true,
				Message: "pong",
				PeerID:  &tg.PeerUser{UserID: 101},
			},
			want: []string{"me: pong"},
		},
		{
			name: "non-text placeholder",
			msg: &tg.Message{
				Date:   1700000000,
				FromID: &tg.PeerUser{UserID: 101},
				PeerID: &tg.PeerUser{UserID: 101},
			},
			want: []string{"<non-text message>"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			line := formatLine(entitiesFixture(), tc.msg, 999)
			for _, sub := range tc.want {
				if !strings.Contains(line, sub) {
					t.Errorf("formatLine() = %q, want substring %q", line, sub)
				}
			}
		})
	}
}

func TestFormatLineSelfSender(t *testing.T) {
	t.Parallel()

	msg := &tg.Message{
		Date:    1700000000,
		Message: "note",
		FromID:  &tg.PeerUser{UserID: 101},
		PeerID:  &tg.PeerChat{ChatID: 202},
	}
	line := formatLine(entitiesFixture(), msg, 101)
	if !strings.Contains(line, "me: note") {
		t.Errorf("formatLine() = %q, want self rendered as me", line)
	}
}

func TestMonitorGating(t *testing.T) {
	t.Parallel()

	m := New()
	if m.Enabled() {
		t.Fatalf("new monitor must start disabled")
	}

	// Выключенный монитор молча пропускает апдейты.
	update := &tg.UpdateNewMessage{Message: &tg.Message{Message: "hi", PeerID: &tg.PeerUser{UserID: 101}}}
	if err := m.OnNewMessage(t.Context(), entitiesFixture(), update); err != nil {
		t.Fatalf("OnNewMessage() error: %v", err)
	}

	m.Enable()
	if !m.Enabled() {
		t.Fatalf("Enable() did not take effect")
	}
	m.Disable()
	if m.Enabled() {
		t.Fatalf("Disable() did not take effect")
	}
}
