// Package monitor печатает входящие сообщения в терминал в режиме живого
// мониторинга. Обработчики подключаются к update-диспетчеру gotd постоянно,
// но вывод включается и выключается командой CLI: пока мониторинг выключен,
// апдейты просто пропускаются (update-менеджер при этом продолжает вести
// состояние последовательностей).
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"telegram-terminal/internal/infra/logger"
	"telegram-terminal/internal/infra/pr"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Monitor реализует реакции на новые сообщения. Потокобезопасен: флаг
// включения атомарный, остальные поля неизменяемы после создания.
type Monitor struct {
	enabled atomic.Bool
	selfID  atomic.Int64
}

// New создает выключенный монитор.
func New() *Monitor {
	return &Monitor{}
}

// SetSelfID запоминает ID текущего аккаунта, чтобы помечать исходящие сообщения.
func (m *Monitor) SetSelfID(id int64) {
	m.selfID.Store(id)
}

// Enable включает печать входящих сообщений.
func (m *Monitor) Enable() {
	m.enabled.Store(true)
}

// Disable выключает печать входящих сообщений.
func (m *Monitor) Disable() {
	m.enabled.Store(false)
}

// Enabled сообщает текущее состояние мониторинга.
func (m *Monitor) Enabled() bool {
	return m.enabled.Load()
}

// OnNewMessage обрабатывает сообщения личных и групповых чатов.
func (m *Monitor) OnNewMessage(_ context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
	if !m.Enabled() {
		return nil
	}
	m.printMessage(e, update.Message)
	return nil
}

// OnNewChannelMessage обрабатывает сообщения каналов и супергрупп.
func (m *Monitor) OnNewChannelMessage(_ context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
	if !m.Enabled() {
		return nil
	}
	m.printMessage(e, update.Message)
	return nil
}

// printMessage выводит строку мониторинга; служебные сообщения пропускаются.
func (m *Monitor) printMessage(e tg.Entities, message tg.MessageClass) {
	msg, ok := message.(*tg.Message)
	if !ok {
		return
	}
	line := formatLine(e, msg, m.selfID.Load())
	if line == "" {
		return
	}
	pr.Println(line)
	logger.Debug("monitor: message printed", zap.Int("msg_id", msg.ID))
}

// formatLine собирает строку вида "[15:04:05] Чат | Отправитель: текст".
// Пустая строка означает, что сообщение выводить не нужно.
func formatLine(e tg.Entities, msg *tg.Message, selfID int64) string {
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		text = "<non-text message>"
	}

	sender := senderName(e, msg, selfID)
	chat := chatName(e, msg)

	stamp := time.Unix(int64(msg.Date), 0).Format("15:04:05")
	if chat == "" || chat == sender {
		return fmt.Sprintf("[%s] %s: %s", stamp, sender, text)
	}
	return fmt.Sprintf("[%s] %s | %s: %s", stamp, chat, sender, text)
}

// senderName извлекает имя отправителя из сущностей апдейта.
func senderName(e tg.Entities, msg *tg.Message, selfID int64) string {
	if msg.Out {
		return "me"
	}

	from, hasFrom := msg.FromID.(*tg.PeerUser)
	var userID int64
	switch {
	case hasFrom:
		userID = from.UserID
	default:
		// В личных диалогах FromID может отсутствовать: отправитель и есть peer.
		if peer, ok := msg.PeerID.(*tg.PeerUser); ok {
			userID = peer.UserID
		}
	}

	if userID == 0 {
		return chatName(e, msg)
	}
	if selfID != 0 && userID == selfID {
		return "me"
	}
	if user, ok := e.Users[userID]; ok {
		return userDisplayName(user)
	}
	return fmt.Sprintf("user:%d", userID)
}

// chatName извлекает название чата/канала; для личных диалогов — имя собеседника.
func chatName(e tg.Entities, msg *tg.Message) string {
	switch peer := msg.PeerID.(type) {
	case *tg.PeerUser:
		if user, ok := e.Users[peer.UserID]; ok {
			return userDisplayName(user)
		}
		return fmt.Sprintf("user:%d", peer.UserID)
	case *tg.PeerChat:
		if chat, ok := e.Chats[peer.ChatID]; ok {
			return chat.Title
		}
		return fmt.Sprintf("chat:%d", peer.ChatID)
	case *tg.PeerChannel:
		if channel, ok := e.Channels[peer.ChannelID]; ok {
			return channel.Title
		}
		return fmt.Sprintf("channel:%d", peer.ChannelID)
	default:
		return ""
	}
}

func userDisplayName(user *tg.User) string {
	name := strings.TrimSpace(strings.Join([]string{user.FirstName, user.LastName}, " "))
	if name != "" {
		return name
	}
	if user.Username != "" {
		return "@" + user.Username
	}
	return fmt.Sprintf("user:%d", user.ID)
}
