package commands

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"telegram-terminal/internal/infra/config"
	"telegram-terminal/internal/infra/dispatch"
	"telegram-terminal/internal/infra/logger"
	"telegram-terminal/internal/infra/telegram/peersmgr"
	versioninfo "telegram-terminal/internal/support/version"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// CommandExecutor - реализация интерфейса Executor. Каждый сетевой вызов
// проходит через диспетчер запросов с корреляционным идентификатором операции.
type CommandExecutor struct {
	client *telegram.Client
	peers  *peersmgr.Service
	disp   *dispatch.Dispatcher
}

// Компиляторная проверка соответствия интерфейсу.
var _ Executor = (*CommandExecutor)(nil)

// NewExecutor создает новый экземпляр CommandExecutor.
func NewExecutor(
	client *telegram.Client,
	peersSvc *peersmgr.Service,
	disp *dispatch.Dispatcher,
) *CommandExecutor {
	return &CommandExecutor{
		client: client,
		peers:  peersSvc,
		disp:   disp,
	}
}

// Send отправляет текстовое сообщение адресату. random_id вычисляется один раз
// до цикла повторов: сервер дедуплицирует повторные MessagesSendMessage с тем же
// random_id, поэтому повтор после FLOOD_WAIT не приводит к дублю сообщения.
func (e *CommandExecutor) Send(ctx context.Context, peer, text string) (*SendResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("message text is empty")
	}

	resolved, err := e.resolvePeer(ctx, peer)
	if err != nil {
		return nil, err
	}

	randomID := randomIDFor(peer, text)
	req := &tg.MessagesSendMessageRequest{
		Peer:     resolved.InputPeer(),
		Message:  text,
		RandomID: randomID,
	}

	err = e.disp.Do(ctx, "messages.sendMessage", func(ctx context.Context) error {
		_, sendErr := e.client.API().MessagesSendMessage(ctx, req)
		return sendErr
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	logger.Debug("Send: message delivered",
		zap.String("peer", peer), zap.Int64("random_id", randomID))
	return &SendResult{Peer: resolved.VisibleName(), RandomID: randomID}, nil
}

// Dialogs возвращает список диалогов из офлайн-снимка. refresh=true (или пустой
// снимок) перечитывает диалоги с сервера через диспетчер. Длина списка
// ограничивается DIALOGS_LIMIT.
func (e *CommandExecutor) Dialogs(ctx context.Context, refresh bool) (*DialogsResult, error) {
	if e.peers == nil {
		return nil, errors.New("peers manager is not available")
	}

	refreshed := false
	if refresh || len(e.peers.Dialogs()) == 0 {
		err := e.disp.Do(ctx, "messages.getDialogs", func(ctx context.Context) error {
			return e.peers.RefreshDialogs(ctx, e.client.API())
		})
		if err != nil {
			return nil, fmt.Errorf("refresh dialogs: %w", err)
		}
		refreshed = true
	}

	refs := e.peers.Dialogs()
	limit := config.Env().DialogsLimit
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}

	result := &DialogsResult{
		Dialogs:   make([]Dialog, 0, len(refs)),
		Refreshed: refreshed,
	}
	for _, ref := range refs {
		result.Dialogs = append(result.Dialogs, buildDialog(ref))
	}
	return result, nil
}

// buildDialog строит строку списка из снимка диалогов.
func buildDialog(ref peersmgr.DialogRef) Dialog {
	title := strings.TrimSpace(ref.Title)
	if title == "" {
		title = "<unknown>"
	}
	username := strings.TrimPrefix(ref.Username, "@")
	if username == "" {
		username = "-"
	}
	return Dialog{
		ID:       ref.ID,
		Kind:     string(ref.Kind),
		Title:    title,
		Username: username,
	}
}

// Entity разрешает идентификатор и возвращает сырую сущность Telegram.
func (e *CommandExecutor) Entity(ctx context.Context, identifier string) (*EntityResult, error) {
	resolved, err := e.resolvePeer(ctx, identifier)
	if err != nil {
		return nil, err
	}

	switch v := resolved.(type) {
	case peers.User:
		return &EntityResult{Kind: "user", Raw: v.Raw()}, nil
	case peers.Chat:
		return &EntityResult{Kind: "chat", Raw: v.Raw()}, nil
	case peers.Channel:
		return &EntityResult{Kind: "channel", Raw: v.Raw()}, nil
	default:
		return nil, fmt.Errorf("unsupported entity type %T", resolved)
	}
}

// Dump возвращает сырое сообщение диалога. Для каналов используется
// ChannelsGetMessages (сообщения каналов не видны через MessagesGetMessages).
func (e *CommandExecutor) Dump(ctx context.Context, peer string, msgID int) (*DumpResult, error) {
	if msgID <= 0 {
		return nil, errors.New("message id must be positive")
	}

	resolved, err := e.resolvePeer(ctx, peer)
	if err != nil {
		return nil, err
	}

	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: msgID}}
	var resp tg.MessagesMessagesClass

	if channel, ok := resolved.(peers.Channel); ok {
		raw := channel.Raw()
		err = e.disp.Do(ctx, "channels.getMessages", func(ctx context.Context) error {
			var apiErr error
			resp, apiErr = e.client.API().ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
				Channel: &tg.InputChannel{ChannelID: raw.ID, AccessHash: raw.AccessHash},
				ID:      ids,
			})
			return apiErr
		})
	} else {
		err = e.disp.Do(ctx, "messages.getMessages", func(ctx context.Context) error {
			var apiErr error
			resp, apiErr = e.client.API().MessagesGetMessages(ctx, ids)
			return apiErr
		})
	}
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}

	msg, err := firstMessage(resp)
	if err != nil {
		return nil, err
	}
	return &DumpResult{Message: msg}, nil
}

// firstMessage извлекает первое сообщение из ответа messages.getMessages.
func firstMessage(resp tg.MessagesMessagesClass) (tg.MessageClass, error) {
	var list []tg.MessageClass
	switch data := resp.(type) {
	case *tg.MessagesMessages:
		list = data.Messages
	case *tg.MessagesMessagesSlice:
		list = data.Messages
	case *tg.MessagesChannelMessages:
		list = data.Messages
	default:
		return nil, fmt.Errorf("unexpected messages response: %T", resp)
	}

	for _, msg := range list {
		if _, empty := msg.(*tg.MessageEmpty); !empty {
			return msg, nil
		}
	}
	return nil, errors.New("message not found")
}

// Whoami возвращает информацию о текущем аккаунте.
func (e *CommandExecutor) Whoami(ctx context.Context) (*WhoamiResult, error) {
	if e.client == nil {
		return nil, errors.New("client is not available")
	}

	var self *tg.User
	err := e.disp.Do(ctx, "users.getSelf", func(ctx context.Context) error {
		var apiErr error
		self, apiErr = e.client.Self(ctx)
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get self: %w", err)
	}

	fullname := strings.TrimSpace(strings.Join([]string{self.FirstName, self.LastName}, " "))
	if fullname == "" {
		fullname = "<unknown>"
	}

	return &WhoamiResult{
		ID:       self.ID,
		FullName: fullname,
		Username: self.Username,
		Phone:    self.Phone,
	}, nil
}

// Version возвращает информацию о версии приложения.
func (e *CommandExecutor) Version(ctx context.Context) (*VersionResult, error) {
	return &VersionResult{
		Name:    versioninfo.Name,
		Version: versioninfo.Version,
	}, nil
}

// resolvePeer разрешает строковый идентификатор адресата через менеджер пиров.
// Разрешение @username может уходить в сеть, поэтому тоже идет через диспетчер.
func (e *CommandExecutor) resolvePeer(ctx context.Context, identifier string) (peers.Peer, error) {
	if e.peers == nil {
		return nil, errors.New("peers manager is not available")
	}

	var resolved peers.Peer
	err := e.disp.Do(ctx, "peer.resolve", func(ctx context.Context) error {
		var resolveErr error
		resolved, resolveErr = e.peers.ResolveInput(ctx, identifier)
		return resolveErr
	})
	if err != nil {
		return nil, fmt.Errorf("resolve peer %q: %w", identifier, err)
	}
	return resolved, nil
}

// randomIDFor вычисляет random_id отправки: хеш от адресата, текста и момента
// вызова. Значение стабильно в рамках одного Send (все повторные попытки шлют
// один random_id), но различается между вызовами с одинаковым текстом.
func randomIDFor(peer, text string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(peer))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(text))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(time.Now().Format(time.RFC3339Nano)))
	return int64(h.Sum64()) // #nosec G115
}
