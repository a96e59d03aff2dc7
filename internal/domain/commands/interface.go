// Package commands предоставляет общий интерфейс для выполнения команд
// терминального клиента. Каждая команда, которой нужен Telegram API, выполняет
// свои запросы через диспетчер с политикой повторов.
package commands

import (
	"context"

	"github.com/gotd/td/tg"
)

// Executor - интерфейс для выполнения команд терминального клиента.
type Executor interface {
	// Send отправляет текстовое сообщение адресату, заданному строковым
	// идентификатором (@username, телефон или числовой ID)
	Send(ctx context.Context, peer, text string) (*SendResult, error)

	// Dialogs возвращает список диалогов; refresh=true перечитывает их с сервера
	Dialogs(ctx context.Context, refresh bool) (*DialogsResult, error)

	// Entity возвращает сырую сущность Telegram по идентификатору
	Entity(ctx context.Context, identifier string) (*EntityResult, error)

	// Dump возвращает сырое сообщение указанного диалога
	Dump(ctx context.Context, peer string, msgID int) (*DumpResult, error)

	// Whoami возвращает информацию о текущем аккаунте
	Whoami(ctx context.Context) (*WhoamiResult, error)

	// Version возвращает информацию о версии приложения
	Version(ctx context.Context) (*VersionResult, error)
}

// SendResult - результат команды Send
type SendResult struct {
	Peer     string // отображаемое имя адресата
	RandomID int64  // идентификатор идемпотентной отправки
}

// DialogsResult - результат команды Dialogs
type DialogsResult struct {
	Dialogs   []Dialog // список диалогов
	Refreshed bool     // true, если список перечитан с сервера
}

// Dialog - информация о диалоге
type Dialog struct {
	ID       int64  // ID диалога
	Kind     string // тип диалога (user, chat, channel, folder)
	Title    string // название/имя
	Username string // username (если есть)
}

// EntityResult - результат команды Entity
type EntityResult struct {
	Kind string // тип сущности (user, chat, channel)
	Raw  any    // сырой tg-объект для pretty-вывода
}

// DumpResult - результат команды Dump
type DumpResult struct {
	Message tg.MessageClass // сырое сообщение для pretty-вывода
}

// WhoamiResult - результат команды Whoami
type WhoamiResult struct {
	ID       int64  // ID пользователя
	FullName string // полное имя
	Username string // username
	Phone    string // номер телефона
}

// VersionResult - результат команды Version
type VersionResult struct {
	Name    string // название приложения
	Version string // версия
}
