// Package peersmgr — обёртка над gotd peers.Manager с персистентным хранилищем на bbolt.
// Сервис отвечает за:
//   - открытие/закрытие базы данных кэша пиров;
//   - подготовку менеджера пиров (в памяти) и доступ к нему;
//   - загрузку сохранённых peers из файла в менеджер при старте;
//   - хранение снимка диалогов (тип, имя, username), доступного офлайн;
//   - разрешение адресата по строковому идентификатору (@username, телефон, id).
package peersmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"
)

const (
	peersBucketName                   = "peers"
	dialogsSnapshotBucket             = "dialogs_snapshot"
	dialogsSnapshotKey                = "v1"
	dbOpenTimeout                     = time.Second
	dbFileMode            os.FileMode = 0o600
)

var (
	peersBucketBytes        = []byte(peersBucketName)
	dialogsSnapshotBuckets  = []byte(dialogsSnapshotBucket)
	dialogsSnapshotKeyBytes = []byte(dialogsSnapshotKey)
)

// DialogKind описывает тип сущности в снимке диалогов.
type DialogKind string

const (
	DialogKindUser    DialogKind = "user"
	DialogKindChat    DialogKind = "chat"
	DialogKindChannel DialogKind = "channel"
	DialogKindFolder  DialogKind = "folder"
)

// DialogRef фиксирует информацию о диалоге для офлайн-листинга:
// тип, идентификатор и человекочитаемые имя/username на момент снимка.
type DialogRef struct {
	Kind     DialogKind `json:"kind"`
	ID       int64      `json:"id"`
	Title    string     `json:"title,omitempty"`
	Username string     `json:"username,omitempty"`
}

// Service инкапсулирует менеджер пиров и bbolt-хранилище.
type Service struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
	Mgr   *peers.Manager

	mu      sync.RWMutex
	dialogs []DialogRef
}

// New создаёт сервис пиров поверх bbolt и gotd peers.Manager.
// Сразу после открытия файла загружает сохранённый снимок диалогов (если есть),
// но не выполняет сетевые запросы.
func New(api *tg.Client, dbPath string) (*Service, error) {
	if api == nil {
		return nil, errors.New("peersmgr: api client is nil")
	}
	path := strings.TrimSpace(dbPath)
	if path == "" {
		return nil, errors.New("peersmgr: db path is empty")
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("peersmgr: ensure dir %q: %w", dir, err)
		}
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: dbOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("peersmgr: open db: %w", err)
	}

	service := &Service{
		db:      db,
		store:   bboltdb.NewPeerStorage(db, peersBucketBytes),
		Mgr:     (peers.Options{}).Build(api),
		dialogs: make([]DialogRef, 0),
	}

	if loadErr := service.loadDialogsSnapshot(); loadErr != nil {
		_ = db.Close()
		return nil, loadErr
	}

	return service, nil
}

// Close закрывает файл базы данных.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Store возвращает персистентное хранилище пиров (для UpdateHook).
func (s *Service) Store() contribstorage.PeerStorage {
	return s.store
}

// Dialogs возвращает копию текущего офлайн-снимка диалогов.
func (s *Service) Dialogs() []DialogRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.dialogs) == 0 {
		return nil
	}
	result := make([]DialogRef, len(s.dialogs))
	copy(result, s.dialogs)
	return result
}

// LoadFromStorage прогружает сохранённые peers из bbolt в оперативный peers.Manager.
func (s *Service) LoadFromStorage(ctx context.Context) error {
	iter, exists, err := s.iterateStoredPeers(ctx)
	if err != nil {
		if isJSONUnmarshalError(err) {
			// Битый кэш не фатален: сбрасываем bucket, peers подтянутся заново.
			_ = s.resetPeersBucket()
			return nil
		}
		return fmt.Errorf("peersmgr: iterate stored peers: %w", err)
	}
	if !exists {
		return nil
	}
	defer func() {
		_ = iter.Close()
	}()

	users := make([]tg.UserClass, 0)
	chats := make([]tg.ChatClass, 0)

	for iter.Next(ctx) {
		value := iter.Value()
		switch value.Key.Kind {
		case dialogs.User:
			user := value.User
			if user == nil {
				user = &tg.User{
					ID:         value.Key.ID,
					AccessHash: value.Key.AccessHash,
				}
			}
			users = append(users, user)
		case dialogs.Chat:
			chat := value.Chat
			if chat == nil {
				chat = &tg.Chat{ID: value.Key.ID}
			}
			chats = append(chats, chat)
		case dialogs.Channel:
			channel := value.Channel
			if channel == nil {
				channel = &tg.Channel{
					ID:         value.Key.ID,
					AccessHash: value.Key.AccessHash,
				}
			}
			chats = append(chats, channel)
		}
	}

	if err = iter.Err(); err != nil {
		return fmt.Errorf("peersmgr: iterate stored peers: %w", err)
	}
	if len(users) == 0 && len(chats) == 0 {
		return nil
	}
	return s.Mgr.Apply(ctx, users, chats)
}

// ResolveInput разрешает строковый идентификатор адресата в peers.Peer.
// Поддерживаются @username, телефон (+79990000000), числовой ID (user → chat →
// channel по порядку) и голый username.
func (s *Service) ResolveInput(ctx context.Context, identifier string) (peers.Peer, error) {
	id := strings.TrimSpace(identifier)
	if id == "" {
		return nil, errors.New("peersmgr: empty peer identifier")
	}

	if numeric, err := strconv.ParseInt(id, 10, 64); err == nil {
		return s.resolveNumeric(ctx, numeric)
	}

	// @username, телефон и t.me-ссылки понимает сам менеджер пиров.
	peer, err := s.Mgr.Resolve(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", id, err)
	}
	return peer, nil
}

// resolveNumeric пробует числовой ID последовательно как user, chat и channel.
func (s *Service) resolveNumeric(ctx context.Context, id int64) (peers.Peer, error) {
	if user, err := s.Mgr.ResolveUserID(ctx, id); err == nil {
		return user, nil
	}
	if chat, err := s.Mgr.ResolveChatID(ctx, id); err == nil {
		return chat, nil
	}
	channel, err := s.Mgr.ResolveChannelID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve id %d: %w", id, err)
	}
	return channel, nil
}

// ResolvePeer возвращает peers.Peer для указанного диалога; ok=false, если нет данных.
func (s *Service) ResolvePeer(ctx context.Context, kind DialogKind, id int64) (peers.Peer, bool, error) {
	switch kind {
	case DialogKindUser:
		user, err := s.Mgr.ResolveUserID(ctx, id)
		if err != nil {
			var nf *peers.PeerNotFoundError
			if errors.As(err, &nf) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return user, true, nil
	case DialogKindChat:
		chat, err := s.Mgr.ResolveChatID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return chat, true, nil
	case DialogKindChannel:
		channel, err := s.Mgr.ResolveChannelID(ctx, id)
		if err != nil {
			var nf *peers.PeerNotFoundError
			if errors.As(err, &nf) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return channel, true, nil
	case DialogKindFolder:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("peersmgr: unsupported dialog kind %q", kind)
	}
}

// WarmupIfEmpty выполняет первичную выгрузку диалогов, если офлайн-снимок пуст
// (первый запуск или стертый кэш). Повторные запуски обходятся без сети.
func (s *Service) WarmupIfEmpty(ctx context.Context, api *tg.Client) error {
	s.mu.RLock()
	empty := len(s.dialogs) == 0
	s.mu.RUnlock()
	if !empty {
		return nil
	}
	return s.RefreshDialogs(ctx, api)
}

// RefreshDialogs перечитывает диалоги с сервера, обновляет peers.Manager и снимок.
func (s *Service) RefreshDialogs(ctx context.Context, api *tg.Client) error {
	client := s.selectAPI(api)
	if client == nil {
		return errors.New("peersmgr: telegram client is nil")
	}

	fetched, err := fetchDialogs(ctx, client)
	if err != nil {
		return fmt.Errorf("peersmgr: fetch dialogs: %w", err)
	}

	if err = s.Mgr.Apply(ctx, fetched.Users, fetched.Chats); err != nil {
		return fmt.Errorf("peersmgr: apply entities: %w", err)
	}
	if err = s.saveDialogsSnapshot(fetched); err != nil {
		return fmt.Errorf("peersmgr: persist dialogs snapshot: %w", err)
	}
	return nil
}

// selectAPI выбирает приоритетный tg.Client: переданный явно или из менеджера.
func (s *Service) selectAPI(explicit *tg.Client) *tg.Client {
	if explicit != nil {
		return explicit
	}
	if s.Mgr != nil {
		return s.Mgr.API()
	}
	return nil
}

func (s *Service) iterateStoredPeers(ctx context.Context) (contribstorage.PeerIterator, bool, error) {
	exists := false
	if err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(peersBucketBytes) != nil
		return nil
	}); err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	iter, err := s.store.Iterate(ctx)
	if err != nil {
		return nil, false, err
	}
	return iter, true, nil
}

func isJSONUnmarshalError(err error) bool {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	return strings.Contains(err.Error(), "json:")
}

func (s *Service) resetPeersBucket() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(peersBucketBytes); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(peersBucketBytes)
		return err
	})
}

func (s *Service) loadDialogsSnapshot() error {
	var data []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(dialogsSnapshotBuckets)
		if bucket == nil {
			return nil
		}
		value := bucket.Get(dialogsSnapshotKeyBytes)
		if len(value) == 0 {
			return nil
		}
		data = append(data, value...)
		return nil
	}); err != nil {
		return fmt.Errorf("peersmgr: load snapshot: %w", err)
	}

	if len(data) == 0 {
		s.setDialogs(nil)
		return nil
	}

	var refs []DialogRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return fmt.Errorf("peersmgr: decode snapshot: %w", err)
	}
	s.setDialogs(refs)
	return nil
}

// saveDialogsSnapshot строит офлайн-снимок: на каждый диалог — тип, ID и
// имя/username из сопутствующих сущностей ответа MessagesGetDialogs.
func (s *Service) saveDialogsSnapshot(source *tg.MessagesDialogs) error {
	names := collectDialogNames(source)

	refs := make([]DialogRef, 0, len(source.Dialogs))
	for _, dialog := range source.Dialogs {
		switch dlg := dialog.(type) {
		case *tg.Dialog:
			if ref, ok := dialogRefFromPeer(dlg.Peer, names); ok {
				refs = append(refs, ref)
			}
		case *tg.DialogFolder:
			if !dlg.Folder.Zero() {
				refs = append(refs, DialogRef{
					Kind:  DialogKindFolder,
					ID:    int64(dlg.Folder.ID),
					Title: dlg.Folder.Title,
				})
			}
		}
	}

	payload, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("peersmgr: marshal snapshot: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket, bucketErr := tx.CreateBucketIfNotExists(dialogsSnapshotBuckets)
		if bucketErr != nil {
			return bucketErr
		}
		return bucket.Put(dialogsSnapshotKeyBytes, payload)
	})
	if err != nil {
		return fmt.Errorf("peersmgr: save snapshot: %w", err)
	}
	s.setDialogs(refs)
	return nil
}

// dialogName — имя и username сущности на момент снимка.
type dialogName struct {
	title    string
	username string
}

// collectDialogNames индексирует имена пользователей/чатов/каналов из ответа сервера.
func collectDialogNames(source *tg.MessagesDialogs) map[DialogKind]map[int64]dialogName {
	names := map[DialogKind]map[int64]dialogName{
		DialogKindUser:    make(map[int64]dialogName),
		DialogKindChat:    make(map[int64]dialogName),
		DialogKindChannel: make(map[int64]dialogName),
	}

	for _, entity := range source.Users {
		if user, ok := entity.(*tg.User); ok {
			title := strings.TrimSpace(user.FirstName + " " + user.LastName)
			names[DialogKindUser][user.ID] = dialogName{title: title, username: user.Username}
		}
	}
	for _, entity := range source.Chats {
		switch item := entity.(type) {
		case *tg.Chat:
			names[DialogKindChat][item.ID] = dialogName{title: item.Title}
		case *tg.Channel:
			names[DialogKindChannel][item.ID] = dialogName{title: item.Title, username: item.Username}
		}
	}
	return names
}

func dialogRefFromPeer(peer tg.PeerClass, names map[DialogKind]map[int64]dialogName) (DialogRef, bool) {
	var kind DialogKind
	var id int64
	switch entity := peer.(type) {
	case *tg.PeerUser:
		kind, id = DialogKindUser, entity.UserID
	case *tg.PeerChat:
		kind, id = DialogKindChat, entity.ChatID
	case *tg.PeerChannel:
		kind, id = DialogKindChannel, entity.ChannelID
	default:
		return DialogRef{}, false
	}

	name := names[kind][id]
	return DialogRef{Kind: kind, ID: id, Title: name.title, Username: name.username}, true
}

func (s *Service) setDialogs(refs []DialogRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(refs) == 0 {
		s.dialogs = nil
		return
	}
	s.dialogs = make([]DialogRef, len(refs))
	copy(s.dialogs, refs)
}
