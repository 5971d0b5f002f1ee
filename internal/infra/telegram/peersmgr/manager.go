// Package peersmgr — обёртка над gotd peers.Manager с персистентным хранилищем на bbolt.
// Сервис отвечает за:
//   - подготовку менеджера пиров (в памяти) и доступ к нему;
//   - загрузку сохранённых peers из общей базы в менеджер при старте;
//   - пополнение кэша сущностями из ответов Telegram (пользователи/чаты/каналы
//     приходят вместе со страницами истории и результатами резолва).
//
// База bbolt открывается приложением и передаётся сюда по хэндлу: файл общий
// для кэша пиров и реестра выгрузок, владеет им и закрывает его app.
package peersmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"
)

const peersBucketName = "peers"

var peersBucketBytes = []byte(peersBucketName)

// Service инкапсулирует менеджер пиров и персистентное bbolt-хранилище.
type Service struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
	Mgr   *peers.Manager
}

// New создаёт сервис пиров поверх переданной базы и gotd peers.Manager.
// Сетевых запросов не выполняет; db остаётся во владении вызывающего.
func New(api *tg.Client, db *bbolt.DB) (*Service, error) {
	if api == nil {
		return nil, errors.New("peersmgr: api client is nil")
	}
	if db == nil {
		return nil, errors.New("peersmgr: db handle is nil")
	}

	return &Service{
		db:    db,
		store: bboltdb.NewPeerStorage(db, peersBucketBytes),
		Mgr:   (peers.Options{}).Build(api),
	}, nil
}

// Store возвращает персистентное хранилище пиров (для UpdateHook).
func (s *Service) Store() contribstorage.PeerStorage {
	return s.store
}

// LoadFromStorage прогружает сохранённые peers из bbolt в оперативный peers.Manager.
// Повреждённый JSON в бакете не фатален: бакет сбрасывается, кэш наполнится заново.
func (s *Service) LoadFromStorage(ctx context.Context) error {
	iter, exists, err := s.iterateStoredPeers(ctx)
	if err != nil {
		if isJSONUnmarshalError(err) {
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

// ResolvePeer возвращает peers.Peer для указанного типа и идентификатора;
// ok=false, если сущности нет в кэше менеджера.
func (s *Service) ResolvePeer(ctx context.Context, kind string, id int64) (peers.Peer, bool, error) {
	switch kind {
	case "user":
		user, err := s.Mgr.ResolveUserID(ctx, id)
		if err != nil {
			return nil, false, notFoundAsMiss(err)
		}
		return user, true, nil
	case "chat":
		chat, err := s.Mgr.ResolveChatID(ctx, id)
		if err != nil {
			return nil, false, notFoundAsMiss(err)
		}
		return chat, true, nil
	case "channel":
		channel, err := s.Mgr.ResolveChannelID(ctx, id)
		if err != nil {
			return nil, false, notFoundAsMiss(err)
		}
		return channel, true, nil
	default:
		return nil, false, fmt.Errorf("peersmgr: unsupported peer kind %q", kind)
	}
}

// InputPeerByKind подбирает tg.InputPeerClass по строковому типу и идентификатору.
func (s *Service) InputPeerByKind(ctx context.Context, kind string, id int64) (tg.InputPeerClass, error) {
	switch kind {
	case "user":
		user, err := s.Mgr.ResolveUserID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve user %d: %w", id, err)
		}
		return user.InputPeer(), nil
	case "chat":
		chat, err := s.Mgr.ResolveChatID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve chat %d: %w", id, err)
		}
		return chat.InputPeer(), nil
	case "channel":
		channel, err := s.Mgr.ResolveChannelID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve channel %d: %w", id, err)
		}
		return channel.InputPeer(), nil
	default:
		return nil, fmt.Errorf("peersmgr: unsupported peer kind %q", kind)
	}
}

// ApplyEntities пополняет оперативный кэш менеджера пользователями и чатами из
// ответа Telegram. Страницы истории и результаты резолва несут полные сущности
// с access hash; без них последующие запросы по numeric id не соберут InputPeer.
func (s *Service) ApplyEntities(ctx context.Context, users []tg.UserClass, chats []tg.ChatClass) error {
	u := make([]tg.UserClass, 0, len(users))
	for _, user := range users {
		if user != nil {
			u = append(u, user)
		}
	}

	c := make([]tg.ChatClass, 0, len(chats))
	for _, chat := range chats {
		if chat != nil {
			c = append(c, chat)
		}
	}

	if len(u) == 0 && len(c) == 0 {
		return nil
	}
	return s.Mgr.Apply(ctx, u, c)
}

// notFoundAsMiss переводит peers.PeerNotFoundError в «промах без ошибки».
func notFoundAsMiss(err error) error {
	var nf *peers.PeerNotFoundError
	if errors.As(err, &nf) {
		return nil
	}
	return err
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
