package artifacts

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
)

const artifactsBucketName = "artifacts"

var artifactsBucketBytes = []byte(artifactsBucketName)

// Artifact — запись реестра об одной NDJSON-выгрузке.
type Artifact struct {
	ID            string        `json:"id"`
	URI           string        `json:"uri"`
	CreatedAt     time.Time     `json:"created_at"`
	TTL           time.Duration `json:"ttl"`
	ChatCanonical string        `json:"chat_canonical"`
	WindowHash    string        `json:"window_hash"`
	SizeBytes     int64         `json:"size_bytes"`
	MessageCount  int           `json:"message_count"`
}

// ExpiresAt возвращает момент, после которого выгрузка недоступна.
func (a Artifact) ExpiresAt() time.Time {
	return a.CreatedAt.Add(a.TTL)
}

// Expired сообщает, истёк ли срок жизни к моменту now.
func (a Artifact) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt())
}

// Registry — реестр выгрузок в общей bbolt-базе. Файл базы открывает и
// закрывает приложение; реестр работает со своим бакетом.
type Registry struct {
	db *bbolt.DB
}

// NewRegistry создаёт реестр и его бакет, если того ещё нет.
func NewRegistry(db *bbolt.DB) (*Registry, error) {
	if db == nil {
		return nil, errors.New("artifacts: db handle is nil")
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(artifactsBucketBytes)
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "artifacts: create bucket")
	}
	return &Registry{db: db}, nil
}

// Put сохраняет или перезаписывает запись по её ID.
func (r *Registry) Put(a Artifact) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "artifacts: marshal record")
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(artifactsBucketBytes).Put([]byte(a.ID), raw)
	})
}

// Get возвращает запись по ID; ok=false, если записи нет.
func (r *Registry) Get(id string) (Artifact, bool, error) {
	var (
		a     Artifact
		found bool
	)
	err := r.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(artifactsBucketBytes).Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &a)
	})
	if err != nil {
		return Artifact{}, false, errors.Wrapf(err, "artifacts: load record %s", id)
	}
	return a, found, nil
}

// Delete удаляет запись; отсутствие записи ошибкой не считается.
func (r *Registry) Delete(id string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(artifactsBucketBytes).Delete([]byte(id))
	})
}

// All возвращает все записи реестра (для обхода сборщиком).
func (r *Registry) All() ([]Artifact, error) {
	var out []Artifact
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(artifactsBucketBytes).ForEach(func(_, raw []byte) error {
			var a Artifact
			if err := json.Unmarshal(raw, &a); err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "artifacts: iterate records")
	}
	return out, nil
}
