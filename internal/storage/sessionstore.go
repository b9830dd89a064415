package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/duegate/internal/core"
	"github.com/valter-silva-au/duegate/pkg/models"
	"gopkg.in/yaml.v3"
)

// validSessionID guards file paths built from caller-supplied IDs.
var validSessionID = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// SessionStoreManager manages client sessions stored as one YAML file each.
type SessionStoreManager interface {
	Create(user string) (*models.SessionRecord, error)
	Get(id string) (*models.SessionRecord, error)
	List() ([]models.SessionRecord, error)
	Delete(id string) error
	// Open returns the core session for id, with storage writing through
	// to the session file.
	Open(id string) (core.Session, error)
	// OpenUser returns the standing session for user, creating it on first
	// use. Its ID is derived from the username so separate processes share it.
	OpenUser(user string) (core.Session, error)
}

type fileSessionStore struct {
	dir string
	now func() time.Time
}

// NewSessionStoreManager creates a SessionStoreManager rooted at dir.
func NewSessionStoreManager(dir string) SessionStoreManager {
	return &fileSessionStore{dir: dir, now: time.Now}
}

func (s *fileSessionStore) path(id string) string {
	return filepath.Join(s.dir, id+".yaml")
}

func (s *fileSessionStore) lockPath(id string) string {
	return filepath.Join(s.dir, "."+id+".lock")
}

func checkSessionID(id string) error {
	if !validSessionID.MatchString(id) {
		return fmt.Errorf("invalid session ID %q", id)
	}
	return nil
}

// Create starts a new session for user with a random ID.
func (s *fileSessionStore) Create(user string) (*models.SessionRecord, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, fmt.Errorf("creating session: user must not be empty")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session: creating directory: %w", err)
	}
	rec := &models.SessionRecord{
		ID:        uuid.NewString(),
		User:      user,
		CreatedAt: s.now(),
		Values:    map[string]string{},
	}
	if err := saveYAML(s.path(rec.ID), rec); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return rec, nil
}

// Get reads a session record.
func (s *fileSessionStore) Get(id string) (*models.SessionRecord, error) {
	if err := checkSessionID(id); err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	rec, err := s.read(id)
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return rec, nil
}

func (s *fileSessionStore) read(id string) (*models.SessionRecord, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, err
	}
	var rec models.SessionRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	if rec.Values == nil {
		rec.Values = map[string]string{}
	}
	return &rec, nil
}

// List returns all sessions ordered by creation time.
func (s *fileSessionStore) List() ([]models.SessionRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var result []models.SessionRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		rec, err := s.read(strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
		result = append(result, *rec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// Delete removes a session file. Unknown sessions are ignored.
func (s *fileSessionStore) Delete(id string) error {
	if err := checkSessionID(id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	_ = os.Remove(s.lockPath(id))
	return nil
}

func (s *fileSessionStore) Open(id string) (core.Session, error) {
	rec, err := s.Get(id)
	if err != nil {
		return core.Session{}, err
	}
	return core.Session{ID: rec.ID, User: rec.User, Store: &sessionValues{store: s, id: rec.ID}}, nil
}

// userSessionNamespace scopes the name-based IDs of standing sessions.
var userSessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("duegate:sessions"))

func (s *fileSessionStore) OpenUser(user string) (core.Session, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return core.Session{}, fmt.Errorf("opening session: user must not be empty")
	}
	id := uuid.NewSHA1(userSessionNamespace, []byte(user)).String()
	if _, err := os.Stat(s.path(id)); os.IsNotExist(err) {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return core.Session{}, fmt.Errorf("opening session: creating directory: %w", err)
		}
		rec := &models.SessionRecord{ID: id, User: user, CreatedAt: s.now(), Values: map[string]string{}}
		if err := saveYAML(s.path(id), rec); err != nil {
			return core.Session{}, fmt.Errorf("opening session for %s: %w", user, err)
		}
	}
	return s.Open(id)
}

// lock acquires an exclusive lock for one session's file so that the CLI
// and a running server can share it.
func (s *fileSessionStore) lock(id string) (unlock func() error, err error) {
	f, err := os.OpenFile(s.lockPath(id), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening session lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquiring session lock: %w", err)
	}
	return func() error {
		defer f.Close()
		return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}, nil
}

// update applies fn to the stored record under the session lock.
func (s *fileSessionStore) update(id string, fn func(rec *models.SessionRecord)) error {
	unlock, err := s.lock(id)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := s.read(id)
	if err != nil {
		return err
	}
	fn(rec)
	return saveYAML(s.path(id), rec)
}

// sessionValues adapts one session file to core.SessionStore.
type sessionValues struct {
	store *fileSessionStore
	id    string
}

func (v *sessionValues) Get(key string) (string, bool, error) {
	rec, err := v.store.read(v.id)
	if err != nil {
		return "", false, fmt.Errorf("reading session value %s: %w", key, err)
	}
	val, ok := rec.Values[key]
	return val, ok, nil
}

func (v *sessionValues) Set(key, value string) error {
	err := v.store.update(v.id, func(rec *models.SessionRecord) { rec.Values[key] = value })
	if err != nil {
		return fmt.Errorf("writing session value %s: %w", key, err)
	}
	return nil
}

func (v *sessionValues) Delete(key string) error {
	err := v.store.update(v.id, func(rec *models.SessionRecord) { delete(rec.Values, key) })
	if err != nil {
		return fmt.Errorf("deleting session value %s: %w", key, err)
	}
	return nil
}

// saveYAML writes via a temp file and rename so readers never see a
// partial document.
func saveYAML(path string, source any) error {
	data, err := yaml.Marshal(source)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
