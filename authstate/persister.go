package authstate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gobeaver/authflow/cache"
	"github.com/gobeaver/authflow/filekit"
)

// ErrNotFound is returned by Load when nothing has been stored yet.
var ErrNotFound = errors.New("auth state not found")

// Persister is the durable side of the Manager.
type Persister interface {
	Load(ctx context.Context) (AuthState, error)
	Save(ctx context.Context, st AuthState) error
	Clear(ctx context.Context) error
	Close() error
}

func encode(st AuthState) ([]byte, error) {
	return json.Marshal(st)
}

func decode(data []byte) (AuthState, error) {
	var st AuthState
	if err := json.Unmarshal(data, &st); err != nil {
		return AuthState{}, fmt.Errorf("decode auth state: %w", err)
	}
	return st, nil
}

// MemoryPersister keeps the encoded state in process memory.
type MemoryPersister struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (p *MemoryPersister) Load(context.Context) (AuthState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data == nil {
		return AuthState{}, ErrNotFound
	}
	return decode(p.data)
}

func (p *MemoryPersister) Save(_ context.Context, st AuthState) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.data = data
	p.mu.Unlock()
	return nil
}

func (p *MemoryPersister) Clear(context.Context) error {
	p.mu.Lock()
	p.data = nil
	p.mu.Unlock()
	return nil
}

func (p *MemoryPersister) Close() error { return nil }

// CachePersister stores the state under one key of a cache.Cache, without
// expiry.
type CachePersister struct {
	cache cache.Cache
	key   string
	owned bool
}

// NewCachePersister stores state in c under "authstate:<key>". The caller
// keeps ownership of c.
func NewCachePersister(c cache.Cache, key string) *CachePersister {
	return &CachePersister{cache: c, key: "authstate:" + key}
}

func (p *CachePersister) Load(ctx context.Context) (AuthState, error) {
	data, err := p.cache.Get(ctx, p.key)
	if err != nil {
		if cache.IsNotFound(err) {
			return AuthState{}, ErrNotFound
		}
		return AuthState{}, err
	}
	return decode(data)
}

func (p *CachePersister) Save(ctx context.Context, st AuthState) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	return p.cache.Set(ctx, p.key, data, -1)
}

func (p *CachePersister) Clear(ctx context.Context) error {
	return p.cache.Delete(ctx, p.key)
}

func (p *CachePersister) Close() error {
	if p.owned {
		return p.cache.Close()
	}
	return nil
}

// Record is the row layout used by GORMPersister.
type Record struct {
	StateKey  string `gorm:"column:state_key;primaryKey;size:191"`
	Data      []byte
	UpdatedAt time.Time
}

func (Record) TableName() string { return "authflow_auth_states" }

// GORMPersister stores the state as one row keyed by StateKey.
type GORMPersister struct {
	db    *gorm.DB
	key   string
	owned bool
}

// NewGORMPersister migrates the record table and returns a persister for key.
func NewGORMPersister(db *gorm.DB, key string) (*GORMPersister, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate auth state table: %w", err)
	}
	return &GORMPersister{db: db, key: key}, nil
}

func (p *GORMPersister) Load(ctx context.Context) (AuthState, error) {
	var rec Record
	err := p.db.WithContext(ctx).Where("state_key = ?", p.key).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AuthState{}, ErrNotFound
		}
		return AuthState{}, err
	}
	return decode(rec.Data)
}

func (p *GORMPersister) Save(ctx context.Context, st AuthState) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	rec := Record{StateKey: p.key, Data: data, UpdatedAt: time.Now().UTC()}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
}

func (p *GORMPersister) Clear(ctx context.Context) error {
	return p.db.WithContext(ctx).Where("state_key = ?", p.key).Delete(&Record{}).Error
}

func (p *GORMPersister) Close() error {
	if !p.owned {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FilePersister stores the state as a JSON object in a filekit.FileSystem.
type FilePersister struct {
	fs   filekit.FileSystem
	path string
}

// NewFilePersister stores state at "<key>.json" in fs.
func NewFilePersister(fs filekit.FileSystem, key string) *FilePersister {
	return &FilePersister{fs: fs, path: key + ".json"}
}

func (p *FilePersister) Load(ctx context.Context) (AuthState, error) {
	rc, err := p.fs.Download(ctx, p.path)
	if err != nil {
		if filekit.IsNotExist(err) {
			return AuthState{}, ErrNotFound
		}
		return AuthState{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return AuthState{}, err
	}
	return decode(data)
}

func (p *FilePersister) Save(ctx context.Context, st AuthState) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	return p.fs.Upload(ctx, p.path, bytes.NewReader(data),
		filekit.WithContentType("application/json"),
		filekit.WithVisibility(filekit.Private),
	)
}

func (p *FilePersister) Clear(ctx context.Context) error {
	err := p.fs.Delete(ctx, p.path)
	if filekit.IsNotExist(err) {
		return nil
	}
	return err
}

func (p *FilePersister) Close() error { return nil }
