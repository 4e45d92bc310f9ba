package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAgent = []byte("agent")
	bucketStats = []byte("stats")

	keyAgentID         = []byte("id")
	keyDelivered       = []byte("delivered_measurements")
	keyDeliveredBatch  = []byte("delivered_batches")
	keyFailedBatches   = []byte("failed_batches")
	keyLastDeliveredAt = []byte("last_delivered_at")
)

// Stats 上报统计，重启后保留
type Stats struct {
	DeliveredMeasurements uint64    `json:"deliveredMeasurements"`
	DeliveredBatches      uint64    `json:"deliveredBatches"`
	FailedBatches         uint64    `json:"failedBatches"`
	LastDeliveredAt       time.Time `json:"lastDeliveredAt,omitzero"`
}

// Store 本地状态存储
type Store struct {
	db *bolt.DB
}

// Open 打开（或创建）状态文件
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建状态目录失败: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开状态文件失败: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAgent, bucketStats} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化状态文件失败: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭状态文件
func (s *Store) Close() error {
	return s.db.Close()
}

// AgentID 返回探针 ID，首次调用时生成并持久化
func (s *Store) AgentID() (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgent)
		if v := b.Get(keyAgentID); len(v) > 0 {
			id = string(v)
			return nil
		}
		id = uuid.NewString()
		return b.Put(keyAgentID, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("读取探针 ID 失败: %w", err)
	}
	return id, nil
}

// RecordDelivered 记录一次成功上报
func (s *Store) RecordDelivered(count int, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStats)
		if err := incr(b, keyDelivered, uint64(count)); err != nil {
			return err
		}
		if err := incr(b, keyDeliveredBatch, 1); err != nil {
			return err
		}
		return putUint64(b, keyLastDeliveredAt, uint64(at.UnixMilli()))
	})
}

// RecordFailed 记录一次失败上报
func (s *Store) RecordFailed() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return incr(tx.Bucket(bucketStats), keyFailedBatches, 1)
	})
}

// Stats 读取上报统计
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStats)
		stats.DeliveredMeasurements = getUint64(b, keyDelivered)
		stats.DeliveredBatches = getUint64(b, keyDeliveredBatch)
		stats.FailedBatches = getUint64(b, keyFailedBatches)
		if ms := getUint64(b, keyLastDeliveredAt); ms > 0 {
			stats.LastDeliveredAt = time.UnixMilli(int64(ms))
		}
		return nil
	})
	return stats, err
}

func incr(b *bolt.Bucket, key []byte, delta uint64) error {
	return putUint64(b, key, getUint64(b, key)+delta)
}

func getUint64(b *bolt.Bucket, key []byte) uint64 {
	v := b.Get(key)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func putUint64(b *bolt.Bucket, key []byte, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return b.Put(key, buf)
}
