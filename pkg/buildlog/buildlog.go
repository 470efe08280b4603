package buildlog

import (
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/aurbuild/aurbuild/pkg/types"
)

var bucketLogs = []byte("build_logs")

// Archive stores the captured output of failed builds. Entries are keyed
// "<RFC3339Nano timestamp>_<package>", so bbolt's key order is age order.
type Archive struct {
	db  *bolt.DB
	max int
}

// Open opens or creates the archive database. max is the number of logs
// retained; zero keeps everything.
func Open(path string, max int) (*Archive, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open build log database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLogs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create build log bucket: %w", err)
	}

	return &Archive{db: db, max: max}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Add archives the log of one failed build and prunes the oldest entries
// past the retention cap.
func (a *Archive) Add(pkg, content string) error {
	key := time.Now().UTC().Format(time.RFC3339Nano) + "_" + pkg

	return a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogs)
		if err := b.Put([]byte(key), []byte(content)); err != nil {
			return err
		}

		if a.max <= 0 {
			return nil
		}
		count := 0
		if err := b.ForEach(func(_, _ []byte) error { count++; return nil }); err != nil {
			return err
		}
		cursor := b.Cursor()
		for k, _ := cursor.First(); k != nil && count > a.max; k, _ = cursor.First() {
			if err := cursor.Delete(); err != nil {
				return err
			}
			count--
		}
		return nil
	})
}

// List returns the archived logs, oldest first.
func (a *Archive) List() ([]types.LogInfo, error) {
	var logs []types.LogInfo
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLogs).ForEach(func(k, _ []byte) error {
			if info, ok := parseKey(string(k)); ok {
				logs = append(logs, info)
			}
			return nil
		})
	})
	return logs, err
}

// Get returns the content of the log at the given age-ordered index. The
// second return is false when the index is out of range.
func (a *Archive) Get(index int) (string, bool, error) {
	var content string
	var found bool
	err := a.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketLogs).Cursor()
		i := 0
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if i == index {
				content = string(v)
				found = true
				return nil
			}
			i++
		}
		return nil
	})
	return content, found, err
}

func parseKey(key string) (types.LogInfo, bool) {
	timestamp, pkg, ok := strings.Cut(key, "_")
	if !ok {
		return types.LogInfo{}, false
	}
	return types.LogInfo{Package: pkg, Time: timestamp}, true
}
