// Package history remembers which servers the operator opened last.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/treykane/port-console/internal/appconfig"
	"github.com/treykane/port-console/internal/model"
)

type store struct {
	LastOpened map[int]int64 `json:"last_opened"`
}

var mu sync.Mutex

// Touch records that a server view was opened.
func Touch(serverID int) error {
	mu.Lock()
	defer mu.Unlock()
	st, err := load()
	if err != nil {
		return err
	}
	st.LastOpened[serverID] = time.Now().UnixNano()
	return save(st)
}

// LastOpened returns open timestamps by server id.
func LastOpened() (map[int]int64, error) {
	mu.Lock()
	defer mu.Unlock()
	st, err := load()
	if err != nil {
		return nil, err
	}
	return st.LastOpened, nil
}

// SortServersRecent returns a new slice sorted by recent activity (desc), then name.
func SortServersRecent(servers []model.Server, lastOpened map[int]int64) []model.Server {
	out := append([]model.Server(nil), servers...)
	sort.SliceStable(out, func(i, j int) bool {
		ti := lastOpened[out[i].ID]
		tj := lastOpened[out[j].ID]
		if ti != tj {
			return ti > tj
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func load() (store, error) {
	path, err := appconfig.HistoryFilePath()
	if err != nil {
		return store{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store{LastOpened: map[int]int64{}}, nil
		}
		return store{}, err
	}
	var st store
	if err := json.Unmarshal(b, &st); err != nil {
		return store{LastOpened: map[int]int64{}}, nil
	}
	if st.LastOpened == nil {
		st.LastOpened = map[int]int64{}
	}
	return st, nil
}

func save(st store) error {
	path, err := appconfig.HistoryFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
