package devserver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the initial data set served by the dev backend.
type Seed struct {
	Users   []SeedUser   `yaml:"users"`
	Servers []SeedServer `yaml:"servers"`
}

type SeedUser struct {
	ID    int    `yaml:"id"`
	Email string `yaml:"email"`
}

type SeedServer struct {
	ID      int        `yaml:"id"`
	Name    string     `yaml:"name"`
	Address string     `yaml:"address"`
	Ports   []SeedPort `yaml:"ports"`
}

type SeedPort struct {
	Num           int    `yaml:"num"`
	ExternalNum   *int   `yaml:"external_num"`
	IngressLimit  *int   `yaml:"ingress_limit"`
	EgressLimit   *int   `yaml:"egress_limit"`
	UploadBytes   uint64 `yaml:"upload_bytes"`
	DownloadBytes uint64 `yaml:"download_bytes"`
	Users         []int  `yaml:"users"`
}

// DefaultSeed returns a small fixture with two servers.
func DefaultSeed() Seed {
	ext := 18080
	limit := 10000
	return Seed{
		Users: []SeedUser{
			{ID: 1, Email: "alice@example.com"},
			{ID: 2, Email: "bob@example.com"},
		},
		Servers: []SeedServer{
			{
				ID: 1, Name: "edge-a", Address: "203.0.113.10",
				Ports: []SeedPort{
					{Num: 8080, ExternalNum: &ext, EgressLimit: &limit, UploadBytes: 1 << 20, DownloadBytes: 5 << 20, Users: []int{1}},
					{Num: 9000},
				},
			},
			{
				ID: 2, Name: "edge-b", Address: "203.0.113.20",
				Ports: []SeedPort{{Num: 443, Users: []int{1, 2}}},
			},
		},
	}
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	seenServers := map[int]bool{}
	for _, srv := range s.Servers {
		if srv.ID <= 0 {
			return Seed{}, fmt.Errorf("seed server %q: id must be positive", srv.Name)
		}
		if seenServers[srv.ID] {
			return Seed{}, fmt.Errorf("seed server id %d is duplicated", srv.ID)
		}
		seenServers[srv.ID] = true
	}
	return s, nil
}
