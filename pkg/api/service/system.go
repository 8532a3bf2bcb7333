package service

import (
	"bufio"
	"context"
	"os"
	"time"

	"github.com/usenetsync/usenetsync/pkg/models"
	"github.com/usenetsync/usenetsync/pkg/nntp"
)

// HealthInfo is the liveness report.
type HealthInfo struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

// Health reports liveness, version and uptime.
func (s *Service) Health(_ context.Context, _ struct{}) (*HealthInfo, error) {
	return &HealthInfo{
		Status:  "ok",
		Version: s.config.Version,
		UptimeS: int64(time.Since(s.started).Seconds()),
	}, nil
}

// Stats aggregates the engine's state for operators.
type Stats struct {
	Users     int64                       `json:"users"`
	Folders   int64                       `json:"folders"`
	Shares    int64                       `json:"shares"`
	Uploads   map[models.QueueState]int64 `json:"uploads"`
	Downloads int64                       `json:"downloads"`
	Servers   map[string]nntp.Snapshot    `json:"servers,omitempty"`
}

// GetStats returns counts across the store plus per-server pool health.
func (s *Service) GetStats(ctx context.Context, _ struct{}) (*Stats, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	folders, err := s.store.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	shares, err := s.store.ListPublications(ctx)
	if err != nil {
		return nil, err
	}
	uploads, err := s.store.CountUploadsByState(ctx)
	if err != nil {
		return nil, err
	}
	downloads, err := s.store.ListDownloads(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Users:     int64(len(users)),
		Folders:   int64(len(folders)),
		Shares:    int64(len(shares)),
		Uploads:   uploads,
		Downloads: int64(len(downloads)),
	}
	if s.pool != nil {
		stats.Servers = s.pool.Health()
	}
	return stats, nil
}

// LogsParams bounds the log tail.
type LogsParams struct {
	Lines int `json:"lines,omitempty"`
}

// LogTail is the end of the current log file.
type LogTail struct {
	Path  string   `json:"path,omitempty"`
	Lines []string `json:"lines"`
}

const defaultLogLines = 100

// GetLogs returns the last lines of the configured log file. With no log
// file configured the tail is empty.
func (s *Service) GetLogs(_ context.Context, params LogsParams) (*LogTail, error) {
	n := params.Lines
	if n <= 0 {
		n = defaultLogLines
	}

	if s.config.LogPath == "" {
		return &LogTail{Lines: []string{}}, nil
	}

	f, err := os.Open(s.config.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &LogTail{Path: s.config.LogPath, Lines: []string{}}, nil
		}
		return nil, err
	}
	defer f.Close()

	// Ring buffer over the scan keeps memory bounded by the tail size.
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &LogTail{Path: s.config.LogPath, Lines: ring}, nil
}
