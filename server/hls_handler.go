package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"wavedeck/cache"
	"wavedeck/logger"

	"github.com/gorilla/mux"
)

const segmentCacheTTL = 5 * time.Minute

// HandleHLSFile HLS文件端点：GET /streams/{client_id}/{filename}
// 播放列表直接读盘；分片先查Redis缓存，未命中回落磁盘并回填。
func (s *Server) HandleHLSFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	clientID := vars["client_id"]
	filename := vars["filename"]

	// 路径穿越防护：文件名只允许单层
	if strings.Contains(clientID, "..") || strings.Contains(filename, "..") ||
		strings.ContainsAny(filename, "/\\") {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	var contentType string
	switch {
	case strings.HasSuffix(filename, ".m3u8"):
		contentType = "application/vnd.apple.mpegurl"
	case strings.HasSuffix(filename, ".ts"):
		contentType = "video/MP2T"
	default:
		http.Error(w, "unsupported file type", http.StatusBadRequest)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")

	diskPath := filepath.Join(s.cfg.HLSTempDir, clientID, filename)

	// 播放列表每次都从磁盘读最新内容，不走缓存
	if contentType == "video/MP2T" {
		cacheKey := "hls:segment:" + clientID + ":" + filename
		if data, _ := cache.GetSegmentCache(cacheKey); data != nil {
			w.Header().Set("Content-Type", contentType)
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			_, _ = w.Write(data)
			return
		}

		data, err := os.ReadFile(diskPath)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		_ = cache.SetSegmentCache(cacheKey, data, segmentCacheTTL)

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
		return
	}

	data, err := os.ReadFile(diskPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// HandleHistory 播放历史查询：GET /api/history?limit=N
func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	events, err := s.history.RecentEvents(limit)
	if err != nil {
		logger.Error("failed to query playback history", logger.ErrorField(err))
		http.Error(w, "failed to query history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}
