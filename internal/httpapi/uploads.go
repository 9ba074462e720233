package httpapi

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxVideoBytes  = 1 << 30 // 1 GiB
	maxAvatarBytes = 10 << 20
)

func (s *Server) uploadVideo(w http.ResponseWriter, r *http.Request) {
	name, ok := s.saveUpload(w, r, "video", "video/", s.uploadDir, maxVideoBytes)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"videoUrl": "/uploads/" + name,
		"filename": name,
	})
}

func (s *Server) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	dir := filepath.Join(s.uploadDir, "avatars")
	name, ok := s.saveUpload(w, r, "avatar", "image/", dir, maxAvatarBytes)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"avatarUrl": "/uploads/avatars/" + name,
		"filename":  name,
	})
}

// saveUpload stores one multipart file field under a uuid-prefixed name and
// returns the stored filename. Content type is gated by prefix (video/ or
// image/) from the part header.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request, field, typePrefix, dir string, limit int64) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile(field)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file sent")
		return "", false
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); !strings.HasPrefix(ct, typePrefix) {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return "", false
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Error("create upload dir failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return "", false
	}

	// The original name is kept for operators; the uuid prefix prevents
	// collisions and path games are neutralized by Base.
	name := uuid.NewString() + "-" + filepath.Base(header.Filename)
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		s.log.Error("create upload file failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return "", false
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		s.log.Error("write upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return "", false
	}
	return name, true
}
