package httpserver

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Alireza-Koohzad/Nova-chat/internal/config"
)

// UploadRoutes returns a sub-router mounted at /api/uploads.
// Files are stored under cfg.UploadDir with random names; the returned URL
// is what clients put in a message's fileUrl field.
func UploadRoutes(cfg *config.Config) chi.Router {
	r := chi.NewRouter()

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(50 << 20); err != nil { // 50MB limit
			http.Error(w, "failed to parse multipart form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		ext := filepath.Ext(header.Filename)
		if ext == "" {
			http.Error(w, "file must have an extension", http.StatusBadRequest)
			return
		}

		filename := uuid.NewString() + ext
		destPath := filepath.Join(cfg.UploadDir, filename)

		out, err := os.Create(destPath)
		if err != nil {
			http.Error(w, "could not create file", http.StatusInternalServerError)
			return
		}
		defer out.Close()

		if _, err := io.Copy(out, file); err != nil {
			http.Error(w, "could not save file", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"fileUrl":  "/api/uploads/" + filename,
			"filename": filename,
		})
	})

	r.Get("/{filename}", func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" {
			http.Error(w, "missing filename", http.StatusBadRequest)
			return
		}
		// Prevent path traversal by rejecting anything with separators.
		if filepath.Base(filename) != filename {
			http.Error(w, "invalid filename", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.UploadDir, filename))
	})

	return r
}
