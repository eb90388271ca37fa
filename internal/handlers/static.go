package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// SPAHandler serves files from the public directory and falls back to index.html
type SPAHandler struct {
	publicDir string
	prefix    string
}

// NewSPAHandler creates a handler for the single-page frontend. prefix is
// stripped from request paths before lookup.
func NewSPAHandler(publicDir, prefix string) *SPAHandler {
	return &SPAHandler{publicDir: publicDir, prefix: prefix}
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, h.prefix)
	name = filepath.FromSlash(filepath.Clean("/" + name))
	fullPath := filepath.Join(h.publicDir, name)

	if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
		http.ServeFile(w, r, fullPath)
		return
	}

	http.ServeFile(w, r, filepath.Join(h.publicDir, "index.html"))
}
