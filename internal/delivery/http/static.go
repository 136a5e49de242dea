package http

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

// StaticRoutes serves dir/index.html at "/" and every other file in dir by path.
func StaticRoutes(r chi.Router, dir string) {
	index := filepath.Join(dir, "index.html")
	files := http.FileServer(http.Dir(dir))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, index)
	})
	r.Handle("/*", files)
}
