// Package static serves the built dashboard bundle. Any GET that does not
// name an existing file receives the entry document so the browser-side
// router can resolve deep links.
package static

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"fleetedge/filter"
	"fleetedge/logger"
)

const EntryDocument = "index.html"

var (
	ErrNotDirectory = errors.New("static root is not a directory")
	ErrMissingEntry = errors.New("static root has no " + EntryDocument)
)

const (
	cacheImmutable  = "public, max-age=31536000, immutable"
	cacheRevalidate = "no-cache"
)

type Handler struct {
	root string
}

// New checks that root is a directory holding the entry document.
func New(root string) (*Handler, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve static root %q: %w", root, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("static root %q: %w", abs, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}
	if _, err := os.Stat(filepath.Join(abs, EntryDocument)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingEntry, abs)
	}
	return &Handler{root: abs}, nil
}

func (h *Handler) Root() string { return h.root }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}

	if name, ok := h.resolve(r.URL.Path); ok {
		if h.serveFile(w, r, name) {
			return
		}
	}

	if !h.serveFile(w, r, filepath.Join(h.root, EntryDocument)) {
		logger.Error("SPA entry document unavailable", "root", h.root, "path", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	filter.SPAFallbacks.Inc()
}

// resolve maps a URL path onto a regular file under root. Dot segments and
// anything escaping root never resolve.
func (h *Handler) resolve(urlPath string) (string, bool) {
	clean := path.Clean("/" + urlPath)
	for _, seg := range strings.Split(clean, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}

	full := filepath.Join(h.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(h.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	fi, err := os.Stat(full)
	if err != nil {
		return "", false
	}
	if fi.IsDir() {
		full = filepath.Join(full, EntryDocument)
		if fi, err = os.Stat(full); err != nil {
			return "", false
		}
	}
	if !fi.Mode().IsRegular() {
		return "", false
	}
	return full, true
}

// serveFile writes name with status 200 (or a conditional/range status).
// It returns false when the file cannot be opened.
func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, name string) bool {
	f, err := os.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		return false
	}

	rel, _ := filepath.Rel(h.root, name)
	w.Header().Set("Cache-Control", cacheControl(filepath.ToSlash(rel)))
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
	return true
}

// cacheControl keeps content-hashed build output forever and makes every
// HTML document revalidate.
func cacheControl(rel string) string {
	if strings.HasPrefix(rel, "assets/") && !strings.HasSuffix(rel, ".html") {
		return cacheImmutable
	}
	return cacheRevalidate
}
