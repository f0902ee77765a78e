package apistub

import (
	"embed"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"
)

//go:embed static/*
var staticFiles embed.FS

var startTime = time.Now()

// FileServerHandler serves the embedded app shell. "/" and "/index.html" both
// answer with the index page directly, without the redirect http.FileServer
// issues for index files.
func FileServerHandler() http.Handler {
	fsys := StaticFilesFS()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		f, err := fsys.Open(name)
		if err != nil {
			http.Error(w, "404 - Page Not Found", http.StatusNotFound)
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.Error(w, "404 - Page Not Found", http.StatusNotFound)
			return
		}
		http.ServeContent(w, r, name, startTime, f.(io.ReadSeeker))
	})
}

func StaticFilesFS() fs.FS {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic("Failed to create sub filesystem: " + err.Error())
	}
	return subFS
}
