package server

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"

	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

// streamFiles writes the file-streaming response a Content module
// requested: the file itself for a single path, multipart/mixed for
// several.
func (s *Server) streamFiles(w http.ResponseWriter, st *pipeline.State, files []string) {
	if len(files) == 1 {
		s.streamOne(w, st, files[0])
		return
	}
	s.streamMultipart(w, st, files)
}

func (s *Server) streamOne(w http.ResponseWriter, st *pipeline.State, path string) {
	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("streaming open failed", "file", path, "error", err)
		http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.logger.Error("streaming stat failed", "file", path, "error", err)
		http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	for name, values := range st.ResponseHeaders {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentTypeFor(path))
	}
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))

	status := st.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if _, err := io.Copy(w, f); err != nil {
		// Headers are gone; all we can do is note the broken transfer.
		s.logger.Warn("streaming interrupted", "file", path, "error", err)
	}
}

func (s *Server) streamMultipart(w http.ResponseWriter, st *pipeline.State, files []string) {
	mw := multipart.NewWriter(w)
	defer mw.Close()

	header := w.Header()
	for name, values := range st.ResponseHeaders {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	header.Set("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%s", mw.Boundary()))
	w.WriteHeader(http.StatusOK)

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			s.logger.Error("streaming open failed mid-response", "file", path, "error", err)
			return
		}

		partHeader := textproto.MIMEHeader{}
		partHeader.Set("Content-Type", contentTypeFor(path))
		partHeader.Set("Content-Disposition",
			fmt.Sprintf("inline; filename=%q", filepath.Base(path)))

		part, err := mw.CreatePart(partHeader)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			s.logger.Warn("streaming interrupted", "file", path, "error", err)
			return
		}
	}
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
