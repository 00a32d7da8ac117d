package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/hazyhaar/courrier/docerr"
	"github.com/hazyhaar/courrier/docstore"
	"github.com/hazyhaar/courrier/horosafe"
	"github.com/hazyhaar/courrier/ingester"
	"github.com/hazyhaar/courrier/shield"
)

type failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type documentView struct {
	ID            string            `json:"id"`
	FileName      string            `json:"fileName"`
	PreviewURL    string            `json:"previewUrl"`
	Metadata      docstore.Metadata `json:"metadata"`
	ExtractedText string            `json:"extractedText"`
}

type uploadResponse struct {
	Success  bool         `json:"success"`
	Message  string       `json:"message"`
	Document documentView `json:"document"`
}

type extractResponse struct {
	Success         bool   `json:"success"`
	Text            string `json:"text"`
	ProcessedBuffer string `json:"processedBuffer"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, failure{Success: false, Message: msg})
}

// statusFor maps a pipeline failure to an HTTP status.
func statusFor(err error) int {
	switch docerr.KindOf(err) {
	case docerr.InvalidInput:
		return http.StatusBadRequest
	case docerr.Overloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// readFile parses the multipart body and returns the "file" part, capped at
// the upload limit. A nil error with nil data means no file was sent.
func readFile(r *http.Request) ([]byte, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			return nil, nil, docerr.Invalid("File size exceeds 10MB limit")
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil, docerr.Invalid("No file uploaded")
		}
		return nil, nil, docerr.New(docerr.InvalidInput, "Malformed upload", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil, nil
		}
		return nil, nil, docerr.New(docerr.InvalidInput, "Malformed upload", err)
	}
	defer f.Close()
	data, err := horosafe.LimitedReadAll(f, ingester.MaxUploadBytes)
	if err != nil {
		if errors.Is(err, horosafe.ErrTooLarge) {
			return nil, nil, docerr.Invalid("File size exceeds 10MB limit")
		}
		return nil, nil, docerr.New(docerr.Internal, "Failed to read upload", err)
	}
	return data, hdr, nil
}

// partMIME returns the declared type of the part, sniffing only when the
// client sent none.
func partMIME(hdr *multipart.FileHeader, data []byte) string {
	ct := hdr.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		r.MultipartForm.RemoveAll()
	}
}

func (s *Server) handleExtractText(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	defer cleanupForm(r)

	data, hdr, err := readFile(r)
	if err != nil {
		log.Warn("extract-text: bad request", "error", err)
		writeFailure(w, statusFor(err), docerr.Public(err))
		return
	}
	if data == nil {
		writeFailure(w, http.StatusBadRequest, "No file uploaded")
		return
	}

	res, err := s.pipeline.ExtractText(r.Context(), data, partMIME(hdr, data))
	if err != nil {
		log.Error("extract-text failed", "kind", docerr.KindOf(err), "error", err)
		writeFailure(w, statusFor(err), docerr.Public(err))
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{
		Success:         true,
		Text:            res.Text,
		ProcessedBuffer: base64.StdEncoding.EncodeToString(res.Processed),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeFailure(w, http.StatusBadRequest, "No text provided for analysis")
		return
	}
	if s.suggester == nil {
		writeFailure(w, http.StatusServiceUnavailable, "Document analysis is not configured")
		return
	}
	sug, err := s.suggester.Suggest(r.Context(), req.Text)
	if err != nil {
		log.Error("analyze-document failed", "error", err)
		writeFailure(w, http.StatusBadGateway, "Failed to analyze document")
		return
	}
	writeJSON(w, http.StatusOK, sug)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	defer cleanupForm(r)

	data, hdr, err := readFile(r)
	if err != nil {
		log.Warn("upload: bad request", "error", err)
		writeFailure(w, statusFor(err), docerr.Public(err))
		return
	}
	if data == nil {
		writeFailure(w, http.StatusBadRequest, "No file uploaded")
		return
	}

	u := &ingester.Upload{
		Data:     data,
		MIME:     partMIME(hdr, data),
		FileName: hdr.Filename,
		Fields: ingester.Fields{
			IncomingOutgoing: r.FormValue("incomingOutgoing"),
			LetterDate:       r.FormValue("letterDate"),
			LetterNumber:     r.FormValue("letterNumber"),
			From:             r.FormValue("from"),
			To:               r.FormValue("to"),
			Subject:          r.FormValue("subject"),
			Reference:        r.FormValue("reference"),
			Summary:          r.FormValue("summary"),
		},
	}
	rec, err := s.pipeline.Ingest(r.Context(), u)
	if err != nil {
		log.Error("upload failed", "kind", docerr.KindOf(err), "error", err)
		writeFailure(w, statusFor(err), docerr.Public(err))
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		Message: "File uploaded and converted successfully",
		Document: documentView{
			ID:            rec.ID,
			FileName:      rec.FileName,
			PreviewURL:    rec.PreviewURL,
			Metadata:      rec.Metadata,
			ExtractedText: rec.ExtractedText,
		},
	})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List(r.Context())
	if err != nil {
		shield.GetLogger(r.Context()).Error("list documents", "error", err)
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	if recs == nil {
		recs = []*docstore.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if n, err := s.store.Count(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["store_error"] = err.Error()
	} else {
		resp["documents"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// noListing serves files but reports directories as missing.
type noListing struct{ fs http.FileSystem }

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
