package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/skip2/go-qrcode"

	"quickclip/internal/code"
	"quickclip/internal/storage"
)

// maxFormMemory bounds the in-memory portion of multipart parsing; larger
// parts spill to temporary files.
const maxFormMemory = 1 << 20

type saveResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"`
}

type fileView struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Type       string `json:"type"`
	URL        string `json:"url"`
	UploadTime int64  `json:"upload_time"`
	Checksum   string `json:"checksum,omitempty"`
}

type contentResponse struct {
	Success bool      `json:"success"`
	Text    string    `json:"text"`
	File    *fileView `json:"file"`
	Message string    `json:"message"`
}

// handleSave accepts an optional code (else one is generated), an optional
// text field and an optional file part, in one request. Domain failures are
// reported as success:false JSON at HTTP 200; only transport-shape problems
// get non-200 statuses.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxFileSize+maxFormMemory)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusOK, saveResponse{Message: "File size exceeds 10MB limit"})
			return
		}
		s.writeJSON(w, http.StatusOK, saveResponse{Message: "Failed to parse request"})
		return
	}

	c := code.Normalize(r.FormValue("code"))
	if c == "" {
		var err error
		c, err = s.codes.Generate(r.Context())
		if err != nil {
			s.logError("generate code", err)
			s.writeJSON(w, http.StatusOK, saveResponse{Message: "Failed to generate code"})
			return
		}
	}
	if !code.Valid(c) {
		s.writeJSON(w, http.StatusOK, saveResponse{Message: "Invalid clipboard code format"})
		return
	}

	resp := saveResponse{Code: c}

	if text, ok := formValue(r, "text"); ok {
		entry := &storage.TextEntry{Code: c, Content: text, UpdatedAt: s.nowTime().UTC()}
		if err := s.store.SaveText(r.Context(), entry); err != nil {
			s.logError("save text", err)
			s.writeJSON(w, http.StatusOK, saveResponse{Code: c, Message: "Failed to save text"})
			return
		}
		resp.Success = true
		resp.Type = "text"
		resp.Message = "Text saved successfully"
	}

	if r.MultipartForm != nil && len(r.MultipartForm.File["file"]) > 0 {
		file, header, err := r.FormFile("file")
		if err != nil {
			s.logError("read upload", err)
			s.writeJSON(w, http.StatusOK, saveResponse{Code: c, Message: "Failed to upload file"})
			return
		}
		defer file.Close()

		if _, err := s.saveUpload(r.Context(), c, file, header); err != nil {
			s.writeJSON(w, http.StatusOK, saveResponse{Code: c, Message: uploadMessage(err)})
			return
		}
		resp.Success = true
		resp.Type = "file"
		resp.Message = "File uploaded successfully"
	}

	if !resp.Success {
		s.writeJSON(w, http.StatusOK, saveResponse{Code: c, Message: "No content provided"})
		return
	}

	s.sweep(r.Context())
	s.writeJSON(w, http.StatusOK, resp)
}

// saveUpload validates the declared size and type, then persists the bytes
// under a freshly generated stored name. Nothing is written when validation
// fails.
func (s *Server) saveUpload(ctx context.Context, c string, file multipart.File, header *multipart.FileHeader) (*storage.FileEntry, error) {
	contentType := header.Header.Get("Content-Type")
	if err := storage.ValidateUpload(header.Size, contentType); err != nil {
		return nil, err
	}

	now := s.nowTime().UTC()
	entry := &storage.FileEntry{
		Code:         c,
		OriginalName: header.Filename,
		StoredName:   storage.StoredName(c, now, header.Filename),
		Size:         header.Size,
		ContentType:  contentType,
		UploadedAt:   now,
	}
	if err := s.store.SaveFile(ctx, entry, file); err != nil {
		s.logError("save file", err)
		return nil, fmt.Errorf("persist upload: %w", err)
	}
	return entry, nil
}

func uploadMessage(err error) string {
	switch {
	case errors.Is(err, storage.ErrFileTooLarge):
		return "File size exceeds 10MB limit"
	case errors.Is(err, storage.ErrUnsupportedType):
		return "File type not allowed"
	default:
		return "Failed to upload file"
	}
}

// handleContent reports the text and file bound to a code. Absence of
// content is a soft failure in the body, not an HTTP error.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("code")
	if raw == "" {
		s.writeJSON(w, http.StatusBadRequest, contentResponse{Message: "Invalid request"})
		return
	}
	c := code.Normalize(raw)
	if !code.Valid(c) {
		s.writeJSON(w, http.StatusOK, contentResponse{Message: "Invalid clipboard code format"})
		return
	}

	resp := contentResponse{}

	if entry, err := s.store.GetText(r.Context(), c); err == nil {
		resp.Text = entry.Content
		resp.Success = true
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.logError("load text", err)
	}

	if entry, err := s.store.GetFile(r.Context(), c); err == nil {
		// Report the file only while its blob is still on disk; the
		// metadata can outlive a swept blob briefly.
		if blob, berr := s.store.OpenBlob(r.Context(), entry); berr == nil {
			_ = blob.Close()
			resp.File = &fileView{
				Name:       entry.OriginalName,
				Size:       entry.Size,
				Type:       entry.ContentType,
				URL:        "uploads/" + entry.StoredName,
				UploadTime: entry.UploadedAt.Unix(),
				Checksum:   entry.Checksum,
			}
			resp.Success = true
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.logError("load file metadata", err)
	}

	if resp.Success {
		resp.Message = "Content found"
	} else {
		resp.Message = "No content found for the provided code"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDownload streams the stored blob for a code. This is the only path
// that maps errors to transport statuses: 400 for format, 404 for missing,
// 403 when the file parameter does not match the recorded stored name.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawCode := q.Get("code")
	requested := q.Get("file")
	if rawCode == "" || requested == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	c := code.Normalize(rawCode)
	if !code.Valid(c) {
		http.Error(w, "Invalid clipboard code", http.StatusBadRequest)
		return
	}

	entry, err := s.store.GetFile(r.Context(), c)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		s.logError("load file metadata", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// The path is resolved from the recorded stored name, never from the
	// request.
	blob, err := s.store.OpenBlob(r.Context(), entry)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		s.logError("open blob", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer blob.Close()

	// The caller-supplied name must equal the recorded one exactly; it
	// authorizes the download, it does not locate the file.
	if requested != entry.StoredName {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.OriginalName))
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	if entry.Checksum != "" {
		w.Header().Set("ETag", `"`+entry.Checksum+`"`)
	}
	if _, err := io.Copy(w, blob); err != nil {
		s.logError("stream blob", err)
	}
}

// handleQR renders a QR code of the share URL for a code that holds content.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	c := code.Normalize(r.URL.Query().Get("code"))
	if !code.Valid(c) {
		http.Error(w, "Invalid clipboard code", http.StatusBadRequest)
		return
	}
	if !s.hasContent(r.Context(), c) {
		http.Error(w, "No content found", http.StatusNotFound)
		return
	}

	png, err := qrcode.Encode(s.shareURL(r, c), qrcode.Medium, 256)
	if err != nil {
		s.logError("encode qr", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) hasContent(ctx context.Context, c string) bool {
	if _, err := s.store.GetText(ctx, c); err == nil {
		return true
	}
	if _, err := s.store.GetFile(ctx, c); err == nil {
		return true
	}
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logError("encode response", err)
	}
}

func (s *Server) logError(msg string, err error) {
	if s.logger != nil {
		s.logger.Error(msg, "error", err)
	}
}

// formValue distinguishes an absent field from an empty one: saving an empty
// text value clears the stored text and is a valid write.
func formValue(r *http.Request, key string) (string, bool) {
	if vs, ok := r.Form[key]; ok && len(vs) > 0 {
		return vs[0], true
	}
	return "", false
}
