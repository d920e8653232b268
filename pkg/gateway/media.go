package gateway

import (
	"io"
	"net/http"

	"github.com/cuber-it/heinzel-gateway/pkg/canon"
)

func (s *Server) handleModerations(w http.ResponseWriter, r *http.Request) {
	var req canon.ModerationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.tr().Moderate(r.Context(), req)
	if err != nil {
		writeError(w, s.tr().Name(), "/moderations", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// readUploadedFile parses a multipart/form-data body's "file" field into
// bytes, alongside any additional scalar fields the caller sent.
func readUploadedFile(r *http.Request) (data []byte, filename string, form map[string]string, err error) {
	if err = r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", nil, err
	}
	defer file.Close()
	data, err = io.ReadAll(file)
	if err != nil {
		return nil, "", nil, err
	}
	form = map[string]string{}
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			form[k] = v[0]
		}
	}
	return data, header.Filename, form, nil
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	data, filename, form, err := readUploadedFile(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected multipart file upload: " + err.Error()})
		return
	}
	req := canon.AudioTranscriptionRequest{
		Data: data, Filename: filename, Model: form["model"], Language: form["language"],
	}
	resp, err := s.tr().TranscribeAudio(r.Context(), req)
	if err != nil {
		writeError(w, s.tr().Name(), "/audio/transcriptions", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTranslateAudio(w http.ResponseWriter, r *http.Request) {
	data, filename, form, err := readUploadedFile(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected multipart file upload: " + err.Error()})
		return
	}
	req := canon.AudioTranslationRequest{Data: data, Filename: filename, Model: form["model"]}
	resp, err := s.tr().TranslateAudio(r.Context(), req)
	if err != nil {
		writeError(w, s.tr().Name(), "/audio/translations", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req canon.AudioSpeechRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	data, contentType, err := s.tr().SpeakText(r.Context(), req)
	if err != nil {
		writeError(w, s.tr().Name(), "/audio/speech", err)
		return
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleGenerateImages(w http.ResponseWriter, r *http.Request) {
	var req canon.ImageGenerationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.tr().GenerateImages(r.Context(), req)
	if err != nil {
		writeError(w, s.tr().Name(), "/images/generations", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEditImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected multipart form: " + err.Error()})
		return
	}
	image, _, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing image field"})
		return
	}
	defer image.Close()
	imageData, err := io.ReadAll(image)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var maskData []byte
	if mask, _, err := r.FormFile("mask"); err == nil {
		defer mask.Close()
		maskData, _ = io.ReadAll(mask)
	}
	req := canon.ImageEditRequest{
		Image:  imageData,
		Mask:   maskData,
		Prompt: r.FormValue("prompt"),
		Model:  r.FormValue("model"),
		Size:   r.FormValue("size"),
	}
	resp, err := s.tr().EditImage(r.Context(), req)
	if err != nil {
		writeError(w, s.tr().Name(), "/images/edits", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVaryImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expected multipart form: " + err.Error()})
		return
	}
	image, _, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing image field"})
		return
	}
	defer image.Close()
	data, err := io.ReadAll(image)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	req := canon.ImageVariationRequest{Image: data, Model: r.FormValue("model"), Size: r.FormValue("size")}
	resp, err := s.tr().VaryImage(r.Context(), req)
	if err != nil {
		writeError(w, s.tr().Name(), "/images/variations", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
