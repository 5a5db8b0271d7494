// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/frontlogic/taqbridge/internal/fsutil"
	"github.com/frontlogic/taqbridge/internal/log"
	"github.com/frontlogic/taqbridge/internal/worker"
)

const maxUploadBytes = 64 << 20

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	OTP      string `json:"otp"`
	TabsNum  int    `json:"tabsNum"`
	UserID   string `json:"userId"`
}

// handleLogin drives the login flow. A request carrying an OTP continues a
// pending login; the resolved worker report is returned as-is, so clients
// see OTP_REQUIRED and OTP_FAILED with a 200.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	cmd := worker.Command{
		Action:   worker.ActionLogin,
		Email:    req.Email,
		Password: req.Password,
		TabsNum:  req.TabsNum,
		UserID:   req.UserID,
	}
	if req.OTP != "" {
		cmd = worker.Command{Action: worker.ActionOTP, OTP: req.OTP, UserID: req.UserID}
	} else if req.Email == "" || req.Password == "" {
		writeError(w, fmt.Errorf("email and password are required"))
		return
	}

	msg, err := s.opts.Orchestrator.SendCommand(r.Context(), cmd)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleReport accepts the spreadsheet plus supporting PDFs and starts a
// form-fill run. The response is the terminal worker report.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, fmt.Errorf("invalid multipart request: %w", err))
		return
	}
	reportID := r.FormValue("reportId")
	if reportID == "" {
		writeError(w, fmt.Errorf("reportId is required"))
		return
	}
	tabsNum := 1
	if _, err := fmt.Sscanf(r.FormValue("tabsNum"), "%d", &tabsNum); err != nil {
		tabsNum = 1
	}

	excelPath, err := s.saveFormFile(r, "excel")
	if err != nil {
		writeError(w, err)
		return
	}

	var pdfPaths []string
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["pdfs"] {
			path, err := s.saveUpload(fh)
			if err != nil {
				writeError(w, err)
				return
			}
			pdfPaths = append(pdfPaths, path)
		}
	}

	cmd := worker.Command{
		Action:   worker.ActionFormFill,
		ReportID: reportID,
		TabsNum:  tabsNum,
		File:     excelPath,
		PDFs:     pdfPaths,
		UserID:   r.FormValue("userId"),
	}
	msg, err := s.opts.Orchestrator.SendCommand(log.ContextWithReportID(r.Context(), reportID), cmd)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleAssets uploads an asset spreadsheet and runs addAssets.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, fmt.Errorf("invalid multipart request: %w", err))
		return
	}
	reportID := r.FormValue("reportId")
	excelPath, err := s.saveFormFile(r, "excel")
	if err != nil {
		writeError(w, err)
		return
	}
	cmd := worker.Command{
		Action:   worker.ActionAddAssets,
		ReportID: reportID,
		File:     excelPath,
		UserID:   r.FormValue("userId"),
	}
	msg, err := s.opts.Orchestrator.SendCommand(r.Context(), cmd)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type checkRequest struct {
	ReportID string `json:"reportId"`
	Kind     string `json:"kind"`
}

// handleCheck runs check, checkMacros or retryMacros. Plain check results
// are cached per report; macro operations mutate state and bypass it.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.ReportID == "" {
		writeError(w, fmt.Errorf("reportId is required"))
		return
	}
	var action string
	switch req.Kind {
	case "", "check":
		action = worker.ActionCheck
	case "checkMacros":
		action = worker.ActionCheckMacros
	case "retryMacros":
		action = worker.ActionRetryMacros
	default:
		writeError(w, fmt.Errorf("unknown check kind: %s", req.Kind))
		return
	}

	if action == worker.ActionCheck && s.opts.Cache != nil {
		if cached, ok := s.opts.Cache.Get(req.ReportID); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	msg, err := s.opts.Orchestrator.SendCommand(log.ContextWithReportID(r.Context(), req.ReportID), worker.Command{
		Action:   action,
		ReportID: req.ReportID,
	})
	if err != nil {
		writeCommandError(w, err)
		return
	}
	if action == worker.ActionCheck && s.opts.Cache != nil && msg.Status == worker.StatusSuccess {
		s.opts.Cache.Set(req.ReportID, msg, s.opts.CacheTTL)
	}
	if s.opts.Cache != nil && (action == worker.ActionCheckMacros || action == worker.ActionRetryMacros) {
		// Macro edits invalidate the cached check result.
		s.opts.Cache.Delete(req.ReportID)
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleControl issues pause, resume or stop for an in-flight job.
func (s *Server) handleControl(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reportID := chi.URLParam(r, "reportId")
		if reportID == "" {
			writeError(w, fmt.Errorf("reportId is required"))
			return
		}
		msg, err := s.opts.Orchestrator.SendCommand(log.ContextWithReportID(r.Context(), reportID), worker.Command{
			Action:   action,
			ReportID: reportID,
		})
		if err != nil {
			writeCommandError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Sessions.ListActive())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runs == nil {
		writeNotFound(w)
		return
	}
	reportID := chi.URLParam(r, "reportId")
	runs, err := s.opts.Runs.Runs(r.Context(), reportID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) saveFormFile(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", fmt.Errorf("missing %s file: %w", field, err)
	}
	defer func() { _ = file.Close() }()
	path, err := fsutil.SaveUpload(s.opts.UploadDir, header.Filename, file)
	if err != nil {
		return "", fmt.Errorf("save %s upload: %w", field, err)
	}
	return path, nil
}

func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()
	path, err := fsutil.SaveUpload(s.opts.UploadDir, fh.Filename, f)
	if err != nil {
		return "", fmt.Errorf("save upload %s: %w", fh.Filename, err)
	}
	return path, nil
}
