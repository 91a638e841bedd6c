package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/online-ide/internal/auth"
	"github.com/gluk-w/online-ide/internal/database"
)

type createProjectRequest struct {
	Lang string `json:"lang"`
	Pass string `json:"pass"`
	// TTL in seconds; 0 or less never expires.
	TTL int64 `json:"ttl"`
}

type createProjectResponse struct {
	PublicID string `json:"public_id"`
	EditID   string `json:"edit_id"`
	Lang     string `json:"lang"`
	TTL      int64  `json:"ttl"`
}

// CreateProject stores a shared-project record. The edit ID is only ever
// returned here.
func CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Lang == "" {
		writeError(w, http.StatusBadRequest, "lang is required")
		return
	}
	if Runner != nil {
		if _, ok := Runner.Toolchains.Lookup(req.Lang); !ok {
			writeError(w, http.StatusBadRequest, "Unsupported language")
			return
		}
		req.Lang = Runner.Toolchains.Normalize(req.Lang)
	}

	ttl, err := database.TTLFromSeconds(req.TTL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ttl too large")
		return
	}

	hash, err := auth.HashPassword(req.Pass)
	if err != nil {
		log.Printf("[projects] hash password: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}
	p, err := database.CreateProject(req.Lang, hash, ttl)
	if err != nil {
		log.Printf("[projects] %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}
	writeJSON(w, http.StatusCreated, createProjectResponse{
		PublicID: p.PublicID,
		EditID:   p.EditID,
		Lang:     p.Lang,
		TTL:      p.TTL,
	})
}

// GetProject returns the public view of a project.
func GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := database.GetProjectByPublicID(chi.URLParam(r, "publicId"))
	if err != nil {
		if errors.Is(err, database.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type unlockProjectRequest struct {
	Pass string `json:"pass"`
}

// UnlockProject trades a project's password for its edit ID. Projects
// created without a password cannot be unlocked.
func UnlockProject(w http.ResponseWriter, r *http.Request) {
	var req unlockProjectRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p, err := database.GetProjectByPublicID(chi.URLParam(r, "publicId"))
	if err != nil {
		if errors.Is(err, database.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load project")
		return
	}
	if !auth.CheckPassword(req.Pass, p.Pass) {
		writeError(w, http.StatusForbidden, "Invalid password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"edit_id": p.EditID})
}
