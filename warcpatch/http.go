package warcpatch

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/USC-NSL/IMC-25-Artifact/batch"
	"github.com/USC-NSL/IMC-25-Artifact/capture"
	"github.com/USC-NSL/IMC-25-Artifact/idgen"
	"github.com/USC-NSL/IMC-25-Artifact/kit"
	"github.com/USC-NSL/IMC-25-Artifact/ledger"
	"github.com/USC-NSL/IMC-25-Artifact/pathsafe"
)

// RegisterHTTP mounts the API routes on r.
//
//	GET  /api/jobs?status=&collection=&limit=
//	GET  /api/jobs/{id}
//	GET  /api/stats
//	POST /api/collections/{col}/patch
//	POST /api/collections/{col}/archives/{archive}/patch
//	GET  /api/collections/{col}/archives/{archive}/resources
//	POST /api/initiators            {"prefix": "<col>/<archive>/record-js-0"}
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(requestContext)
		if s.cfg.HTTP.PasswordHash != "" {
			r.Use(basicAuth([]byte(s.cfg.HTTP.PasswordHash)))
		}
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/stats", s.handleStats)
		r.Post("/collections/{col}/patch", s.handlePatchCollection)
		r.Post("/collections/{col}/archives/{archive}/patch", s.handlePatchArchive)
		r.Get("/collections/{col}/archives/{archive}/resources", s.handleResources)
		r.Post("/initiators", s.handleInitiators)
	})
}

// requestContext tags the request context with its transport, id and peer.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		if id == "" {
			id = idgen.New()
		}
		ctx := kit.WithTransport(r.Context(), "http")
		ctx = kit.WithRequestID(ctx, id)
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// basicAuth requires a password matching hash; the user name is ignored.
func basicAuth(hash []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, pass, ok := r.BasicAuth()
			if !ok || bcrypt.CompareHashAndPassword(hash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="warcpatch"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Service) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var f ledger.Filter
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := ledger.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Status = st
	}
	f.Collection = r.URL.Query().Get("collection")
	f.Limit = queryInt(r, "limit", 0)
	jobs, err := s.Jobs(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Service) handleGetJob(w http.ResponseWriter, r *http.Request) {
	e, err := s.Job(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handlePatchCollection(w http.ResponseWriter, r *http.Request) {
	sum, err := s.PatchCollection(r.Context(), chi.URLParam(r, "col"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Service) handlePatchArchive(w http.ResponseWriter, r *http.Request) {
	e, err := s.PatchArchive(r.Context(), chi.URLParam(r, "col"), chi.URLParam(r, "archive"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Service) handleResources(w http.ResponseWriter, r *http.Request) {
	d, err := s.Resources(r.Context(), chi.URLParam(r, "col"), chi.URLParam(r, "archive"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Service) handleInitiators(w http.ResponseWriter, r *http.Request) {
	body, err := pathsafe.LimitedReadAll(r.Body, pathsafe.MaxRequestBody)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	var req struct {
		Prefix string `json:"prefix"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := s.Initiators(req.Prefix)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, capture.ErrArtifactMissing):
		return http.StatusNotFound
	case errors.Is(err, batch.ErrSkip),
		errors.Is(err, pathsafe.ErrPathTraversal),
		errors.Is(err, capture.ErrBadPrefix),
		errors.Is(err, pathsafe.ErrInvalidIdentifier),
		errors.Is(err, ErrNoCollection):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
