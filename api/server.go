package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"yad2-watcher/models"
	"yad2-watcher/services"
	"yad2-watcher/storage"
	"yad2-watcher/utils"
)

// Scanner runs scans on demand.
type Scanner interface {
	RunScanCycle(ctx context.Context, targets []models.TrackedTarget) []*models.ScanOutcome
	RunScanForOne(ctx context.Context, target models.TrackedTarget) *models.ScanOutcome
}

// Backend is the part of the store the API needs.
type Backend interface {
	storage.ListingStore
	storage.TargetStore
}

// Server exposes scan triggers and target management over HTTP.
type Server struct {
	scanner Scanner
	store   Backend
	logger  *utils.Logger
	router  *mux.Router
}

// targetView is a target together with its current statistics.
type targetView struct {
	models.TrackedTarget
	Stats models.Stats `json:"stats"`
}

type listingsView struct {
	Listings []*models.SeenListing `json:"listings"`
	Stats    models.Stats          `json:"stats"`
}

var validate = validator.New()

// newTarget holds the required fields of a target being added.
type newTarget struct {
	Name string `validate:"required"`
	URL  string `validate:"required,url"`
}

type targetRequest struct {
	Name           *string         `json:"name"`
	URL            *string         `json:"url"`
	MaxPricePerSqm json.RawMessage `json:"max_price_per_sqm"`
	Disabled       *bool           `json:"disabled"`
}

// NewServer creates a Server and registers its routes.
func NewServer(scanner Scanner, store Backend, logger *utils.Logger) *Server {
	s := &Server{scanner: scanner, store: store, logger: logger, router: mux.NewRouter()}

	r := s.router.PathPrefix("/api").Subrouter()
	r.HandleFunc("/scan", s.handleScanAll).Methods(http.MethodPost)
	r.HandleFunc("/scan/{id:[0-9]+}", s.handleScanOne).Methods(http.MethodPost)
	r.HandleFunc("/targets", s.handleListTargets).Methods(http.MethodGet)
	r.HandleFunc("/targets", s.handleAddTarget).Methods(http.MethodPost)
	r.HandleFunc("/targets/{id:[0-9]+}", s.handleUpdateTarget).Methods(http.MethodPut)
	r.HandleFunc("/targets/{id:[0-9]+}", s.handleRemoveTarget).Methods(http.MethodDelete)
	r.HandleFunc("/targets/{id:[0-9]+}/listings", s.handleListings).Methods(http.MethodGet)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleScanAll(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.ListTargets(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.scanner.RunScanCycle(r.Context(), targets))
}

func (s *Server) handleScanOne(w http.ResponseWriter, r *http.Request) {
	target, ok := s.target(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.scanner.RunScanForOne(r.Context(), target))
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.ListTargets(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]targetView, 0, len(targets))
	for _, t := range targets {
		listings, err := s.store.AllListings(r.Context(), t.ID)
		if err != nil {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}
		views = append(views, targetView{TrackedTarget: t, Stats: services.ComputeStats(listings)})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	var nt newTarget
	if req.Name != nil {
		nt.Name = strings.TrimSpace(*req.Name)
	}
	if req.URL != nil {
		nt.URL = strings.TrimSpace(*req.URL)
	}
	if err := validate.Struct(nt); err != nil {
		s.fail(w, http.StatusBadRequest, errors.New("name and a valid url are required"))
		return
	}
	threshold, _, err := parseThreshold(req.MaxPricePerSqm)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	t := models.TrackedTarget{
		Name:           nt.Name,
		URL:            nt.URL,
		MaxPricePerSqm: threshold,
	}
	if req.Disabled != nil {
		t.Disabled = *req.Disabled
	}

	created, err := s.store.AddTarget(r.Context(), t)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("[api] Added target #%d %q", created.ID, created.Name)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := s.id(w, r)
	if !ok {
		return
	}

	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if req.URL != nil {
		if err := validate.Var(*req.URL, "required,url"); err != nil {
			s.fail(w, http.StatusBadRequest, errors.New("url must be a valid URL"))
			return
		}
	}
	threshold, clear, err := parseThreshold(req.MaxPricePerSqm)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	u := storage.TargetUpdate{
		Name:           req.Name,
		URL:            req.URL,
		MaxPricePerSqm: threshold,
		ClearThreshold: clear,
		Disabled:       req.Disabled,
	}
	if err := s.store.UpdateTarget(r.Context(), id, u); err != nil {
		s.storeFail(w, err)
		return
	}

	updated, err := s.store.GetTarget(r.Context(), id)
	if err != nil {
		s.storeFail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := s.id(w, r)
	if !ok {
		return
	}
	if err := s.store.RemoveTarget(r.Context(), id); err != nil {
		s.storeFail(w, err)
		return
	}
	s.logger.Info("[api] Removed target #%d", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	target, ok := s.target(w, r)
	if !ok {
		return
	}
	listings, err := s.store.AllListings(r.Context(), target.ID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, listingsView{Listings: listings, Stats: services.ComputeStats(listings)})
}

func (s *Server) id(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, errors.New("invalid target id"))
		return 0, false
	}
	return id, true
}

func (s *Server) target(w http.ResponseWriter, r *http.Request) (models.TrackedTarget, bool) {
	id, ok := s.id(w, r)
	if !ok {
		return models.TrackedTarget{}, false
	}
	t, err := s.store.GetTarget(r.Context(), id)
	if err != nil {
		s.storeFail(w, err)
		return t, false
	}
	return t, true
}

func (s *Server) storeFail(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrTargetNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	s.fail(w, http.StatusInternalServerError, err)
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("[api] %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// parseThreshold reads max_price_per_sqm. Absent leaves it unchanged; null,
// "" and 0 clear it; a number or numeric string sets it.
func parseThreshold(raw json.RawMessage) (value *float64, clear bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false, nil
	}
	if bytes.Equal(raw, []byte("null")) {
		return nil, true, nil
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil, false, errors.New("max_price_per_sqm must be a number")
		}
		if s = strings.TrimSpace(s); s == "" {
			return nil, true, nil
		}
		if v, err = strconv.ParseFloat(s, 64); err != nil {
			return nil, false, errors.New("max_price_per_sqm must be a number")
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false, errors.New("max_price_per_sqm must be a finite number")
	}
	if v < 0 {
		return nil, false, errors.New("max_price_per_sqm must not be negative")
	}
	if v == 0 {
		return nil, true, nil
	}
	return &v, false, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
