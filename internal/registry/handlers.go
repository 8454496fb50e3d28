package registry

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/EmpoweredVote/instance-registry/internal/logging"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const maxRequestBytes = 1 << 20

// Submitter schedules background refreshes.
type Submitter interface {
	Submit(inst Instance) error
}

// Deps are the collaborators a Handler needs.
type Deps struct {
	Store        Store
	Prober       Prober
	Refresher    Submitter
	Outcomes     *Outcomes
	Metrics      *Metrics
	DefaultPoint Point
	Logger       log.Logger
}

// Handler serves the registry HTTP API.
type Handler struct {
	store        Store
	prober       Prober
	refresher    Submitter
	outcomes     *Outcomes
	metrics      *Metrics
	defaultPoint Point
	logger       log.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Handler{
		store:        d.Store,
		prober:       d.Prober,
		refresher:    d.Refresher,
		outcomes:     d.Outcomes,
		metrics:      d.Metrics,
		defaultPoint: d.DefaultPoint,
		logger:       logging.Component(logger, "handler"),
	}
}

type registrationResponse struct {
	Message  string      `json:"message"`
	Instance InstanceOut `json:"instance"`
}

// Register verifies the submitted instance's metadata endpoint and stores it.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := decodeBody(w, r, &payload); err != nil {
		h.metrics.observeRegistration("invalid")
		writeError(w, h.logger, "register", err)
		return
	}

	d, err := Normalize(payload)
	if err != nil {
		h.metrics.observeRegistration("invalid")
		writeError(w, h.logger, "register", err)
		return
	}
	link := *d.Link

	// Known links are rejected before the probe goes out.
	if _, err := h.store.FindByLink(r.Context(), link); err == nil {
		h.metrics.observeRegistration("duplicate")
		writeError(w, h.logger, "register", NewConflictError(link, nil))
		return
	} else if !IsKind(err, KindNotFound) {
		h.metrics.observeRegistration("error")
		writeError(w, h.logger, "register", err)
		return
	}

	t0 := time.Now()
	res := h.prober.Verify(r.Context(), link)
	probeTook := time.Since(t0)
	if !res.OK {
		h.metrics.observeRegistration("unverified")
		writeError(w, h.logger, "register", NewVerificationError(res))
		return
	}

	t1 := time.Now()
	inst, err := h.store.Insert(r.Context(), d)
	if err != nil {
		if IsKind(err, KindConflict) {
			h.metrics.observeRegistration("duplicate")
		} else {
			h.metrics.observeRegistration("error")
		}
		writeError(w, h.logger, "register", err)
		return
	}

	h.metrics.observeRegistration("created")
	level.Info(h.logger).Log("msg", "instance registered", "link", inst.Link, "id", inst.ID)
	addServerTiming(w, timing{"probe", probeTook}, timing{"insert", time.Since(t1)})
	writeJSONStatus(w, http.StatusCreated, registrationResponse{
		Message:  "instance registered",
		Instance: toInstanceOut(inst),
	})
}

type listResponse struct {
	Instances []InstanceOut `json:"instances"`
	Count     int           `json:"count"`
}

// ListInstances returns verified instances nearest first.
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := ParsePoint(q.Get("lat"), q.Get("lng"), h.defaultPoint)
	if err != nil {
		writeError(w, h.logger, "list instances", err)
		return
	}

	t0 := time.Now()
	ranked, err := h.store.ListVerified(r.Context(), from)
	if err != nil {
		writeError(w, h.logger, "list instances", err)
		return
	}
	addServerTiming(w, timing{"dbread", time.Since(t0)})

	out := make([]InstanceOut, 0, len(ranked))
	for _, ri := range ranked {
		out = append(out, toRankedOut(ri))
	}
	writeJSON(w, listResponse{Instances: out, Count: len(out)})
}

type statusResponse struct {
	InstanceLink  string     `json:"instanceLink"`
	Status        Status     `json:"status"`
	Reason        *string    `json:"reason"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastFetchedAt *time.Time `json:"lastFetchedAt"`
}

// RegistrationStatus reports the stored status of one link. Reason carries
// the failure of the most recent refresh while it is remembered.
func (h *Handler) RegistrationStatus(w http.ResponseWriter, r *http.Request) {
	link, err := linkParam(r)
	if err != nil {
		writeError(w, h.logger, "registration status", err)
		return
	}

	inst, err := h.store.FindByLink(r.Context(), link)
	if err != nil {
		writeError(w, h.logger, "registration status", err)
		return
	}

	resp := statusResponse{
		InstanceLink:  inst.Link,
		Status:        inst.Status,
		CreatedAt:     inst.CreatedAt,
		LastFetchedAt: inst.LastFetchedAt,
	}
	if out, ok := h.outcomes.Get(inst.Link); ok && !out.OK && out.Reason != "" {
		reason := string(out.Reason)
		resp.Reason = &reason
	}
	writeJSON(w, resp)
}

type refreshRequest struct {
	InstanceLink string `json:"instanceLink"`
	Link         string `json:"link"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Refresh schedules a background re-probe and answers before it runs.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, "refresh", err)
		return
	}
	link := req.InstanceLink
	if strings.TrimSpace(link) == "" {
		link = req.Link
	}
	link = CanonicalLink(link)
	if link == "" {
		writeError(w, h.logger, "refresh", NewMissingFieldsError([]string{"instanceLink"}))
		return
	}

	inst, err := h.store.FindByLink(r.Context(), link)
	if err != nil {
		writeError(w, h.logger, "refresh", err)
		return
	}

	if err := h.refresher.Submit(inst); err != nil {
		if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrClosed) {
			w.Header().Set("Retry-After", "5")
			writeError(w, h.logger, "refresh", NewUnavailableError("refresh queue is full, try again later", err))
			return
		}
		writeError(w, h.logger, "refresh", err)
		return
	}

	writeJSONStatus(w, http.StatusAccepted, messageResponse{Message: "refresh scheduled"})
}

// Deregister removes a registration.
func (h *Handler) Deregister(w http.ResponseWriter, r *http.Request) {
	link, err := linkParam(r)
	if err != nil {
		writeError(w, h.logger, "deregister", err)
		return
	}

	if err := h.store.DeleteByLink(r.Context(), link); err != nil {
		writeError(w, h.logger, "deregister", err)
		return
	}
	h.outcomes.Forget(link)

	level.Info(h.logger).Log("msg", "instance deregistered", "link", link)
	writeJSON(w, messageResponse{Message: "instance deleted"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func linkParam(r *http.Request) (string, error) {
	link := CanonicalLink(r.URL.Query().Get("instanceLink"))
	if link == "" {
		return "", NewValidationError("instanceLink query parameter is required", "instanceLink")
	}
	return link, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return NewValidationError("request body must be a JSON object")
	}
	return nil
}
