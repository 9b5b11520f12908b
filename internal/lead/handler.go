package lead

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"lead-capture/internal/apierror"
)

const (
	maxJSONBodyBytes = 64 << 10

	maxNameLength    = 120
	maxEmailLength   = 254
	maxCompanyLength = 120
	maxMessageLength = 2000
	maxSourceLength  = 60
	maxNotesLength   = 5000

	DefaultPageSize = 50
	MaxPageSize     = 200
)

var whatsappPattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

var whatsappSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

type Store interface {
	Create(ctx context.Context, input LeadInput) (Lead, error)
	List(ctx context.Context, filter ListFilter) (Page, error)
	Get(ctx context.Context, id string) (Lead, error)
	Update(ctx context.Context, id string, change LeadUpdate) (Lead, error)
	Delete(ctx context.Context, id string) error
}

// Notifier is told about every stored lead. Implementations must not block.
type Notifier interface {
	LeadCreated(l Lead)
}

type Handler struct {
	store     Store
	notifier  Notifier
	responder *apierror.Responder
}

func NewHandler(store Store, notifier Notifier, responder *apierror.Responder) *Handler {
	return &Handler{store: store, notifier: notifier, responder: responder}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var input LeadInput
	if !h.decode(w, r, &input) {
		return
	}

	input, fields := validateInput(input)
	if len(fields) > 0 {
		h.responder.Error(w, r, apierror.Validation("invalid lead", fields))
		return
	}

	l, err := h.store.Create(r.Context(), input)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	if h.notifier != nil {
		h.notifier.LeadCreated(l)
	}

	h.responder.JSON(w, http.StatusCreated, map[string]any{"success": true, "lead": l})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, fields := parseListFilter(r)
	if len(fields) > 0 {
		h.responder.Error(w, r, apierror.Validation("invalid query", fields))
		return
	}

	page, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	h.responder.JSON(w, http.StatusOK, page)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	l, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	h.responder.JSON(w, http.StatusOK, l)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var change LeadUpdate
	if !h.decode(w, r, &change) {
		return
	}

	fields := map[string]string{}
	if change.Status == nil && change.Notes == nil {
		fields["status"] = "status or notes is required"
	}
	if change.Status != nil && !change.Status.Valid() {
		fields["status"] = "is invalid"
	}
	if change.Notes != nil {
		notes := strings.TrimSpace(*change.Notes)
		if !utf8.ValidString(notes) || utf8.RuneCountInString(notes) > maxNotesLength {
			fields["notes"] = "is invalid"
		}
		change.Notes = &notes
	}
	if len(fields) > 0 {
		h.responder.Error(w, r, apierror.Validation("invalid lead update", fields))
		return
	}

	l, err := h.store.Update(r.Context(), id, change)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	h.responder.JSON(w, http.StatusOK, l)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.storeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		h.responder.Error(w, r, apierror.Validation("invalid json body", nil))
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		h.responder.Error(w, r, apierror.Validation("invalid lead id", map[string]string{"id": "must be a uuid"}))
		return "", false
	}
	return id, true
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		h.responder.Error(w, r, apierror.NotFound("lead not found"))
		return
	}
	h.responder.Error(w, r, err)
}

func validateInput(input LeadInput) (LeadInput, map[string]string) {
	input.Name = strings.TrimSpace(input.Name)
	input.WhatsApp = whatsappSeparators.Replace(strings.TrimSpace(input.WhatsApp))
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Company = strings.TrimSpace(input.Company)
	input.Message = strings.TrimSpace(input.Message)
	input.Source = strings.TrimSpace(input.Source)

	fields := map[string]string{}

	switch {
	case input.Name == "":
		fields["name"] = "is required"
	case !validText(input.Name, maxNameLength):
		fields["name"] = "is invalid"
	}

	switch {
	case input.WhatsApp == "":
		fields["whatsapp"] = "is required"
	case !whatsappPattern.MatchString(input.WhatsApp):
		fields["whatsapp"] = "must contain 10 to 15 digits"
	}

	if input.Email != "" {
		addr, err := mail.ParseAddress(input.Email)
		if err != nil || addr.Address != input.Email || len(input.Email) > maxEmailLength {
			fields["email"] = "is invalid"
		}
	}
	if !validText(input.Company, maxCompanyLength) {
		fields["company"] = "is invalid"
	}
	if !validText(input.Message, maxMessageLength) {
		fields["message"] = "is invalid"
	}
	if !validText(input.Source, maxSourceLength) {
		fields["source"] = "is invalid"
	}

	return input, fields
}

func validText(value string, maxRunes int) bool {
	return utf8.ValidString(value) && utf8.RuneCountInString(value) <= maxRunes
}

func parseListFilter(r *http.Request) (ListFilter, map[string]string) {
	query := r.URL.Query()
	filter := ListFilter{Limit: DefaultPageSize}
	fields := map[string]string{}

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := Status(strings.ToLower(raw))
		if !status.Valid() {
			fields["status"] = "is invalid"
		}
		filter.Status = status
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			fields["limit"] = "must be a positive integer"
		} else {
			filter.Limit = min(limit, MaxPageSize)
		}
	}

	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			fields["offset"] = "must be zero or more"
		} else {
			filter.Offset = offset
		}
	}

	return filter, fields
}
