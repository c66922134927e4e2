package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jw6ventures/timetable/internal/auth"
	httperrors "github.com/jw6ventures/timetable/internal/http/errors"
	"github.com/jw6ventures/timetable/internal/timetable"
)

// RangeService answers timetable range requests.
type RangeService interface {
	GetOrFetchRange(ctx context.Context, requesterID, targetUserID int64, start, end *time.Time) (*timetable.RangeResult, error)
}

// TimetableHandler serves timetable ranges for the authenticated user.
type TimetableHandler struct {
	ranges RangeService
	loc    *time.Location
}

// NewTimetableHandler reads date bounds in loc, or the local zone when loc
// is nil.
func NewTimetableHandler(ranges RangeService, loc *time.Location) *TimetableHandler {
	if loc == nil {
		loc = time.Local
	}
	return &TimetableHandler{ranges: ranges, loc: loc}
}

// GetRange serves GET /api/timetable?start=&end=&user=. Missing bounds are
// passed through so the engine can apply its single-day fallback.
func (h *TimetableHandler) GetRange(w http.ResponseWriter, r *http.Request) {
	requester, ok := auth.UserFromContext(r.Context())
	if !ok {
		httperrors.Write(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
		return
	}

	query := r.URL.Query()
	target := requester.ID
	if raw := strings.TrimSpace(query.Get("user")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httperrors.BadRequestError(w, r, fmt.Errorf("user %q: %w", raw, errInvalidUser), "user must be a positive integer")
			return
		}
		target = id
	}

	start, err := h.bound(query.Get("start"))
	if err != nil {
		httperrors.BadRequestError(w, r, err, "start must be a date or timestamp")
		return
	}
	end, err := h.bound(query.Get("end"))
	if err != nil {
		httperrors.BadRequestError(w, r, err, "end must be a date or timestamp")
		return
	}
	if start != nil && end != nil && start.After(*end) {
		httperrors.BadRequestError(w, r, errInvertedRange, "start must not be after end")
		return
	}

	result, err := h.ranges.GetOrFetchRange(r.Context(), requester.ID, target, start, end)
	if err != nil {
		httperrors.Timetable(w, r, err)
		return
	}
	httperrors.WriteJSON(w, http.StatusOK, result)
}

var (
	errInvalidUser   = errors.New("invalid user id")
	errInvertedRange = errors.New("start after end")
)

func (h *TimetableHandler) bound(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := timetable.ParseBound(raw, h.loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
