package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func reconcileAvailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())

		var req ReconcileAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, err := scheduling.ParseDate(req.Date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		res, err := svc.Reconcile(r.Context(), id.UserID, date, req.Slots)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toReconcileResponse(res))
	}
}

func listAvailabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())

		slots, err := svc.UpcomingAvailability(r.Context(), id.UserID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]AvailabilitySlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, AvailabilitySlotResponse{
				Date:      s.Date.String(),
				StartTime: s.StartTime.String(),
				EndTime:   s.EndTime.String(),
				Booked:    s.Booked,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func resolveSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("doctor_id") == "" || q.Get("date") == "" {
			writeError(w, http.StatusBadRequest, "missing_parameters", "doctor_id and date are required")
			return
		}

		doctorID, err := uuid.Parse(q.Get("doctor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		date, err := scheduling.ParseDate(q.Get("date"))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		day, err := svc.Resolve(r.Context(), doctorID, date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]SlotResponse, 0, day.Len())
		for s := range day.All() {
			resp = append(resp, SlotResponse{Time: s.Time.String(), Available: s.Available})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), scheduling.BookingRequest{
			PatientID: id.UserID,
			DoctorID:  doctorID,
			Date:      req.Date,
			Time:      req.Time,
			Reason:    req.Reason,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

// listAppointmentsHandler scopes the list to the caller. Admins pick a doctor
// or patient through the query string.
func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		q := r.URL.Query()

		limit, err := intParam(q.Get("limit"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", err.Error())
			return
		}
		offset, err := intParam(q.Get("offset"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_offset", err.Error())
			return
		}

		var appts []scheduling.Appointment
		switch id.Role {
		case auth.RolePatient:
			appts, err = svc.ListAppointmentsByPatient(r.Context(), id.UserID, limit, offset)
		case auth.RoleDoctor:
			appts, err = svc.ListAppointmentsByDoctor(r.Context(), id.UserID, limit, offset)
		case auth.RoleAdmin:
			switch {
			case q.Get("doctor_id") != "":
				var doctorID uuid.UUID
				if doctorID, err = uuid.Parse(q.Get("doctor_id")); err != nil {
					writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
					return
				}
				appts, err = svc.ListAppointmentsByDoctor(r.Context(), doctorID, limit, offset)
			case q.Get("patient_id") != "":
				var patientID uuid.UUID
				if patientID, err = uuid.Parse(q.Get("patient_id")); err != nil {
					writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
					return
				}
				appts, err = svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
			default:
				writeError(w, http.StatusBadRequest, "missing_parameters", "doctor_id or patient_id is required")
				return
			}
		default:
			err = auth.ErrForbidden
		}
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())

		apptID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), apptID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if !canView(id, appt) {
			handleServiceError(w, r, auth.ErrForbidden)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateStatusHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())

		apptID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		to, err := scheduling.ParseStatus(req.Status)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		appt, err := svc.GetAppointment(r.Context(), apptID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if !canSetStatus(id, appt, to) {
			handleServiceError(w, r, auth.ErrForbidden)
			return
		}

		updated, err := svc.UpdateStatus(r.Context(), apptID, to)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(updated))
	}
}

func canView(id auth.Identity, a *scheduling.Appointment) bool {
	switch id.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleDoctor:
		return a.DoctorID == id.UserID
	case auth.RolePatient:
		return a.PatientID == id.UserID
	}
	return false
}

// Patients may only cancel their own appointments; doctors manage their own.
func canSetStatus(id auth.Identity, a *scheduling.Appointment, to scheduling.AppointmentStatus) bool {
	switch id.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleDoctor:
		return a.DoctorID == id.UserID
	case auth.RolePatient:
		return a.PatientID == id.UserID && to == scheduling.StatusCancelled
	}
	return false
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", raw)
	}
	return n, nil
}
