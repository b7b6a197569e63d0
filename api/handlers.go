package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"gridsight/core"
	"gridsight/ingest"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// errorEnvelope is the JSON error payload: a stable machine-readable kind
// plus a human-readable message.
type errorEnvelope struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// anomaliesQuery carries the /anomalies query parameters.
type anomaliesQuery struct {
	StartDate     string `validate:"omitempty"`
	EndDate       string `validate:"omitempty"`
	FeatureFilter string `validate:"omitempty,oneof=global_active_power global_reactive_power voltage global_intensity sub_metering_1 sub_metering_2 sub_metering_3"`
}

// dateLayouts are the accepted formats for start_date and end_date.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q (want YYYY-MM-DD or RFC3339)", s)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Errorw("Failed to encode response", "error", err)
	}
}

// writeError maps an engine error to its HTTP status and kind envelope.
func (a *API) writeError(w http.ResponseWriter, err error) {
	kind := core.ErrorKind(err)

	status := http.StatusInternalServerError
	switch kind {
	case core.KindInvalidRange, core.KindUnknownFeature, core.KindParseError:
		status = http.StatusBadRequest
	case core.KindModelNotTrained, core.KindModelNotFound, core.KindIncompatibleVersion:
		status = http.StatusConflict
	case core.KindInsufficientData, core.KindEmptyTrainingSet:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		a.logger.Errorw("Request failed", "kind", kind, "error", err)
	} else {
		a.logger.Infow("Request rejected", "kind", kind, "error", err)
	}

	var env errorEnvelope
	env.Error.Kind = kind
	env.Error.Message = err.Error()
	a.writeJSON(w, status, env)
}

// writeBadRequest reports a malformed request that never reached the engine.
func (a *API) writeBadRequest(w http.ResponseWriter, msg string) {
	var env errorEnvelope
	env.Error.Kind = core.KindInvalidRange
	env.Error.Message = msg
	a.writeJSON(w, http.StatusBadRequest, env)
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the Gridsight anomaly detection API",
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":        "ok",
		"model_trained": a.svc.Current() != nil,
	}
	a.writeJSON(w, http.StatusOK, status)
}

// uploadedFile extracts the optional multipart "file" field. A request
// without one falls back to the default dataset.
func (a *API) uploadedFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, ingest.Format, bool, error) {
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.API.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, "", false, nil
		}
		return nil, "", false, fmt.Errorf("failed to parse upload: %w", err)
	}
	f, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to read upload: %w", err)
	}
	return f, ingest.FormatForFilename(header.Filename), true, nil
}

func (a *API) handleTrain(w http.ResponseWriter, r *http.Request) {
	f, format, hasFile, err := a.uploadedFile(w, r)
	if err != nil {
		a.writeBadRequest(w, err.Error())
		return
	}

	var summary *core.TrainingSummary
	if hasFile {
		defer f.Close()
		summary, err = a.svc.Train(r.Context(), f, format)
	} else {
		summary, err = a.svc.TrainDefaultDataset(r.Context())
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, summary)
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	f, format, hasFile, err := a.uploadedFile(w, r)
	if err != nil {
		a.writeBadRequest(w, err.Error())
		return
	}

	var result *core.PredictionResult
	if hasFile {
		defer f.Close()
		result, err = a.svc.Predict(r.Context(), f, format)
	} else {
		result, err = a.svc.PredictDefaultDataset(r.Context())
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	q := anomaliesQuery{
		StartDate:     r.URL.Query().Get("start_date"),
		EndDate:       r.URL.Query().Get("end_date"),
		FeatureFilter: r.URL.Query().Get("feature_filter"),
	}
	if err := validate.Struct(&q); err != nil {
		a.writeError(w, fmt.Errorf("%w: %s", core.ErrUnknownFeature, q.FeatureFilter))
		return
	}

	var start, end time.Time
	var err error
	if q.StartDate != "" {
		if start, err = parseDate(q.StartDate); err != nil {
			a.writeBadRequest(w, "invalid start_date: "+err.Error())
			return
		}
	}
	if q.EndDate != "" {
		if end, err = parseDate(q.EndDate); err != nil {
			a.writeBadRequest(w, "invalid end_date: "+err.Error())
			return
		}
		// A bare end date means "through the end of that day".
		if len(q.EndDate) == len("2006-01-02") {
			end = end.Add(24*time.Hour - time.Second)
		}
	}

	result, err := a.svc.Query(r.Context(), start, end, q.FeatureFilter)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) handleAnalyzeDefault(w http.ResponseWriter, r *http.Request) {
	sampleSize := 0
	if raw := r.URL.Query().Get("sample_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.writeBadRequest(w, "sample_size must be a non-negative integer")
			return
		}
		sampleSize = n
	}

	result, err := a.svc.AnalyzeDefault(r.Context(), sampleSize)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}
