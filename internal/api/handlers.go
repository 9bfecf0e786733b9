package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/ownerexit/ownerexit-cli/internal/apperr"
	"github.com/ownerexit/ownerexit-cli/internal/appraisal"
	"github.com/ownerexit/ownerexit-cli/internal/auth"
	"github.com/ownerexit/ownerexit-cli/internal/metrics"
	"github.com/ownerexit/ownerexit-cli/internal/model"
	"github.com/ownerexit/ownerexit-cli/internal/normalise"
	"github.com/ownerexit/ownerexit-cli/internal/refdata"
	"github.com/ownerexit/ownerexit-cli/internal/store"
)

type priceGuideRequest struct {
	appraisal.BasicInput
	model.Contact
}

type priceGuideResponse struct {
	*appraisal.Result
	LeadID string `json:"leadId,omitempty"`
}

type detailedRequest struct {
	appraisal.DetailedInput
	BusinessID string `json:"businessId,omitempty"`
}

type detailedResponse struct {
	*appraisal.DetailedResult
	SectionID string `json:"sectionId,omitempty"`
}

type normaliseRequest struct {
	normalise.Input
	BusinessID string `json:"businessId,omitempty"`
}

type normaliseResponse struct {
	*normalise.Result
	SectionID string `json:"sectionId,omitempty"`
}

type industriesResponse struct {
	Version    string                     `json:"version"`
	Industries []refdata.IndustryMultiple `json:"industries"`
	States     []string                   `json:"states"`
}

// decode reads, schema-checks and unmarshals the request body into dst.
func decode(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("", "request body too large")
		}
		return apperr.Validation("", "could not read request body")
	}
	if err := validateBody(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.Validation("", "invalid request body: "+err.Error())
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.PingTimeout)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		zap.L().Warn("api: store ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unavailable"})
		return
	}
	resp["store"] = "ok"
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndustries(w http.ResponseWriter, _ *http.Request) {
	t := s.deps.Calculator.Tables()
	writeJSON(w, http.StatusOK, industriesResponse{
		Version:    t.Version(),
		Industries: t.Industries(),
		States:     t.States(),
	})
}

func (s *Server) handlePriceGuide(w http.ResponseWriter, r *http.Request) {
	var req priceGuideRequest
	if err := decode(w, r, priceGuideSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Calculator.Estimate(req.BasicInput)
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.AppraisalsTotal.WithLabelValues("basic", string(res.Confidence)).Inc()

	resp := priceGuideResponse{Result: res}
	if req.Contact.HasEmail() && s.deps.Store != nil {
		resp.LeadID = s.captureLead(r.Context(), req, res)
	}
	writeJSON(w, http.StatusOK, resp)
}

// captureLead stores the request as a lead. Failures are logged and do not
// fail the price guide.
func (s *Server) captureLead(ctx context.Context, req priceGuideRequest, res *appraisal.Result) string {
	lead, err := NewLead(req.Contact, req.BasicInput, res)
	if err == nil {
		save := func(ctx context.Context) error { return s.deps.Store.CreateLead(ctx, lead) }
		if b := s.deps.StoreBreaker; b != nil {
			err = b.Do(ctx, save)
		} else {
			err = save(ctx)
		}
	}
	if err != nil {
		fields := []zap.Field{zap.String("industry", res.Industry), zap.Error(err)}
		if b := s.deps.StoreBreaker; b != nil {
			fields = append(fields,
				zap.String("breaker", b.State().String()),
				zap.Int("consecutive_failures", b.Failures()),
			)
		}
		zap.L().Error("api: capture lead", fields...)
		return ""
	}
	metrics.LeadsCapturedTotal.Inc()
	return lead.ID
}

// NewLead builds a lead record from a price-guide request and its result.
func NewLead(c model.Contact, in appraisal.BasicInput, res *appraisal.Result) (*model.Lead, error) {
	inputs, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "api: marshal lead inputs")
	}
	result, err := json.Marshal(res)
	if err != nil {
		return nil, eris.Wrap(err, "api: marshal lead result")
	}
	return &model.Lead{
		Email:        model.NormaliseEmail(c.Email),
		Name:         c.Name,
		BusinessName: c.BusinessName,
		Phone:        c.Phone,
		Industry:     res.Industry,
		State:        in.State,
		Inputs:       inputs,
		Result:       result,
		PriceMid:     res.PriceRange.Mid,
		Confidence:   string(res.Confidence),
	}, nil
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	var req detailedRequest
	if err := decode(w, r, detailedSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Calculator.EstimateDetailed(req.DetailedInput)
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.AppraisalsTotal.WithLabelValues("detailed", string(res.Confidence)).Inc()

	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		zap.L().Debug("api: detailed price guide",
			zap.String("subject", p.Subject),
			zap.String("industry", res.Industry),
			zap.Float64("mid", res.PriceRange.Mid),
		)
	}

	resp := detailedResponse{DetailedResult: res}
	if req.BusinessID != "" && s.deps.Store != nil {
		id, err := s.saveSection(r.Context(), req.BusinessID, model.SectionPriceGuide, res)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.SectionID = id
	}
	writeJSON(w, http.StatusOK, resp)
}

// saveSection upserts v as the kind section of businessID and returns the
// section ID.
func (s *Server) saveSection(ctx context.Context, businessID string, kind model.SectionKind, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", apperr.Unexpected(eris.Wrapf(err, "api: marshal %s section", kind))
	}
	sec, err := s.deps.Store.UpsertSection(ctx, businessID, kind, data)
	if err != nil {
		return "", apperr.Unexpected(err)
	}
	return sec.ID, nil
}

func (s *Server) handleGetSection(w http.ResponseWriter, r *http.Request) {
	kind, ok := model.ParseSectionKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, r, apperr.Validation("kind", "kind must be normalisation or price_guide"))
		return
	}
	if s.deps.Store == nil {
		writeError(w, r, apperr.NotFound("section storage is not configured"))
		return
	}
	sec, err := s.deps.Store.GetSection(r.Context(), chi.URLParam(r, "businessID"), kind)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, apperr.NotFound("section not found"))
		return
	}
	if err != nil {
		writeError(w, r, apperr.Unexpected(err))
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (s *Server) handleNormalise(w http.ResponseWriter, r *http.Request) {
	var req normaliseRequest
	if err := decode(w, r, normaliseSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Normaliser.Normalise(req.Input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	metrics.NormalisationsTotal.WithLabelValues(res.RevenueBracket).Inc()

	resp := normaliseResponse{Result: res}
	if req.BusinessID != "" && s.deps.Store != nil {
		id, err := s.saveSection(r.Context(), req.BusinessID, model.SectionNormalisation, res)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.SectionID = id
	}
	writeJSON(w, http.StatusOK, resp)
}
