package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/kilianp07/flexsim/core/aggregator"
	"github.com/kilianp07/flexsim/core/allocation"
	"github.com/kilianp07/flexsim/core/clock"
	"github.com/kilianp07/flexsim/core/device"
	"github.com/kilianp07/flexsim/core/ledger"
	"github.com/kilianp07/flexsim/core/model"
	"github.com/kilianp07/flexsim/core/reportlog"
)

// RequestBody asks for a baseline change in percent.
type RequestBody struct {
	Percent float64 `json:"percent" validate:"gt=-100,ne=0"`
}

// WindowResponse is the accepted request window.
type WindowResponse struct {
	Start          int64   `json:"start"`
	Stop           int64   `json:"stop"`
	TargetBaseline float64 `json:"target_baseline"`
}

// VariationBody adds (positive delta) or removes devices of a category.
type VariationBody struct {
	Category string `json:"category" validate:"required"`
	Delta    int    `json:"delta" validate:"ne=0"`
}

// StepBody runs Ticks ticks. Steps are ignored while the simulation is
// paused.
type StepBody struct {
	Ticks int `json:"ticks" default:"1" validate:"gte=1,lte=10000"`
}

// AgreementBody revises the agreement of a device.
type AgreementBody struct {
	Value            float64 `json:"value" validate:"gt=0"`
	Flexibility      float64 `json:"flexibility" validate:"gte=0"`
	ValuePrice       float64 `json:"value_price" validate:"gte=0"`
	FlexibilityPrice float64 `json:"flexibility_price" validate:"gte=0"`
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, aggregator.ErrNotRunning), errors.Is(err, aggregator.ErrRequestInFlight), errors.Is(err, device.ErrNotRunning),
		errors.Is(err, clock.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, aggregator.ErrInvalidWindow), errors.Is(err, model.ErrNonPositiveValue):
		return http.StatusBadRequest
	case errors.Is(err, allocation.ErrZeroBaseline):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrReceiptTimeout):
		return http.StatusGatewayTimeout
	case ledger.ErrorCode(err) != "":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, err error) error {
	return c.JSON(errorStatus(err), map[string]string{"error": err.Error()})
}

func invalid(c echo.Context, errs []ValidationError) error {
	return c.JSON(http.StatusBadRequest, map[string]any{"errors": errs})
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sim.Status())
}

func (s *Server) devices(c echo.Context) error {
	all := s.sim.Devices()
	cat := c.QueryParam("category")
	state := c.QueryParam("state")
	if cat == "" && state == "" {
		return c.JSON(http.StatusOK, all)
	}
	out := make([]device.Status, 0, len(all))
	for _, d := range all {
		if cat != "" && string(d.Category) != cat {
			continue
		}
		if state != "" && d.State != state {
			continue
		}
		out = append(out, d)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) device(c echo.Context) error {
	d, ok := s.sim.Device(model.Address(c.Param("address")))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown device")
	}
	return c.JSON(http.StatusOK, d.Status())
}

func (s *Server) revise(c echo.Context) error {
	d, ok := s.sim.Device(model.Address(c.Param("address")))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown device")
	}
	var body AgreementBody
	if errs := bind(c, &body); errs != nil {
		return invalid(c, errs)
	}
	a := d.Status().Agreement
	a.Value = body.Value
	a.Flexibility = body.Flexibility
	a.ValuePrice = body.ValuePrice
	a.FlexibilityPrice = body.FlexibilityPrice
	// the ledger submission outlives the request
	if err := d.Revise(context.WithoutCancel(c.Request().Context()), a); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, d.Status())
}

func (s *Server) request(c echo.Context) error {
	var body RequestBody
	if errs := bind(c, &body); errs != nil {
		return invalid(c, errs)
	}
	w, err := s.sim.RequestFlexibility(c.Request().Context(), body.Percent)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, WindowResponse{Start: w.Start, Stop: w.Stop, TargetBaseline: w.TargetBaseline})
}

func (s *Server) vary(c echo.Context) error {
	var body VariationBody
	if errs := bind(c, &body); errs != nil {
		return invalid(c, errs)
	}
	cat, err := device.ParseCategory(body.Category)
	if err != nil {
		return invalid(c, []ValidationError{{Code: "ERR_ONEOF", Field: "category", Message: err.Error()}})
	}
	if err := s.sim.Vary(c.Request().Context(), cat, body.Delta); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, s.sim.Status())
}

func (s *Server) pause(c echo.Context) error {
	s.sim.Pause()
	return c.JSON(http.StatusOK, s.sim.Status())
}

func (s *Server) resume(c echo.Context) error {
	if err := s.sim.Resume(c.Request().Context()); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, s.sim.Status())
}

func (s *Server) step(c echo.Context) error {
	var body StepBody
	if errs := bind(c, &body); errs != nil {
		return invalid(c, errs)
	}
	ts := s.sim.Step(body.Ticks)
	return c.JSON(http.StatusOK, map[string]int64{"timestamp": ts})
}

// parseQuery reads from, to, success, device and limit.
func parseQuery(c echo.Context) (reportlog.Query, []ValidationError) {
	var q reportlog.Query
	var errs []ValidationError
	parseInt := func(name string) int64 {
		v := c.QueryParam(name)
		if v == "" {
			return 0
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, ValidationError{Code: "ERR_NUMERIC", Field: name, Message: name + " must be an integer"})
		}
		return n
	}
	q.From = parseInt("from")
	q.To = parseInt("to")
	q.Limit = int(parseInt("limit"))
	if q.Limit < 0 {
		errs = append(errs, ValidationError{Code: "ERR_GTE", Field: "limit", Message: "limit must be at least 0"})
	}
	if v := c.QueryParam("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, ValidationError{Code: "ERR_BOOLEAN", Field: "success", Message: "success must be a boolean"})
		} else {
			q.Success = &b
		}
	}
	q.Device = model.Address(c.QueryParam("device"))
	return q, errs
}

func (s *Server) reports(c echo.Context) error {
	q, errs := parseQuery(c)
	if errs != nil {
		return invalid(c, errs)
	}
	entries, err := s.sim.Reports(c.Request().Context(), q)
	if err != nil {
		return fail(c, err)
	}
	if entries == nil {
		entries = []reportlog.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}
