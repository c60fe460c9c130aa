package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/function61/amon/pkg/amdomain"
	"github.com/function61/amon/pkg/ammetrics"
	"github.com/function61/amon/pkg/amontypes"
	"github.com/function61/amon/pkg/amstate"
	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxEventsBody = 4 * 1024 * 1024

type restApi struct {
	app  *app
	logl *logex.Leveled
}

func newRestApi(a *app) http.Handler {
	api := &restApi{
		app:  a,
		logl: logex.Levels(prefixed("restapi", a.logger)),
	}

	router := gin.New()
	router.Use(gin.Recovery(), metricsMiddleware())

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ping": "pong"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/maintenances", api.listAllMaintenances)
	router.GET("/alarms", api.listAllAlarms)
	router.POST("/events", api.ingestEvents)

	pub := router.Group("/pub/:user", requireUserUuid)

	pub.GET("/maintenances", api.listMaintenances)
	pub.POST("/maintenances", api.createMaintenance)
	pub.GET("/maintenances/:id", api.getMaintenance)
	pub.DELETE("/maintenances/:id", api.deleteMaintenance)

	pub.GET("/alarms", api.listAlarms)
	pub.GET("/alarms/:id", api.getAlarm)
	pub.POST("/alarms/:id", api.updateAlarm)
	pub.DELETE("/alarms/:id", api.deleteAlarm)

	return router
}

func (r *restApi) listAllMaintenances(c *gin.Context) {
	maintenances, err := r.app.store.ListAllMaintenances(c.Request.Context())
	if err != nil {
		r.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, maintenances)
}

func (r *restApi) listMaintenances(c *gin.Context) {
	maintenances, err := r.app.store.ListMaintenances(c.Request.Context(), c.Param("user"))
	if err != nil {
		r.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, maintenances)
}

func (r *restApi) createMaintenance(c *gin.Context) {
	req := amontypes.CreateMaintenanceRequest{}
	if err := jsonfile.Unmarshal(c.Request.Body, &req, true); err != nil {
		respondErrorCode(c, http.StatusBadRequest, amontypes.ErrCodeInvalidArgument, err.Error())
		return
	}

	m, err := r.app.store.CreateMaintenance(c.Request.Context(), req.Params(c.Param("user")))
	if err != nil {
		r.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

func (r *restApi) getMaintenance(c *gin.Context) {
	if m := r.loadMaintenance(c); m != nil {
		c.JSON(http.StatusOK, m)
	}
}

func (r *restApi) deleteMaintenance(c *gin.Context) {
	m := r.loadMaintenance(c)
	if m == nil {
		return
	}

	if err := r.app.store.DeleteMaintenance(c.Request.Context(), m); err != nil {
		r.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// responds with an error (and returns nil) if not found
func (r *restApi) loadMaintenance(c *gin.Context) *amstate.Maintenance {
	ctx := c.Request.Context()
	user := c.Param("user")

	id, ok := idParam(c)
	if !ok {
		respondErrorCode(c, http.StatusNotFound, amontypes.ErrCodeResourceNotFound, fmt.Sprintf("maintenance window %s not found", c.Param("id")))
		return nil
	}

	m, err := r.app.store.GetMaintenance(ctx, user, id)
	if err != nil {
		r.respondError(c, err)
		return nil
	}
	if m != nil {
		return m
	}

	currentId, err := r.app.store.CurrentMaintenanceId(ctx, user)
	if err != nil {
		r.respondError(c, err)
		return nil
	}

	if id <= currentId {
		respondErrorCode(c, http.StatusGone, amontypes.ErrCodeGone, fmt.Sprintf("maintenance window %d was previously deleted", id))
	} else {
		respondErrorCode(c, http.StatusNotFound, amontypes.ErrCodeResourceNotFound, fmt.Sprintf("maintenance window %d not found", id))
	}

	return nil
}

func (r *restApi) listAllAlarms(c *gin.Context) {
	alarms, err := r.app.store.ListAllAlarms(c.Request.Context())
	if err != nil {
		r.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, alarms)
}

// ?state=recent|open|closed|all&monitor=<key>
func (r *restApi) listAlarms(c *gin.Context) {
	alarms, err := r.app.store.FilterAlarms(c.Request.Context(), c.Param("user"), amstate.AlarmFilter{
		Monitor: c.Query("monitor"),
	})
	if err != nil {
		r.respondError(c, err)
		return
	}

	filtered, err := amstate.FilterAlarmsByState(alarms, c.Query("state"), r.app.store.Now())
	if err != nil {
		r.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, filtered)
}

func (r *restApi) getAlarm(c *gin.Context) {
	if alarm := r.loadAlarm(c); alarm != nil {
		c.JSON(http.StatusOK, alarm)
	}
}

// ?action=close|reopen|suppress|unsuppress
func (r *restApi) updateAlarm(c *gin.Context) {
	ctx := c.Request.Context()

	action := c.Query("action")
	switch action {
	case "":
		respondErrorCode(c, http.StatusBadRequest, amontypes.ErrCodeInvalidArgument, `"action" is required`)
		return
	case amontypes.AlarmActionClose, amontypes.AlarmActionReopen, amontypes.AlarmActionSuppress, amontypes.AlarmActionUnsuppress:
	default:
		respondErrorCode(c, http.StatusBadRequest, amontypes.ErrCodeInvalidArgument, fmt.Sprintf("%q is not a valid action", action))
		return
	}

	alarm := r.loadAlarm(c)
	if alarm == nil {
		return
	}

	var err error
	switch action {
	case amontypes.AlarmActionClose:
		err = r.app.store.CloseAlarm(ctx, alarm, amstate.EpochMs(r.app.store.Now()))
	case amontypes.AlarmActionReopen:
		err = r.app.store.ReopenAlarm(ctx, alarm)
	case amontypes.AlarmActionSuppress:
		err = r.app.store.SetAlarmSuppressed(ctx, alarm, true)
	case amontypes.AlarmActionUnsuppress:
		err = r.app.store.SetAlarmSuppressed(ctx, alarm, false)
	}
	if err != nil {
		r.respondError(c, err)
		return
	}

	r.logl.Info.Printf("alarm %s: %s", alarm.Key(), action)

	c.Status(http.StatusAccepted)
}

func (r *restApi) deleteAlarm(c *gin.Context) {
	alarm := r.loadAlarm(c)
	if alarm == nil {
		return
	}

	if err := r.app.store.DeleteAlarm(c.Request.Context(), alarm.User, alarm.Id); err != nil {
		r.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (r *restApi) loadAlarm(c *gin.Context) *amstate.Alarm {
	ctx := c.Request.Context()
	user := c.Param("user")

	id, ok := idParam(c)
	if !ok {
		respondErrorCode(c, http.StatusNotFound, amontypes.ErrCodeResourceNotFound, fmt.Sprintf("alarm %s not found", c.Param("id")))
		return nil
	}

	alarm, err := r.app.store.GetAlarm(ctx, user, id)
	if err != nil {
		r.respondError(c, err)
		return nil
	}
	if alarm != nil {
		return alarm
	}

	currentId, err := r.app.store.CurrentAlarmId(ctx, user)
	if err != nil {
		r.respondError(c, err)
		return nil
	}

	if id <= currentId {
		respondErrorCode(c, http.StatusGone, amontypes.ErrCodeGone, fmt.Sprintf("alarm %d has been expunged", id))
	} else {
		respondErrorCode(c, http.StatusNotFound, amontypes.ErrCodeResourceNotFound, fmt.Sprintf("alarm %d not found", id))
	}

	return nil
}

// accepts a single event or an array of them
func (r *restApi) ingestEvents(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventsBody))
	if err != nil {
		respondErrorCode(c, http.StatusBadRequest, amontypes.ErrCodeInvalidArgument, err.Error())
		return
	}

	events, err := parseEvents(body)
	if err != nil {
		respondErrorCode(c, http.StatusBadRequest, amontypes.ErrCodeInvalidArgument, err.Error())
		return
	}

	if err := r.app.engine.ProcessEvents(c.Request.Context(), events); err != nil {
		r.respondError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

func parseEvents(body []byte) ([]amdomain.Event, error) {
	trimmed := bytes.TrimSpace(body)

	// relays send fields we don't model (agent, relay, ...)
	const disallowUnknownFields = false

	if bytes.HasPrefix(trimmed, []byte("[")) {
		events := []amdomain.Event{}
		if err := jsonfile.Unmarshal(bytes.NewReader(trimmed), &events, disallowUnknownFields); err != nil {
			return nil, err
		}
		return events, nil
	}

	event := amdomain.Event{}
	if err := jsonfile.Unmarshal(bytes.NewReader(trimmed), &event, disallowUnknownFields); err != nil {
		return nil, err
	}

	return []amdomain.Event{event}, nil
}

func (r *restApi) respondError(c *gin.Context, err error) {
	if amstate.IsValidationError(err) {
		respondErrorCode(c, http.StatusBadRequest, amontypes.ErrCodeInvalidArgument, err.Error())
		return
	}

	r.logl.Error.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)

	respondErrorCode(c, http.StatusInternalServerError, amontypes.ErrCodeInternal, err.Error())
}

func respondErrorCode(c *gin.Context, status int, code string, message string) {
	c.AbortWithStatusJSON(status, amontypes.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func requireUserUuid(c *gin.Context) {
	if !amdomain.IsUuid(c.Param("user")) {
		respondErrorCode(c, http.StatusBadRequest, amontypes.ErrCodeInvalidArgument, fmt.Sprintf("invalid user UUID: %q", c.Param("user")))
	}
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ammetrics.HttpRequestsTotal.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status())).Inc()
		ammetrics.HttpRequestDuration.WithLabelValues(
			c.Request.Method,
			route).Observe(time.Since(started).Seconds())
	}
}
