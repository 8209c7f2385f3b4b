package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/rms-availability/internal/availability"
	"github.com/example/rms-availability/internal/cache"
	"github.com/example/rms-availability/internal/internaltypes"
	"github.com/example/rms-availability/internal/router"
)

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the answer was ready.
const statusClientClosedRequest = 499

type Submitter interface {
	Submit(ctx context.Context, req router.Request) <-chan router.Response
}

type CacheStats interface {
	Stats() cache.Stats
}

type Server struct {
	Router   Submitter
	Cache    CacheStats
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

func (s *Server) Routes() http.Handler {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok\n")
	})
	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	v1.POST("/requests", s.handleRequest)
	v1.GET("/items/:item/stock", s.handleStock)
	v1.GET("/items/:item/availability", s.handleAvailability)
	v1.GET("/jobs/:job", s.handleJob)
	v1.POST("/prewarm", s.handlePrewarm)
	v1.DELETE("/cache", s.handleClear)
	v1.GET("/cache/stats", s.handleStats)

	return r
}

func (s *Server) handleRequest(c *gin.Context) {
	var req router.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.dispatch(c, req)
}

func (s *Server) handleStock(c *gin.Context) {
	item, err := itemParam(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	s.dispatch(c, router.Request{Capability: router.FetchStock, ItemID: item})
}

func (s *Server) handleAvailability(c *gin.Context) {
	item, err := itemParam(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	req := router.Request{
		Capability: router.FetchAvailability,
		ItemID:     item,
		Start:      c.Query("start"),
		End:        c.Query("end"),
	}
	if req.ExcludedJobID, err = optionalID(c.Query("exclude_job")); err != nil {
		badRequest(c, errors.New("exclude_job must be an integer"))
		return
	}
	if loc := c.Query("override_location"); loc != "" {
		o := &availability.Override{}
		if o.LocationID, err = strconv.ParseInt(loc, 10, 64); err != nil {
			badRequest(c, errors.New("override_location must be an integer"))
			return
		}
		if o.Available, err = strconv.ParseFloat(c.Query("override_available"), 64); err != nil {
			badRequest(c, errors.New("override_available must be a number"))
			return
		}
		req.Override = o
	}
	s.dispatch(c, req)
}

func (s *Server) handleJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("job"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, errors.New("job must be a positive integer"))
		return
	}
	s.dispatch(c, router.Request{Capability: router.FetchJob, JobID: id})
}

type prewarmBody struct {
	Start      string `json:"start" binding:"required"`
	End        string `json:"end" binding:"required"`
	ExcludeJob int64  `json:"exclude_job"`
}

func (s *Server) handlePrewarm(c *gin.Context) {
	var body prewarmBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	s.dispatch(c, router.Request{
		Capability:    router.Prewarm,
		Start:         body.Start,
		End:           body.End,
		ExcludedJobID: body.ExcludeJob,
	})
}

func (s *Server) handleClear(c *gin.Context) {
	s.dispatch(c, router.Request{Capability: router.ClearCache})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Cache.Stats())
}

func (s *Server) dispatch(c *gin.Context, req router.Request) {
	if req.ID == "" {
		req.ID = c.GetString("request_id")
	}
	resp := <-s.Router.Submit(c.Request.Context(), req)
	if resp.Error != "" {
		_ = c.Error(errors.New(resp.Error))
	}
	c.JSON(statusFor(resp.Error), resp)
}

func itemParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("item"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("item must be a positive integer")
	}
	return id, nil
}

func optionalID(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, router.Response{
		ID:      c.GetString("request_id"),
		Error:   internaltypes.CodeBadRequest,
		Message: err.Error(),
	})
}

func statusFor(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case internaltypes.CodeBadRequest:
		return http.StatusBadRequest
	case internaltypes.CodeNotConfigured, internaltypes.CodeNoLocationsEnabled:
		return http.StatusPreconditionFailed
	case internaltypes.CodeRateLimited:
		return http.StatusTooManyRequests
	case internaltypes.CodeUpstreamError, internaltypes.CodeTransportError:
		return http.StatusBadGateway
	case internaltypes.CodeTimeout:
		return http.StatusGatewayTimeout
	case internaltypes.CodeCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func Start(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
