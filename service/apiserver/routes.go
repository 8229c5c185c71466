package apiserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo"
	"github.com/labstack/echo/middleware"
	"github.com/pkg/errors"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/core/forwarder"
	"github.com/meverselabs/relayer/core/types"
	"github.com/meverselabs/relayer/service/relay"
)

type errorBody struct {
	Error string `json:"error"`
}

type pendingBody struct {
	Hash   string       `json:"hash"`
	Status types.Status `json:"status"`
}

type healthBody struct {
	Status  string `json:"status"`
	ChainID uint64 `json:"chainId"`
}

func (s *APIServer) routes() {
	s.e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))
	s.e.GET("/health", s.handleHealth)
	s.e.POST("/relay", s.handleRelay)
	s.e.GET("/status/:txHash", s.handleStatus)
	s.e.GET("/info", s.handleInfo)
	s.e.GET("/ws/status/:txHash", s.handleWatch)
	s.e.POST("/api/endpoints/http", s.handleHTTPJRPC)
	s.e.GET("/api/endpoints/websocket", s.handleWebsocketJRPC)
	if s.cfg.Metrics != nil {
		s.e.GET("/metrics", echo.WrapHandler(s.cfg.Metrics))
	}
}

func (s *APIServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, &healthBody{Status: "ok", ChainID: s.svc.ChainID()})
}

func (s *APIServer) handleRelay(c echo.Context) error {
	defer c.Request().Body.Close()

	var w forwarder.WireSubmission
	if err := json.NewDecoder(c.Request().Body).Decode(&w); err != nil {
		out := relay.FailedOutcome(rcommon.NewValidationError(ErrInvalidBody.Error()))
		return c.JSON(out.HTTPStatus(), out)
	}
	out := s.svc.Relay(c.Request().Context(), &w)
	return c.JSON(out.HTTPStatus(), out)
}

func (s *APIServer) handleStatus(c echo.Context) error {
	param := c.Param("txHash")
	hash, err := ParseHash(param)
	if err != nil {
		return c.JSON(http.StatusBadRequest, &errorBody{Error: err.Error()})
	}
	rec, err := s.svc.Status(c.Request().Context(), hash)
	if err != nil {
		if errors.Is(err, rcommon.ErrNotFound) {
			return c.JSON(http.StatusNotFound, &pendingBody{Hash: param, Status: types.StatusPending})
		}
		return c.JSON(http.StatusInternalServerError, &errorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *APIServer) handleInfo(c echo.Context) error {
	info, err := s.svc.Info(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, &errorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, info)
}

// handleWatch sends the current record of the transaction and then its terminal record
func (s *APIServer) handleWatch(c echo.Context) error {
	param := c.Param("txHash")
	hash, err := ParseHash(param)
	if err != nil {
		return c.JSON(http.StatusBadRequest, &errorBody{Error: err.Error()})
	}
	conn, err := upgrader.Upgrade(c.Response().Writer, c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := c.Request().Context()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(v interface{}) error {
		if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
			return err
		}
		return conn.WriteJSON(v)
	}
	finish := func() error {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}

	ch, stop := s.svc.Watch(hash)
	defer stop()

	rec, err := s.svc.Status(ctx, hash)
	switch {
	case err == nil:
		if err := write(rec); err != nil {
			return nil
		}
		if rec.Status.IsTerminal() {
			return finish()
		}
	case errors.Is(err, rcommon.ErrNotFound):
		if err := write(&pendingBody{Hash: param, Status: types.StatusPending}); err != nil {
			return nil
		}
	default:
		write(&errorBody{Error: err.Error()})
		return finish()
	}

	ticker := time.NewTicker(s.cfg.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case rec, ok := <-ch:
			if ok && rec != nil {
				write(rec)
				return finish()
			}
			ch = nil
		case <-ticker.C:
			rec, err := s.svc.Status(ctx, hash)
			if err == nil && rec.Status.IsTerminal() {
				write(rec)
				return finish()
			}
		case <-closed:
			return nil
		case <-s.done:
			return finish()
		}
	}
}
