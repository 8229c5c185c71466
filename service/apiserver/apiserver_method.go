package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ReqData is a json rpc request waiting for a worker
type ReqData struct {
	ctx   context.Context
	req   *JRPCRequest
	resCh chan *JRPCResponse
}

func (s *APIServer) worker() {
	for {
		select {
		case r := <-s.reqCh:
			r.resCh <- s.handleJRPC(r.ctx, r.req)
		case <-s.done:
			return
		}
	}
}

func (s *APIServer) dispatch(ctx context.Context, req *JRPCRequest) (*JRPCResponse, error) {
	rd := &ReqData{
		ctx:   ctx,
		req:   req,
		resCh: make(chan *JRPCResponse, 1),
	}
	select {
	case s.reqCh <- rd:
	case <-s.done:
		return nil, ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return <-rd.resCh, nil
}

func decodeJRPC(r io.Reader) (*JRPCRequest, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var req JRPCRequest
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *APIServer) handleHTTPJRPC(c echo.Context) error {
	defer c.Request().Body.Close()

	req, err := decodeJRPC(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, &JRPCResponse{Error: ErrInvalidBody.Error()})
	}
	res, err := s.dispatch(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse(req, err))
	}
	if res == nil {
		return c.NoContent(http.StatusOK)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *APIServer) handleWebsocketJRPC(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response().Writer, c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		req, err := decodeJRPC(bytes.NewReader(data))
		if err != nil {
			return nil
		}
		res, err := s.dispatch(c.Request().Context(), req)
		if err != nil {
			return nil
		}
		if res != nil {
			if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				return nil
			}
			if err := conn.WriteJSON(res); err != nil {
				return nil
			}
		}
	}
}

// JRPC provides the json rpc feature as a SubName.FunctionName methods
func (s *APIServer) JRPC(SubName string) (*JRPCSub, error) {
	s.Lock()
	defer s.Unlock()

	if _, has := s.subMap[SubName]; has {
		return nil, ErrExistSubName
	}
	js := NewJRPCSub()
	s.subMap[SubName] = js
	return js, nil
}

func errorResponse(req *JRPCRequest, err error) *JRPCResponse {
	return &JRPCResponse{JSONRPC: req.JSONRPC, ID: req.ID, Error: err.Error()}
}

// lookup finds the handler of a "sub.method" name
func (s *APIServer) lookup(method string) (Handler, bool) {
	ls := strings.SplitN(method, ".", 2)
	if len(ls) != 2 {
		return nil, false
	}
	s.Lock()
	sub, has := s.subMap[ls[0]]
	s.Unlock()
	if !has {
		return nil, false
	}
	sub.Lock()
	defer sub.Unlock()
	fn, has := sub.funcMap[ls[1]]
	return fn, has
}

// handleJRPC runs the method, notifications (no id) get no response
func (s *APIServer) handleJRPC(ctx context.Context, req *JRPCRequest) *JRPCResponse {
	fn, has := s.lookup(req.Method)
	if !has {
		if req.ID == nil {
			return nil
		}
		return errorResponse(req, ErrInvalidMethod)
	}
	ret, err := fn(ctx, req.ID, NewArgument(req.Params))
	if req.ID == nil {
		return nil
	}
	if err != nil {
		return errorResponse(req, err)
	}
	return &JRPCResponse{JSONRPC: req.JSONRPC, ID: req.ID, Result: ret}
}
