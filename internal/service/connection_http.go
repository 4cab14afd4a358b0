package service

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"ConnGuard/internal/biz"

	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// Operation names reported to middleware through transport.Transporter.
const (
	OperationListConnections   = "/connguard.v1.Connection/ListConnections"
	OperationGetConnection     = "/connguard.v1.Connection/GetConnection"
	OperationOpenConnection    = "/connguard.v1.Connection/OpenConnection"
	OperationRestartConnection = "/connguard.v1.Connection/RestartConnection"
	OperationForceReconnect    = "/connguard.v1.Connection/ForceReconnect"
	OperationResetBreaker      = "/connguard.v1.Connection/ResetBreaker"
	OperationRemoveConnection  = "/connguard.v1.Connection/RemoveConnection"
	OperationHealth            = "/connguard.v1.Health/Check"
)

// RegisterConnectionHTTPServer mounts the admin routes on s.
func RegisterConnectionHTTPServer(s *khttp.Server, svc *ConnectionService) {
	r := s.Route("/")
	r.GET("/v1/connections", listConnectionsHandler(svc))
	r.GET("/v1/connections/{id}", idHandler(OperationGetConnection, http.StatusOK,
		func(ctx context.Context, id biz.ConnectionID) (interface{}, error) {
			return svc.GetConnection(ctx, id)
		}))
	r.POST("/v1/connections/{id}/open", openHandler(OperationOpenConnection, svc.OpenConnection))
	r.POST("/v1/connections/{id}/restart", openHandler(OperationRestartConnection, svc.RestartConnection))
	r.POST("/v1/connections/{id}/reconnect", idHandler(OperationForceReconnect, http.StatusAccepted,
		func(ctx context.Context, id biz.ConnectionID) (interface{}, error) {
			return svc.ForceReconnect(ctx, id)
		}))
	r.POST("/v1/connections/{id}/breaker/reset", idHandler(OperationResetBreaker, http.StatusOK,
		func(ctx context.Context, id biz.ConnectionID) (interface{}, error) {
			return svc.ResetBreaker(ctx, id)
		}))
	r.DELETE("/v1/connections/{id}", idHandler(OperationRemoveConnection, http.StatusOK,
		func(ctx context.Context, id biz.ConnectionID) (interface{}, error) {
			return svc.RemoveConnection(ctx, id)
		}))
	r.GET("/healthz", healthHandler(svc))
}

func parseID(ctx khttp.Context) (biz.ConnectionID, error) {
	raw := ctx.Vars().Get("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidConnectionID
	}
	return biz.ConnectionID(id), nil
}

func listConnectionsHandler(svc *ConnectionService) func(ctx khttp.Context) error {
	return func(ctx khttp.Context) error {
		khttp.SetOperation(ctx, OperationListConnections)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.ListConnections(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(http.StatusOK, out)
	}
}

func idHandler(operation string, code int, call func(context.Context, biz.ConnectionID) (interface{}, error)) func(ctx khttp.Context) error {
	return func(ctx khttp.Context) error {
		id, err := parseID(ctx)
		if err != nil {
			return err
		}
		khttp.SetOperation(ctx, operation)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, req.(biz.ConnectionID))
		})
		out, err := h(ctx, id)
		if err != nil {
			return err
		}
		return ctx.Result(code, out)
	}
}

func openHandler(operation string, call func(context.Context, *OpenConnectionRequest) (*OpenConnectionReply, error)) func(ctx khttp.Context) error {
	return func(ctx khttp.Context) error {
		id, err := parseID(ctx)
		if err != nil {
			return err
		}
		in := &OpenConnectionRequest{ID: id}
		if raw := ctx.Query().Get("wait"); raw != "" {
			wait, err := time.ParseDuration(raw)
			if err != nil || wait < 0 {
				return ErrInvalidWait
			}
			in.Wait = wait
		}
		khttp.SetOperation(ctx, operation)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, req.(*OpenConnectionRequest))
		})
		out, err := h(ctx, in)
		if err != nil {
			return err
		}
		reply := out.(*OpenConnectionReply)
		if reply.Pending {
			return ctx.Result(http.StatusAccepted, reply)
		}
		return ctx.Result(http.StatusOK, reply)
	}
}

func healthHandler(svc *ConnectionService) func(ctx khttp.Context) error {
	return func(ctx khttp.Context) error {
		khttp.SetOperation(ctx, OperationHealth)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.Health(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(http.StatusOK, out)
	}
}
