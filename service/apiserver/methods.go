package apiserver

import (
	"context"

	"github.com/meverselabs/relayer/core/forwarder"
)

func (s *APIServer) registerMethods() {
	js, err := s.JRPC("relay")
	if err != nil {
		s.log.Error().Err(err).Msg("register relay methods")
		return
	}
	js.Set("send", func(ctx context.Context, ID interface{}, arg *Argument) (interface{}, error) {
		var w forwarder.WireSubmission
		if err := arg.Decode(0, &w); err != nil {
			return nil, err
		}
		return s.svc.Relay(ctx, &w), nil
	})
	js.Set("status", func(ctx context.Context, ID interface{}, arg *Argument) (interface{}, error) {
		hash, err := arg.Hash(0)
		if err != nil {
			return nil, err
		}
		return s.svc.Status(ctx, hash)
	})
	js.Set("info", func(ctx context.Context, ID interface{}, arg *Argument) (interface{}, error) {
		return s.svc.Info(ctx)
	})
	js.Set("nonce", func(ctx context.Context, ID interface{}, arg *Argument) (interface{}, error) {
		addr, err := arg.Address(0)
		if err != nil {
			return nil, err
		}
		n, err := s.svc.FetchExpectedNonce(ctx, addr)
		if err != nil {
			return nil, err
		}
		return n.String(), nil
	})
}
