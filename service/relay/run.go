package relay

import (
	"context"
	"math/big"
	"time"

	"github.com/pkg/errors"

	rcommon "github.com/meverselabs/relayer/common"
	"github.com/meverselabs/relayer/core/types"
)

// Run drains the submission queue and follows pending transactions until the context is done
func (s *Service) Run(ctx context.Context) error {
	s.Lock()
	s.runCtx = ctx
	s.Unlock()

	pending, err := s.registry.Pending()
	if err != nil {
		return err
	}
	for _, rec := range pending {
		s.log.Info().Str("tx", rec.Hash.Hex()).Uint64("nonce", rec.Nonce).Msg("resume pending")
		s.confirm(rec)
	}

	if s.cfg.BalanceInterval > 0 {
		go s.monitorBalance(ctx)
	}

	err = s.pool.Run(ctx)
	s.confirms.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) context() context.Context {
	s.Lock()
	defer s.Unlock()

	return s.runCtx
}

// confirm follows the transaction until its receipt or the receipt timeout.
// A timeout leaves the record pending.
func (s *Service) confirm(rec *types.Record) {
	s.confirms.Add(1)
	go func() {
		defer s.confirms.Done()

		o, err := s.executor.AwaitReceipt(s.context(), rec.Hash)
		if err != nil {
			if errors.Is(err, rcommon.ErrTimeout) {
				s.log.Warn().Str("tx", rec.Hash.Hex()).Msg("no receipt before timeout, left pending")
			} else {
				s.log.Warn().Err(err).Str("tx", rec.Hash.Hex()).Msg("await receipt")
			}
			return
		}
		next, err := s.registry.RecordOutcome(rec.Hash, o)
		if err != nil {
			s.log.Error().Err(err).Str("tx", rec.Hash.Hex()).Msg("record outcome")
			return
		}
		s.metrics.ObserveOutcome(next.Status.String())
	}()
}

func (s *Service) monitorBalance(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.BalanceInterval)
	defer ticker.Stop()

	for {
		s.checkBalance(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) checkBalance(ctx context.Context) {
	balance, err := s.executor.Balance(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("balance check")
		return
	}
	s.metrics.SetBalance(balance)
	if s.LowBalance(balance) {
		s.log.Warn().Str("balance", balance.String()).Str("min", s.cfg.MinBalance.String()).Msg("relayer balance is low")
	}
}

// LowBalance reports whether the balance is under the configured minimum
func (s *Service) LowBalance(balance *big.Int) bool {
	return s.cfg.MinBalance != nil && balance.Cmp(s.cfg.MinBalance) < 0
}
