package apiserver

import (
	"context"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo"
	"github.com/rs/zerolog"

	"github.com/meverselabs/relayer/common/rlog"
	"github.com/meverselabs/relayer/core/forwarder"
	"github.com/meverselabs/relayer/core/types"
	"github.com/meverselabs/relayer/service/relay"
)

// Relayer is the relay service served by the APIServer
type Relayer interface {
	Relay(ctx context.Context, w *forwarder.WireSubmission) *relay.Outcome
	Status(ctx context.Context, hash common.Hash) (*types.Record, error)
	Info(ctx context.Context) (*relay.Info, error)
	Watch(hash common.Hash) (<-chan *types.Record, func())
	ChainID() uint64
	FetchExpectedNonce(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Config tunes the APIServer
type Config struct {
	Workers       int
	WatchInterval time.Duration
	Metrics       http.Handler
}

// APIServer provides the rest api, the json rpc and the websocket status feed of the relayer
type APIServer struct {
	sync.Mutex
	e         *echo.Echo
	svc       Relayer
	cfg       Config
	subMap    map[string]*JRPCSub
	reqCh     chan *ReqData
	done      chan struct{}
	setupOnce sync.Once
	closeOnce sync.Once
	log       zerolog.Logger
}

// NewAPIServer returns a APIServer
func NewAPIServer(svc Relayer, cfg Config) *APIServer {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 2 * time.Second
	}
	e := echo.New()
	e.HideBanner = true
	s := &APIServer{
		e:      e,
		svc:    svc,
		cfg:    cfg,
		subMap: map[string]*JRPCSub{},
		reqCh:  make(chan *ReqData),
		done:   make(chan struct{}),
		log:    rlog.With("apiserver"),
	}
	return s
}

// Name returns the name of the service
func (s *APIServer) Name() string {
	return "relayer.apiserver"
}

// Handler returns the http handler with every route registered
func (s *APIServer) Handler() http.Handler {
	s.setup()
	return s.e
}

// Run starts web service of the apiserver
func (s *APIServer) Run(BindAddress string) error {
	s.setup()
	s.log.Info().Str("bind", BindAddress).Msg("listen")
	if err := s.e.Start(BindAddress); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close stops the workers and shuts the http server down
func (s *APIServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.e.Shutdown(ctx)
	})
	return err
}

func (s *APIServer) setup() {
	s.setupOnce.Do(func() {
		s.routes()
		s.registerMethods()
		for i := 0; i < s.cfg.Workers; i++ {
			go s.worker()
		}
	})
}
