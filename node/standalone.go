package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/gptmessenger/server"
)

const httpShutdownTimeout = 5 * time.Second

// Runner is a background service that runs until ctx is done, then signals stopDoneNotifyC.
type Runner interface {
	Run(ctx context.Context, stopDoneNotifyC chan<- struct{})
}

type Config struct {
	// TCP address of the line protocol.
	Addr string
	// HTTP address of Mux. Empty disables HTTP.
	HttpAddr string

	Hub *server.Hub
	Mux http.Handler

	// Optional.
	Notifier Runner
}

// Standalone is the only node of a deployment: it owns the listeners and background services.
type Standalone struct {
	conf       *Config
	lis        net.Listener
	httpLis    net.Listener
	httpServer *http.Server

	// set when the line server failed, before stopNotifyCh is signaled.
	err error
}

func NewStandalone(conf *Config) *Standalone {
	return &Standalone{
		conf:       conf,
		httpServer: &http.Server{Handler: conf.Mux},
	}
}

// Listen binds the configured addresses. It must be called once before Run.
func (s *Standalone) Listen() error {
	lis, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return fmt.Errorf("listen %s error: %w", s.conf.Addr, err)
	}
	if s.conf.HttpAddr != "" {
		httpLis, err := net.Listen("tcp", s.conf.HttpAddr)
		if err != nil {
			lis.Close()
			return fmt.Errorf("listen %s error: %w", s.conf.HttpAddr, err)
		}
		s.httpLis = httpLis
	}
	s.lis = lis
	return nil
}

// Addr returns the bound TCP address.
func (s *Standalone) Addr() net.Addr {
	return s.lis.Addr()
}

// HttpAddr returns the bound HTTP address, nil when HTTP is disabled.
func (s *Standalone) HttpAddr() net.Addr {
	if s.httpLis == nil {
		return nil
	}
	return s.httpLis.Addr()
}

// Run serves until ctx is done, then stops everything and signals stopNotifyCh.
func (s *Standalone) Run(ctx context.Context, stopNotifyCh chan<- struct{}) {
	glog.Infof("standalone node is starting")

	// a line server error stops the node too.
	ctx, cancel := context.WithCancel(ctx)

	if s.httpLis != nil {
		go func() {
			glog.Infof("http server is listening %v", s.httpLis.Addr())
			if err := s.httpServer.Serve(s.httpLis); errors.Is(err, http.ErrServerClosed) {
				glog.Infof("http server closed")
			} else if err != nil {
				glog.Errorf("error serve http mux server: %v", err)
			}
		}()
	}

	var notifierStopDoneC chan struct{}
	if s.conf.Notifier != nil {
		notifierStopDoneC = make(chan struct{}, 1)
		go s.conf.Notifier.Run(ctx, notifierStopDoneC)
	}

	defer func() {
		cancel()
		if s.httpLis != nil {
			ctx2, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			s.httpServer.Shutdown(ctx2)
			cancel()
			glog.Infof("standalone node: http server shutdown done")
		}

		// websocket sessions are hijacked: Shutdown does not close them.
		s.conf.Hub.Close()
		glog.Infof("standalone node: hub stopped")

		if notifierStopDoneC != nil {
			<-notifierStopDoneC
			glog.Infof("standalone node: notifier stopped")
		}

		glog.Infof("standalone node: stopped")
		stopNotifyCh <- struct{}{}
	}()

	glog.Infof("line server is listening %v", s.lis.Addr())
	if err := s.conf.Hub.Serve(ctx, s.lis); err != nil {
		glog.Errorf("line server error: %v", err)
		s.err = fmt.Errorf("line server: %w", err)
	}
}

// Err returns why Run stopped without being asked to. It is valid once Run signaled
// stopNotifyCh.
func (s *Standalone) Err() error {
	return s.err
}
