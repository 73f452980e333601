package daemon_interface

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ark-network/dlc/internal/config"
	"github.com/ark-network/dlc/internal/core/application"
	log "github.com/sirupsen/logrus"
)

type service struct {
	appConfig *config.Config
	appSvc    *application.Manager
	server    *http.Server
}

// NewService returns the daemon running the periodic check of the contracts
// and exposing the prometheus metrics.
func NewService(appConfig *config.Config) (*service, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("missing app config")
	}
	appSvc, err := appConfig.AppService()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", appConfig.Metrics().Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &service{
		appConfig: appConfig,
		appSvc:    appSvc,
		server: &http.Server{
			Addr:              appConfig.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *service) Start() error {
	scheduler := s.appConfig.SchedulerService()
	interval := s.appConfig.CheckInterval
	if err := scheduler.ScheduleTask(interval, true, s.check); err != nil {
		return fmt.Errorf("failed to schedule periodic check: %s", err)
	}
	scheduler.Start()
	log.Infof("checking contracts every %ds", interval)

	// nolint:all
	go s.server.ListenAndServe()
	log.Infof("serving metrics at %s", s.server.Addr)

	return nil
}

func (s *service) Stop() {
	s.appConfig.SchedulerService().Stop()
	log.Info("stopped scheduler")

	//nolint:all
	s.server.Shutdown(context.Background())
	log.Info("stopped metrics server")

	s.appConfig.RepoManager().Close()
	log.Info("closed db")
}

func (s *service) check() {
	timeout := time.Duration(s.appConfig.CheckInterval) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	err := s.appSvc.PeriodicCheck(ctx)
	s.appConfig.Metrics().RecordCheck(time.Since(start), err)
	if err != nil {
		log.WithError(err).Warn("periodic check completed with errors")
		return
	}
	log.Debug("periodic check completed")
}
