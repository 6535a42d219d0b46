// Command hsm-connector exposes a hardware module over gRPC so that
// signatory clients can reach it with a grpc:// connector URL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/glinharesb/signatory-go/internal/audit"
	"github.com/glinharesb/signatory-go/internal/config"
	"github.com/glinharesb/signatory-go/internal/hsm"
	_ "github.com/glinharesb/signatory-go/internal/hsm/pkcs11"
	"github.com/glinharesb/signatory-go/internal/hsm/remote"
	"github.com/glinharesb/signatory-go/internal/interceptor"
	"github.com/glinharesb/signatory-go/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgFile := flag.String("config", "", "config file")
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		return err
	}
	_, logCloser, err := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	var auditOut io.Writer = os.Stdout
	if cfg.Audit.File != "" {
		rotated := &lumberjack.Logger{Filename: cfg.Audit.File, MaxSize: 10, MaxBackups: 5, MaxAge: 30, Compress: true}
		defer rotated.Close()
		auditOut = rotated
	}
	auditLogger := audit.NewLogger(cfg.Audit.Buffer, cfg.Audit.Retain, auditOut)
	defer auditLogger.Close()

	connector, err := hsm.OpenConnector(cfg.HSM.URL)
	if err != nil {
		return err
	}
	if c, ok := connector.(io.Closer); ok {
		defer c.Close()
	}
	module := remote.NewServer(connector, auditLogger)
	defer module.Close()

	unary := []grpc.UnaryServerInterceptor{
		interceptor.RecoveryUnary(),
		interceptor.LoggingUnary(),
		interceptor.RateLimitUnary(cfg.Server.RateLimitRPS),
	}
	if cfg.Server.AuthToken != "" {
		unary = append(unary, interceptor.AuthUnary(cfg.Server.AuthToken, interceptor.HealthService))
	} else {
		log.Warn().Msg("server.auth_token is empty; connector accepts unauthenticated clients")
	}
	opts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(unary...), grpc.StatsHandler(module)}
	if cfg.Server.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return fmt.Errorf("load tls: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	srv := grpc.NewServer(opts...)
	remote.Register(srv, module)
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(remote.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("hsm_url", redact(cfg.HSM.URL)).Msg("hsm connector starting")
		serveErr <- srv.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	healthSrv.Shutdown()

	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("shutdown complete")
	case <-time.After(cfg.Server.ShutdownTimeout):
		log.Warn().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("graceful shutdown timed out, forcing stop")
		srv.Stop()
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics shutdown")
		}
	}
	return nil
}

// redact drops query secrets such as token= from a connector URL before it
// is logged.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid>"
	}
	q := u.Query()
	for _, k := range []string{"token", "password", "pin"} {
		if q.Has(k) {
			q.Set(k, "xxxxx")
		}
	}
	u.RawQuery = q.Encode()
	return u.Redacted()
}
