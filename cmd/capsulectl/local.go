package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/photocapsule/capsuleauth/internal"
	"github.com/photocapsule/capsuleauth/internal/devbackend"
)

// devEnv is a development backend on miniredis listening on a loopback port.
type devEnv struct {
	URL     string
	Backend *devbackend.Backend

	mr  *miniredis.Miniredis
	rdb *redis.Client
	srv *http.Server
}

func startDevEnv(email, password string, logger *zap.Logger) (*devEnv, error) {
	mr, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	secret, err := internal.NewRefreshToken()
	if err != nil {
		_ = rdb.Close()
		mr.Close()
		return nil, err
	}
	backend, err := devbackend.New(devbackend.Config{
		Secret: []byte(secret),
		Redis:  rdb,
		Logger: logger,
	})
	if err != nil {
		_ = rdb.Close()
		mr.Close()
		return nil, err
	}
	if _, err := backend.CreateUser(email, password); err != nil {
		_ = rdb.Close()
		mr.Close()
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = rdb.Close()
		mr.Close()
		return nil, err
	}
	srv := &http.Server{
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("development backend stopped", zap.Error(err))
		}
	}()

	logger.Debug("development backend started", zap.String("addr", ln.Addr().String()))
	return &devEnv{
		URL:     "http://" + ln.Addr().String(),
		Backend: backend,
		mr:      mr,
		rdb:     rdb,
		srv:     srv,
	}, nil
}

func (d *devEnv) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.srv.Shutdown(ctx)
	_ = d.rdb.Close()
	d.mr.Close()
}
