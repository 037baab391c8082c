// AMAS - Adaptive Multi-Armed Strategy Learning Decision Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/amas

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type mockHTTPServer struct {
	started  atomic.Bool
	shutdown atomic.Bool
	serveErr error
	release  chan struct{}
}

func newMockHTTPServer(serveErr error) *mockHTTPServer {
	return &mockHTTPServer{serveErr: serveErr, release: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	m.started.Store(true)
	if m.serveErr != nil {
		return m.serveErr
	}
	<-m.release
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(_ context.Context) error {
	m.shutdown.Store(true)
	close(m.release)
	return nil
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	mock := newMockHTTPServer(nil)
	svc := NewHTTPServerService(mock, time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if !mock.started.Load() {
		t.Error("server was not started")
	}
	if !mock.shutdown.Load() {
		t.Error("server was not shut down")
	}
}

func TestHTTPServerServiceStartFailure(t *testing.T) {
	mock := newMockHTTPServer(errors.New("listen tcp: address already in use"))
	svc := NewHTTPServerService(mock, time.Second)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("Serve() error = nil, want start failure")
	}
}

func TestHTTPServerServiceErrServerClosedIsClean(t *testing.T) {
	mock := newMockHTTPServer(http.ErrServerClosed)
	svc := NewHTTPServerService(mock, time.Second)

	if err := svc.Serve(context.Background()); err != nil {
		t.Errorf("Serve() error = %v, want nil for ErrServerClosed", err)
	}
}

func TestHTTPServerServiceDefaults(t *testing.T) {
	svc := NewHTTPServerService(newMockHTTPServer(nil), 0)
	if svc.shutdownTimeout != 10*time.Second {
		t.Errorf("shutdownTimeout = %v, want 10s default", svc.shutdownTimeout)
	}
	if svc.String() != "http-server" {
		t.Errorf("String() = %q, want %q", svc.String(), "http-server")
	}
}
