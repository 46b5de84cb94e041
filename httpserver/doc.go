/*
Package httpserver runs a federation ledger node over HTTP.

The node wraps a Ledger (normally ledger.Local) with the api wire format:
signed transactions are verified and submitted, queries are evaluated for the
identity named in the caller header, and rejections are returned with their
error kind. See package api for the route list.

The server also exposes the usual operational endpoints:

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark the node as not ready
  - GET /undrain - Mark the node as ready
  - /debug/pprof - when EnablePprof is set

Prometheus metrics are served separately on MetricsAddr.

# Example Usage

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8545",
		MetricsAddr:              ":9090",
		Log:                      logger,
		DrainDuration:            45 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
	}

	srv, err := httpserver.New(cfg, httpserver.NewHandler(local, logger))
	if err != nil {
		return err
	}
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package httpserver
