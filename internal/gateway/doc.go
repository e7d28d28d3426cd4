// Package gateway orchestrates the wren-gateway server components.
//
// # Overview
//
// The gateway package is the composition root. It loads the configured
// accounts, opens the SQLite store, picks a session backend and builds the
// component graph:
//
//	ledger.Client
//	    ├── nonce.Coordinator
//	    ├── submit.Pipeline
//	    └── transfer.Builder ── airdrop.Orchestrator ── airdrop.Worker
//	identity.Provider
//	session.Store (memory or redis)
//	wallet.Service ── httpapi.Server
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx)
//
// Run serves HTTP and runs the airdrop worker until ctx is cancelled, then
// shuts the HTTP server down with a five second grace period and closes the
// store and session backend.
//
// # Health
//
// GET /health pings the store, the ledger node (when the client supports it)
// and Redis (when enabled).
package gateway
