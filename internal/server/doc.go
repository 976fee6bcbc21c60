// Package server provides HTTP server management for the chat backend.
//
// Architecture:
//   - RouteProvider: components implement this to contribute public routes
//   - AdminRouteProvider: components that also expose admin routes
//   - Manager: combines providers into the public and admin HTTP servers
//
// The public server carries the WebSocket upgrade route next to the plain
// HTTP routes. Upgraded connections manage their own deadlines, so the public
// server sets no write timeout.
//
// Usage:
//
//	mgr := server.NewManager(server.ConfigFrom(cfg), logger)
//	mgr.AddProvider(server.NewChatProvider(...))
//	if err := mgr.Start(ctx); err != nil { ... }
//	defer mgr.Shutdown(ctx)
package server
