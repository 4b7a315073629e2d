// Package handlers contains reusable HTTP building blocks: health checks and middleware.
//
// # Health Checks
//
// The HealthChecker interface allows registering multiple named health checks
// that are executed in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("store", handlers.NewPingCheck(repo))
//	checker.AddCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddCheck("store_breaker", handlers.NewBreakerCheck(breaker))
//
//	status := checker.Check(ctx)
//
// # Middleware
//
//	auth := handlers.NewAPIKeyAuth("X-API-Key", []string{"secret-key"})
//	h := handlers.Chain(
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.RequestSizeLimitMiddleware(64<<10),
//	    auth.Middleware,
//	)(myHandler)
package handlers
