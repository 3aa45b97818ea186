/*
Package monitoring collects Prometheus metrics for the script host.

Every Metrics value owns its own registry, so several hosts (or tests) can
coexist in one process. All Record/Set methods accept a nil receiver and do
nothing, which lets components take an optional *Metrics.

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

# Series

  - scriptmonkey_http_requests_total, _http_request_duration_seconds
  - scriptmonkey_scripts_installed
  - scriptmonkey_script_lifecycle_total{event}
  - scriptmonkey_injections_total{outcome}
  - scriptmonkey_api_calls_total{api,outcome}
  - scriptmonkey_access_violations_total{api}
  - scriptmonkey_dependency_fetch_seconds{kind,outcome}
  - scriptmonkey_ws_connections
*/
package monitoring
