/*
Package resilience provides the circuit breaker guarding outbound fetches.

A Breaker starts Closed and counts outcomes. When ReadyToTrip approves, it
opens and fails fast with ErrCircuitOpen until Timeout elapses, then lets
MaxRequests probes through in HalfOpen before closing again.

	Closed --[trip]--> Open --[timeout]--> HalfOpen --[probes ok]--> Closed
	                    ^                      |
	                    +-------[failure]------+

	b := resilience.New("dependency-fetch", resilience.Settings{Timeout: 30 * time.Second})
	body, err := resilience.Call(b, func() ([]byte, error) { return download(ctx) })
*/
package resilience
