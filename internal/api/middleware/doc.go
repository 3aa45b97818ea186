// Package middleware holds the gin middleware of the host API: CORS, per
// client and global rate limits, request ids and request logging.
package middleware
