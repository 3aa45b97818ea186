// Package http implements the gin handlers of the host API.
//
// Routes:
//
//	GET    /health
//	GET    /scripts                    installed scripts in run order
//	POST   /scripts                    install from {url} or {source, origin}
//	GET    /scripts/:key
//	DELETE /scripts/:key?purge=true    uninstall, optionally dropping stored values
//	PUT    /scripts/:key/enabled       {enabled}
//	PUT    /scripts/:key/rules         {includes, excludes}
//	POST   /scripts/:key/reload        re-read the header after an on-disk edit
//	POST   /scripts/:key/move          {offset} or {to: key}
//	GET    /match?url=                 scripts that would run at url
//	POST   /browse                     {url, html?, session_id?}
//	GET    /sessions/:id
//	DELETE /sessions/:id
//	POST   /sessions/:id/menu/:index   invoke a registered menu command
//
// Metadata coming from scripts is stripped of markup before it is returned.
package http
