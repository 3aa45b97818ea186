// Package paths provides the on-disk layout of the script host and
// collision-free creation of script directories and files.
//
// Every create helper uses "create unique" semantics: when the requested name
// is taken, a numeric suffix is appended ("greeter", "greeter-1", ...; for
// files "jquery.js", "jquery-1.js", ...) instead of overwriting.
package paths
