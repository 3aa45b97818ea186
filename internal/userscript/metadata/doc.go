// Package metadata parses and serializes the ==UserScript== header block.
//
// A header is the run of lines between "// ==UserScript==" and
// "// ==/UserScript==". Each line has the form "// @<header> [value]".
// Recognized headers are name, namespace, description, include, exclude,
// require, resource and unwrap; anything else is ignored.
package metadata
