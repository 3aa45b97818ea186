/*
Package script models one userscript on disk.

A Script couples parsed Metadata with a storage directory holding the
script's own source file and every @require/@resource file. Its lifecycle:

	FromSource / Download   parse, create a unique temp directory, write source
	FetchDependencies       download requires then resources, one at a time
	Install(root)           move the directory under the permanent root
	SetEnabled              toggle, firing the change hook
	Uninstall               remove the directory

Dependencies are fetched through a DependencyFetcher. The default Fetcher
enforces the origin policy: a file: dependency is only reachable from a
script that itself came from file:, and only http, https, ftp and file
schemes are accepted at all.
*/
package script
