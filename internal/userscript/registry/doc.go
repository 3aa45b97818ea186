/*
Package registry owns the ordered collection of installed userscripts.

Config persists the collection as one document (config.json or config.yaml
under the script root) and rewrites it after every mutation. Observers are
notified only after the document reflects the change.

	cfg, _ := registry.New(registry.Options{Root: root, Prefs: store})
	_ = cfg.Load()
	id := cfg.AddObserver(func(s *script.Script, ev registry.Event, payload any) { ... }, nil)
	_ = cfg.Install(s)            // replaces a script with the same namespace/name
	_ = cfg.MoveBy(s, -1)         // clamped to the list bounds
	for _, s := range cfg.RunnableAt("http://example.com/") { ... }

Install on an identity collision is an update: the previous script is
uninstalled (its stored values are kept) and the new one is appended.
*/
package registry
