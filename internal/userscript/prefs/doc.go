/*
Package prefs stores script values in a flat, prefix-namespaced key space.

Each script owns the branch "scriptvals.<namespace>/<name>." and may keep
strings, booleans and 32-bit integers there. The Store fronts a pluggable
Backend (in-memory or SQLite) and publishes change events to subscribers.

	store := prefs.NewStore(prefs.NewMemoryBackend(), logger)
	branch := store.Branch(prefs.ScriptBranch("example.com", "Greeter"))
	_ = branch.Set("count", 3)

	sub := store.Watch("scriptvals.", func(key string) { ... })
	defer store.Unwatch(sub)
*/
package prefs
