// Package browser is the host side of script injection.
//
// A Provider owns browsing sessions. Each session has at most one live page:
// navigating loads the document (over the fetch client or from supplied
// HTML), builds a sandbox page around it, injects every enabled script whose
// rules match the URL in registry order, and settles the page's deferred
// work. The session is the page's HostUI, so tabs opened and menu commands
// registered by scripts are collected on it.
//
// The Provider also installs scripts from URLs, source text and local files
// and keeps the sandbox's binding cache in step with registry edits.
//
// Example Usage:
//
//	p := browser.New(browser.Deps{Registry: reg, Sandbox: sb, Client: client})
//	visit, err := p.Navigate(ctx, "", "https://example.com/")
//	for _, inj := range visit.Injections {
//		fmt.Println(inj.Script, len(inj.Errors))
//	}
package browser
