package sandbox

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// Token is the capability a Context presents while its own code runs. Only
// the sandbox creates tokens and none is ever reachable from JS.
type Token struct {
	owner string
}

func newToken(owner string) *Token { return &Token{owner: owner} }

const nativeFrame = "<native>"

// verify returns an *AccessViolation unless the active token is tok and
// every interpreted frame on the stack is trusted.
func verify(vm *goja.Runtime, api string, active, tok *Token, allowed map[string]bool) error {
	if active != tok {
		caller := "page"
		if active != nil {
			caller = active.owner
		}
		return &AccessViolation{API: api, Caller: caller}
	}

	for _, f := range vm.CaptureCallStack(0, nil) {
		name := f.SrcName()
		if trustedSource(name, allowed) {
			continue
		}
		pos := f.Position()
		return &AccessViolation{API: api, Caller: fmt.Sprintf("%s:%d:%d", name, pos.Line, pos.Column)}
	}
	return nil
}

func trustedSource(name string, allowed map[string]bool) bool {
	return name == nativeFrame || strings.HasPrefix(name, HostScheme) || allowed[name]
}
