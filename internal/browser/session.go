package browser

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/GriffinCanCode/scriptmonkey/internal/shared/id"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/sandbox"
)

const defaultUserAgent = "Mozilla/5.0 (ScriptMonkey/1.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Session holds the state of one browsing tab. It implements sandbox.HostUI.
type Session struct {
	id        id.SessionID
	userAgent string

	mu      sync.RWMutex
	page    *sandbox.Page
	history []string
	referer string
	cookies map[string][]*http.Cookie // by host
	tabs    []string
	menu    []*sandbox.MenuCommand
}

func newSession(sid id.SessionID) *Session {
	return &Session{
		id:        sid,
		userAgent: defaultUserAgent,
		cookies:   make(map[string][]*http.Cookie),
	}
}

// ID returns the session id.
func (s *Session) ID() id.SessionID { return s.id }

// OpenInTab records a tab request from a script.
func (s *Session) OpenInTab(u string) error {
	s.mu.Lock()
	s.tabs = append(s.tabs, u)
	s.mu.Unlock()
	return nil
}

// RegisterMenuCommand adds cmd to the session menu.
func (s *Session) RegisterMenuCommand(cmd *sandbox.MenuCommand) {
	s.mu.Lock()
	s.menu = append(s.menu, cmd)
	s.mu.Unlock()
}

// Tabs returns the URLs scripts asked to open, oldest first.
func (s *Session) Tabs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.tabs...)
}

// MenuCommands returns the commands registered by the current page.
func (s *Session) MenuCommands() []*sandbox.MenuCommand {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*sandbox.MenuCommand{}, s.menu...)
}

// History returns the visited URLs, oldest first.
func (s *Session) History() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.history...)
}

// Page returns the live page, or nil.
func (s *Session) Page() *sandbox.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

// swap installs next as the live page and closes the previous one. Menu
// commands die with their page.
func (s *Session) swap(next *sandbox.Page, u string) {
	s.mu.Lock()
	prev := s.page
	s.page = next
	s.menu = nil
	s.history = append(s.history, u)
	s.referer = u
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

func (s *Session) close() {
	s.mu.Lock()
	prev := s.page
	s.page = nil
	s.menu = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// requestHeaders builds the headers of a page load.
func (s *Session) requestHeaders(target *url.URL) map[string]string {
	headers := map[string]string{
		"User-Agent":      s.userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.referer != "" {
		headers["Referer"] = s.referer
	}
	if cookies := s.cookies[target.Host]; len(cookies) > 0 {
		req := &http.Request{Header: http.Header{}}
		for _, c := range cookies {
			req.AddCookie(c)
		}
		headers["Cookie"] = req.Header.Get("Cookie")
	}
	return headers
}

// storeCookies merges the Set-Cookie headers of a response for host.
func (s *Session) storeCookies(host string, header http.Header) {
	fresh := (&http.Response{Header: header}).Cookies()
	if len(fresh) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	jar := s.cookies[host]
	for _, c := range fresh {
		replaced := false
		for i, old := range jar {
			if old.Name == c.Name {
				jar[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			jar = append(jar, c)
		}
	}
	s.cookies[host] = jar
}

// sessionManager tracks sessions by id.
type sessionManager struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Session
}

func newSessionManager() *sessionManager {
	return &sessionManager{sessions: make(map[id.SessionID]*Session)}
}

// getOrCreate returns the session sid, creating it. An empty sid creates a
// session with a fresh id.
func (m *sessionManager) getOrCreate(sid id.SessionID) *Session {
	if sid == "" {
		sid = id.NewSessionID()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	if !ok {
		s = newSession(sid)
		m.sessions[sid] = s
	}
	return s
}

func (m *sessionManager) get(sid id.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sid]
	return s, ok
}

func (m *sessionManager) remove(sid id.SessionID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	delete(m.sessions, sid)
	return s, ok
}

func (m *sessionManager) all() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
