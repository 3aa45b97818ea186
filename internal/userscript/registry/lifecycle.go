package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/prefs"
	"github.com/GriffinCanCode/scriptmonkey/internal/userscript/script"
	"go.uber.org/zap"
)

// Install adds s, replacing any installed script with the same identity.
// Installing an already tracked script only moves it to the end. The
// replaced script is removed only after s is in place, so a failed update
// leaves the registry unchanged.
func (c *Config) Install(s *script.Script) error {
	c.mu.Lock()

	if err := s.Install(c.root); err != nil {
		c.mu.Unlock()
		return err
	}

	var replaced *script.Script
	if i := c.findIdentity(s); i >= 0 {
		replaced = c.scripts[i]
		c.scripts = append(c.scripts[:i], c.scripts[i+1:]...)
	}
	if replaced != nil && replaced != s {
		replaced.SetChangeHook(nil)
		if err := replaced.Uninstall(); err != nil {
			c.logger.Warn("failed to remove replaced script", zap.String("script", replaced.ID()), zap.Error(err))
		}
	}

	c.scripts = append(c.scripts, s)
	index := len(c.scripts) - 1
	err := c.save()
	c.mu.Unlock()

	s.SetChangeHook(c.scriptChanged)
	if err != nil {
		return err
	}

	c.logger.Info("script installed",
		zap.String("script", s.ID()), zap.String("dir", s.Dir()), zap.Bool("update", replaced != nil && replaced != s))
	if replaced != nil && replaced != s {
		c.notify(replaced, EventUninstall, nil)
	}
	c.notify(s, EventInstall, index)
	return nil
}

// nestedBranches returns the branch prefixes of other installed scripts
// that fall inside the branch of s. Requires c.mu.
func (c *Config) nestedBranches(s *script.Script) []string {
	own := prefs.ScriptBranch(s.Namespace(), s.Name())
	var nested []string
	for _, x := range c.scripts {
		p := prefs.ScriptBranch(x.Namespace(), x.Name())
		if x != s && p != own && strings.HasPrefix(p, own) {
			nested = append(nested, p)
		}
	}
	return nested
}

// findIdentity requires c.mu.
func (c *Config) findIdentity(s *script.Script) int {
	for i, x := range c.scripts {
		if x == s || x.Metadata().SameIdentity(s.Metadata()) {
			return i
		}
	}
	return -1
}

// Uninstall removes s, deletes its files and, when purge is set, its stored
// values. Uninstalling an untracked script does nothing.
func (c *Config) Uninstall(s *script.Script, purge bool) error {
	c.mu.Lock()
	i := c.indexOf(s)
	if i < 0 {
		c.mu.Unlock()
		return nil
	}
	c.scripts = append(c.scripts[:i], c.scripts[i+1:]...)
	s.SetChangeHook(nil)

	removeErr := s.Uninstall()
	if purge && c.prefs != nil {
		if err := c.Branch(s).PurgeExcept(c.nestedBranches(s)...); err != nil {
			c.logger.Warn("failed to purge script values", zap.String("script", s.ID()), zap.Error(err))
		}
	}
	err := c.save()
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.logger.Info("script uninstalled", zap.String("script", s.ID()), zap.Bool("purge", purge))
	c.notify(s, EventUninstall, nil)
	return removeErr
}

// MoveBy shifts s by offset positions, clamped to the list bounds.
func (c *Config) MoveBy(s *script.Script, offset int) error {
	return c.move(s, func(from int) int { return from + offset })
}

// MoveTo moves s to the current index of target.
func (c *Config) MoveTo(s, target *script.Script) error {
	return c.move(s, func(from int) int {
		if i := c.indexOf(target); i >= 0 {
			return i
		}
		return from
	})
}

func (c *Config) move(s *script.Script, dest func(from int) int) error {
	c.mu.Lock()
	from := c.indexOf(s)
	if from < 0 {
		c.mu.Unlock()
		return nil
	}
	to := dest(from)
	if to < 0 {
		to = 0
	}
	if to > len(c.scripts)-1 {
		to = len(c.scripts) - 1
	}
	if to == from {
		c.mu.Unlock()
		return nil
	}

	c.scripts = append(c.scripts[:from], c.scripts[from+1:]...)
	c.scripts = append(c.scripts[:to], append([]*script.Script{s}, c.scripts[to:]...)...)
	err := c.save()
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.notify(s, EventMove, to)
	return nil
}

// SetEnabled toggles s; the change hook persists and notifies.
func (c *Config) SetEnabled(s *script.Script, enabled bool) {
	s.SetEnabled(enabled)
}

// UpdateRules replaces the include and exclude masks of s.
func (c *Config) UpdateRules(s *script.Script, includes, excludes []string) error {
	return c.edit(s, func() error {
		s.Metadata().SetRules(includes, excludes)
		return nil
	})
}

// Reload re-reads the header of s after its source was edited on disk.
func (c *Config) Reload(s *script.Script) error {
	return c.edit(s, s.Reload)
}

func (c *Config) edit(s *script.Script, apply func() error) error {
	c.mu.Lock()
	if c.indexOf(s) < 0 {
		c.mu.Unlock()
		return fmt.Errorf("script %s is not installed", s.ID())
	}
	if err := apply(); err != nil {
		c.mu.Unlock()
		return err
	}
	err := c.save()
	c.mu.Unlock()

	if err != nil {
		return err
	}
	c.notify(s, EventEdit, nil)
	return nil
}

// scriptChanged is the change hook installed on every tracked script.
func (c *Config) scriptChanged(s *script.Script, event string) {
	c.mu.Lock()
	if c.indexOf(s) < 0 {
		c.mu.Unlock()
		return
	}
	err := c.save()
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("failed to save registry", zap.String("script", s.ID()), zap.Error(err))
		return
	}
	c.notify(s, Event(event), nil)
}

// Prune deletes directories under the root that no installed script uses
// and returns their names.
func (c *Config) Prune() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	used := make(map[string]bool, len(c.scripts))
	for _, s := range c.scripts {
		used[s.Basedir()] = true
	}
	c.mu.Unlock()

	var removed []string
	for _, e := range entries {
		if !e.IsDir() || used[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return removed, err
		}
		removed = append(removed, e.Name())
	}
	if len(removed) > 0 {
		c.logger.Info("pruned orphan script directories", zap.Strings("dirs", removed))
	}
	return removed, nil
}
