package manifest

import (
	"path"
	"regexp"
	"strings"
)

// defaultAntiClutter mirrors the original engine's well-known incidental
// file patterns, dropped before any other filter runs.
var defaultAntiClutter = []string{
	`_meta\.xml$`,
	`_meta\.sqlite$`,
	`_files\.xml$`,
	`_thumb\.jpg$`,
	`_itemimage\.jpg$`,
}

// metadataWhitelist is the fixed pattern retained by metadata-only mode.
var metadataWhitelist = regexp.MustCompile(`(?i)(_meta\.xml|_files\.xml|\.torrent)$`)

// invalidPathChars are stripped from remote file names before they become
// local destination paths; archive manifest names are not guaranteed
// filesystem-safe on every OS.
const invalidPathChars = `<>:"/\|?*`

// FilterConfig holds a job's filter configuration, applied in the fixed
// order the Resolver contract specifies.
type FilterConfig struct {
	AntiClutter        []string
	MetadataOnly       bool
	ExtensionWhitelist []string
	NameRegex          string
}

// compiled holds the parsed form of a FilterConfig.
type compiled struct {
	antiClutter []*regexp.Regexp
	extWhitelist map[string]struct{}
	nameRegex   *regexp.Regexp
}

func compile(cfg FilterConfig) (*compiled, error) {
	patterns := cfg.AntiClutter
	if len(patterns) == 0 {
		patterns = defaultAntiClutter
	}
	c := &compiled{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		c.antiClutter = append(c.antiClutter, re)
	}
	if len(cfg.ExtensionWhitelist) > 0 {
		c.extWhitelist = make(map[string]struct{}, len(cfg.ExtensionWhitelist))
		for _, ext := range cfg.ExtensionWhitelist {
			c.extWhitelist[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
		}
	}
	if cfg.NameRegex != "" {
		re, err := regexp.Compile(cfg.NameRegex)
		if err != nil {
			return nil, err
		}
		c.nameRegex = re
	}
	return c, nil
}

// Apply runs the fixed filter pipeline: anti-clutter, metadata-only,
// extension whitelist, name regex, then filename sanitization.
func Apply(cfg FilterConfig, files []RemoteFile) ([]RemoteFile, error) {
	c, err := compile(cfg)
	if err != nil {
		return nil, err
	}

	out := files[:0:0]
	for _, f := range files {
		if c.dropAntiClutter(f.Name) {
			continue
		}
		if cfg.MetadataOnly && !metadataWhitelist.MatchString(f.Name) {
			continue
		}
		if c.extWhitelist != nil && !c.matchesExtension(f.Name) {
			continue
		}
		if c.nameRegex != nil && !c.nameRegex.MatchString(f.Name) {
			continue
		}
		f.Name = sanitizeFilename(f.Name)
		out = append(out, f)
	}
	return out, nil
}

func (c *compiled) dropAntiClutter(name string) bool {
	for _, re := range c.antiClutter {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (c *compiled) matchesExtension(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	_, ok := c.extWhitelist[ext]
	return ok
}

// sanitizeFilename strips characters that are unsafe on at least one
// major filesystem from a remote file name.
func sanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if strings.ContainsRune(invalidPathChars, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
