package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/overlay_agent/internal/urlinfo"
)

// ReaderFrame locates the content frame of an e-book reader.
type ReaderFrame struct {
	Host       string `yaml:"host"`
	PathPrefix string `yaml:"path_prefix"`
}

// SiteRules are the per-site rules of the classifier and badge service.
type SiteRules struct {
	ReaderHosts    []string    `yaml:"reader_hosts"`
	ReaderFrame    ReaderFrame `yaml:"reader_frame"`
	BlockedHosts   []string    `yaml:"blocked_hosts"`
	BadgeBlocklist []string    `yaml:"badge_blocklist"`
}

// DefaultSiteRules are used when no sites file is configured.
func DefaultSiteRules() SiteRules {
	return SiteRules{
		ReaderHosts: []string{"bookshelf.vitalsource.com"},
		ReaderFrame: ReaderFrame{
			Host:       "jigsaw.vitalsource.com",
			PathPrefix: "/mosaic/wrapper.html",
		},
		BlockedHosts:   []string{"lms.hypothes.is", "*.lms.hypothes.is"},
		BadgeBlocklist: append([]string(nil), urlinfo.DefaultBadgeBlocklist...),
	}
}

// LoadSiteRules reads a YAML sites file. An empty path returns the
// defaults; sections missing from the file keep their default values.
func LoadSiteRules(path string) (SiteRules, error) {
	rules := DefaultSiteRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SiteRules{}, fmt.Errorf("sites config: %w", err)
	}
	var file SiteRules
	if err := yaml.Unmarshal(data, &file); err != nil {
		return SiteRules{}, fmt.Errorf("sites config: %w", err)
	}

	if file.ReaderHosts != nil {
		rules.ReaderHosts = file.ReaderHosts
	}
	if file.ReaderFrame.Host != "" {
		rules.ReaderFrame = file.ReaderFrame
	}
	if file.BlockedHosts != nil {
		rules.BlockedHosts = file.BlockedHosts
	}
	if file.BadgeBlocklist != nil {
		rules.BadgeBlocklist = file.BadgeBlocklist
	}
	for i, h := range rules.ReaderHosts {
		if strings.TrimSpace(h) == "" {
			return SiteRules{}, fmt.Errorf("sites config: reader_hosts[%d] is empty", i)
		}
	}
	if rules.ReaderFrame.PathPrefix == "" {
		rules.ReaderFrame.PathPrefix = "/"
	}
	return rules, nil
}
