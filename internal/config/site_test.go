package config

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestSites(t *testing.T) *Sites {
	t.Helper()
	s := &Sites{byDom: make(map[string]Site)}
	s.Register(Site{
		Domain:     "mohitpatel.life",
		Name:       "Mohit",
		Logo:       "/mohit-logo.png",
		OwnerEmail: "Mohit@mohitpatel.life",
	})
	return s
}

func TestResolveSiteKnownDomain(t *testing.T) {
	s := newTestSites(t)
	tests := []string{
		"mohitpatel.life",
		"MOHITPATEL.LIFE",
		"www.mohitpatel.life",
		"mohitpatel.life:8080",
		"www.mohitpatel.life:443",
	}
	for _, host := range tests {
		site := s.ResolveSite(host)
		if site.Name != "Mohit" {
			t.Errorf("ResolveSite(%q).Name = %q", host, site.Name)
		}
		if site.OwnerEmail != "mohit@mohitpatel.life" {
			t.Errorf("ResolveSite(%q).OwnerEmail = %q, email не нормализован", host, site.OwnerEmail)
		}
	}
}

func TestResolveSiteUnknownDomainFallback(t *testing.T) {
	s := newTestSites(t)
	site := s.ResolveSite("www.fenil.life:3000")
	if site.Domain != "fenil.life" {
		t.Errorf("Domain = %q", site.Domain)
	}
	if site.Name != "Fenil" {
		t.Errorf("Name = %q, ожидалась первая метка с заглавной", site.Name)
	}
	if site.OwnerEmail != "fenil@fenil.life" {
		t.Errorf("OwnerEmail = %q", site.OwnerEmail)
	}
	if site.Logo != "/default-logo.png" {
		t.Errorf("Logo = %q", site.Logo)
	}
}

func TestLoadSites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.yaml")
	data := `sites:
  - domain: Example.COM
    name: Example
    logo: /logo.png
    owner_email: Owner@example.com
  - domain: ""
    name: skipped
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSites(path)
	if err != nil {
		t.Fatalf("LoadSites: %v", err)
	}
	site := s.ResolveSite("example.com")
	if site.Name != "Example" || site.OwnerEmail != "owner@example.com" {
		t.Errorf("загруженный сайт = %+v", site)
	}
	if len(s.byDom) != 1 {
		t.Errorf("записей %d, запись без домена должна быть пропущена", len(s.byDom))
	}
}

func TestLoadSitesMissingFile(t *testing.T) {
	s, err := LoadSites(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("отсутствующий файл — не ошибка: %v", err)
	}
	if site := s.ResolveSite("any.site"); site.Name != "Any" {
		t.Errorf("fallback не сработал: %+v", site)
	}
}
