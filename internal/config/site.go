package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/lifesite/internal/logger"
	"gopkg.in/yaml.v3"
)

// Site — конфигурация одного сайта (один бинарь обслуживает несколько доменов).
// Owner email одновременно определяет привилегированную сторону личных тредов.
type Site struct {
	Domain     string `yaml:"domain" json:"domain"`
	Name       string `yaml:"name" json:"name"`
	Logo       string `yaml:"logo" json:"logo"`
	OwnerEmail string `yaml:"owner_email" json:"owner_email"`
}

// Sites — реестр сайтов, загруженный из config/sites.yaml.
type Sites struct {
	mu    sync.RWMutex
	byDom map[string]Site
}

type sitesFile struct {
	Sites []Site `yaml:"sites"`
}

// LoadSites читает реестр сайтов из YAML. Отсутствующий файл — не ошибка:
// ResolveSite построит конфигурацию из hostname.
func LoadSites(path string) (*Sites, error) {
	s := &Sites{byDom: make(map[string]Site)}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Infof("config: %s не найден, сайты резолвятся из hostname", path)
			return s, nil
		}
		return nil, fmt.Errorf("sites: read %s: %w", path, err)
	}
	var f sitesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("sites: parse %s: %w", path, err)
	}
	for _, site := range f.Sites {
		site.Domain = strings.ToLower(strings.TrimSpace(site.Domain))
		if site.Domain == "" {
			continue
		}
		site.OwnerEmail = strings.ToLower(site.OwnerEmail)
		s.byDom[site.Domain] = site
	}
	logger.Infof("config: загружено сайтов: %d", len(s.byDom))
	return s, nil
}

// ResolveSite возвращает конфигурацию сайта по hostname запроса.
// "www." и порт отбрасываются; для неизвестного домена конфигурация
// строится из самого hostname (имя — первая метка с заглавной буквы,
// email владельца — <метка>@<домен>).
func (s *Sites) ResolveSite(hostname string) Site {
	domain := strings.ToLower(hostname)
	if idx := strings.LastIndex(domain, ":"); idx >= 0 {
		domain = domain[:idx]
	}
	domain = strings.TrimPrefix(domain, "www.")

	s.mu.RLock()
	site, ok := s.byDom[domain]
	s.mu.RUnlock()
	if ok {
		return site
	}

	label := domain
	if idx := strings.Index(domain, "."); idx > 0 {
		label = domain[:idx]
	}
	return Site{
		Domain:     domain,
		Name:       capitalize(label),
		Logo:       "/default-logo.png",
		OwnerEmail: label + "@" + domain,
	}
}

// Register добавляет или заменяет сайт (используется в тестах и -dev).
func (s *Sites) Register(site Site) {
	site.Domain = strings.ToLower(strings.TrimSpace(site.Domain))
	if site.Domain == "" {
		return
	}
	site.OwnerEmail = strings.ToLower(site.OwnerEmail)
	s.mu.Lock()
	s.byDom[site.Domain] = site
	s.mu.Unlock()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
