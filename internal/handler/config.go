package handler

import (
	"net/http"

	"github.com/lifesite/internal/config"
)

// ConfigHandler отдаёт публичные параметры: конфигурацию сайта по hostname,
// настройки кеша и пуш-уведомлений.
type ConfigHandler struct {
	cfg   *config.Config
	sites *config.Sites
}

// NewConfigHandler создаёт обработчик конфигурации.
func NewConfigHandler(cfg *config.Config, sites *config.Sites) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, sites: sites}
}

// GetSiteConfig возвращает бренд сайта по Host запроса (без авторизации).
// Неизвестный домен получает конфигурацию, выведенную из имени домена.
func (h *ConfigHandler) GetSiteConfig(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	writeJSON(w, http.StatusOK, h.sites.ResolveSite(host))
}

// GetCacheConfig возвращает настройки кеша для клиента (без авторизации).
func (h *ConfigHandler) GetCacheConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"ttl_minutes": h.cfg.Cache.TTLMinutes,
	})
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PushServiceURL == "" || h.cfg.PushVAPIDPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":          true,
		"vapid_public_key": h.cfg.PushVAPIDPublicKey,
	})
}
