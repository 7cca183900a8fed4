package app

import (
	"crypto/subtle"
	"net/http"
)

func (app *Application) RequestHasInvalidAPIKey(r *http.Request) bool {
	return app.IsInvalidAPIKey(r.URL.Query().Get("key"))
}

// IsInvalidAPIKey reports whether key is neither an API key nor an admin key.
func (app *Application) IsInvalidAPIKey(key string) bool {
	return !containsKey(app.Config.ApiKeys, key) && !containsKey(app.Config.AdminKeys, key)
}

func (app *Application) IsAdminKey(key string) bool {
	return containsKey(app.Config.AdminKeys, key)
}

func containsKey(keys []string, key string) bool {
	if key == "" {
		return false
	}
	found := false
	for _, valid := range keys {
		// constant-time comparison, checked against every key
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			found = true
		}
	}
	return found
}
