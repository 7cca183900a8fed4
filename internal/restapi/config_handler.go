package restapi

import (
	"net/http"

	"bustracker.campus.org/internal/models"
)

func (api *RestAPI) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := api.Config
	api.sendEntry(w, r, models.ConfigModel{
		Build:                models.NewBuildProperties(),
		Id:                   "bustracker",
		Name:                 "Campus Bus Tracker",
		Env:                  cfg.Env.String(),
		StaleAfterSeconds:    int64(cfg.StaleAfter.Seconds()),
		AutoStopAfterSeconds: int64(cfg.AutoStopAfter.Seconds()),
		SpeedHistorySize:     cfg.SpeedHistorySize,
		RateLimit:            cfg.RateLimit,
		NATSRelay:            cfg.NATSURL != "",
	})
}
