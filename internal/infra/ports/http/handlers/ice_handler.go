package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pion/webrtc/v4"

	"github.com/classmesh/classmesh/internal/application/config"
)

type IceHandler struct {
	cfg *config.Config
}

func NewIceHandler(cfg *config.Config) *IceHandler {
	return &IceHandler{cfg: cfg}
}

// IceServers hands clients their ICE server list. When coturn is configured
// it mints ephemeral TURN REST credentials from the shared secret.
func (h *IceHandler) IceServers(c echo.Context) error {
	if h.cfg.CoturnServer.Host == "" {
		return c.JSON(http.StatusOK, []webrtc.ICEServer{{URLs: h.cfg.StunServers}})
	}

	expiration := time.Now().Add(time.Hour).Unix()
	username := fmt.Sprintf("%d", expiration)

	mac := hmac.New(sha1.New, []byte(h.cfg.CoturnServer.Secret))
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return c.JSON(http.StatusOK, []webrtc.ICEServer{
		{URLs: h.cfg.StunServers},
		{
			URLs: []string{
				h.cfg.TurnUDPServer.URLs[0],
				h.cfg.TurnTCPServer.URLs[0],
			},
			Username:   username,
			Credential: password,
		},
	})
}
