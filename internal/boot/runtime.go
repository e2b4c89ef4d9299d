// Package boot resolves the runtime settings the asset server needs before wiring.
package boot

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/config"
)

// RuntimeConfig holds parsed runtime settings.
// HTTP_ADDR, JWT_SECRET and ASSET_UPLOAD_DIR override the file values.
type RuntimeConfig struct {
	JWTSecret        string
	JWTExpiresIn     time.Duration
	ServerAddr       string
	UploadDir        string
	OperationTimeout time.Duration
}

// ProvideRuntimeConfig builds RuntimeConfig from cfg and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	ret := &RuntimeConfig{
		JWTSecret:  cfg.Auth.JWTSecret,
		ServerAddr: cfg.Server.Addr,
		UploadDir:  cfg.Assets.UploadDir,
	}
	if value := os.Getenv("JWT_SECRET"); value != "" {
		ret.JWTSecret = value
	}
	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := os.Getenv("ASSET_UPLOAD_DIR"); value != "" {
		ret.UploadDir = value
	}
	if strings.TrimSpace(ret.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	ttl, err := cfg.Auth.JWTTTL()
	if err != nil {
		return nil, err
	}
	ret.JWTExpiresIn = ttl

	timeout, err := cfg.Assets.Timeout()
	if err != nil {
		return nil, err
	}
	ret.OperationTimeout = timeout
	return ret, nil
}
