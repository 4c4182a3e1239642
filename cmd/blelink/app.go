package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
	tinyble "github.com/srg/blelink/internal/device/tinygo"
	"github.com/srg/blelink/pkg/config"
	"github.com/srg/blelink/pkg/connection"
)

// gatewayFactory builds the radio backend named by cfg.Backend (can be
// overridden in tests).
var gatewayFactory = func(cfg *config.Config, logger *logrus.Logger) device.Gateway {
	if cfg.Backend == config.BackendTinyGo {
		return tinyble.NewGateway(nil, logger)
	}
	return goble.NewGateway(logger)
}

// app is the state shared by every command of one invocation.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func (a *app) newManager() *connection.Manager {
	return connection.NewManager(gatewayFactory(a.cfg, a.logger), a.cfg, a.logger)
}
