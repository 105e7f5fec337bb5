// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/herald/pkg/models"
	"github.com/dukex/herald/pkg/providers"
	"github.com/dukex/herald/pkg/providers/logprovider"
	"github.com/dukex/herald/pkg/providers/webhookprovider"
)

var deliveryChannels = []models.ChannelType{
	models.ChannelTypeEmail,
	models.ChannelTypeSMS,
	models.ChannelTypeChat,
	models.ChannelTypePush,
}

func registerNativeProviders(reg *providers.Registry, logger *slog.Logger) {
	for _, channel := range deliveryChannels {
		reg.Register(logprovider.NewProvider(logger, channel))
		reg.Register(webhookprovider.NewProvider(logger, channel))
	}
}

func NewProviderRegistry(logger *slog.Logger) *providers.Registry {
	reg := providers.NewRegistry(logger)

	registerNativeProviders(reg, logger)

	return reg
}
