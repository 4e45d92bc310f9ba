//go:build wireinject

package service

import (
	"github.com/google/wire"

	"github.com/dushixiang/pika-edge/pkg/agent/config"
)

// InitializeAgent 组装探针
func InitializeAgent(cfg *config.Config) (*Agent, func(), error) {
	wire.Build(providerSet)
	return nil, nil, nil
}
