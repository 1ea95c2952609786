package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/dmxd/internal/api"
	"github.com/dokzlo13/dmxd/internal/ble"
	"github.com/dokzlo13/dmxd/internal/config"
	"github.com/dokzlo13/dmxd/internal/db"
	"github.com/dokzlo13/dmxd/internal/device"
	"github.com/dokzlo13/dmxd/internal/eventbus"
	"github.com/dokzlo13/dmxd/internal/script"
	"github.com/dokzlo13/dmxd/internal/state"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB    *db.DB
	Store *state.Store
	Bus   *eventbus.Bus

	// Device control
	Link    ble.Link
	Manager *device.Manager

	// High-level services
	Engine *script.Engine
	API    *api.Server
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize state store
	s.Store = state.NewStore(database.DB)

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Initialize the BLE adapter
	link, err := ble.NewBluetoothLink(cfg.BLE.ScanTimeout.Duration())
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Link = link

	// Initialize device manager
	s.Manager, err = device.NewManager(cfg, s.Link, s.Store, s.Bus)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Initialize scene engine if a script is configured
	if cfg.Script != "" {
		s.Engine = script.New(s.Manager)
	}

	// Initialize API server
	if cfg.API.IsEnabled() {
		s.API = api.NewServer(cfg.API.Addr(), s.Manager, s.Bus, s.Engine)
	}

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	// Load the scene script before starting the Lua worker
	if s.Engine != nil {
		if err := s.Engine.LoadScript(s.cfg.Script); err != nil {
			return err
		}
		go s.Engine.Run(ctx)
	}

	if s.API != nil {
		go func() {
			if err := s.API.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
				log.Error().Err(err).Msg("API server error")
			}
		}()
	} else {
		log.Debug().Msg("API server disabled")
	}

	return nil
}

// ClearState discards all persisted device state.
func (s *Services) ClearState() error {
	return s.Store.Clear()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Engine != nil {
		s.Engine.Close()
	}
	if s.Manager != nil {
		s.Manager.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
