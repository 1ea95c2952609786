package ble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"
)

// BluetoothLink resolves addresses by scanning the local adapter. It is the
// production Link implementation.
type BluetoothLink struct {
	adapter     *bluetooth.Adapter
	serviceUUID bluetooth.UUID
	charUUID    bluetooth.UUID
	scanTimeout time.Duration
}

// NewBluetoothLink enables the default adapter and returns a link bound to
// the LEDDMX control service.
func NewBluetoothLink(scanTimeout time.Duration) (*BluetoothLink, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}

	serviceUUID, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return nil, err
	}
	charUUID, err := bluetooth.ParseUUID(CharUUID)
	if err != nil {
		return nil, err
	}

	return &BluetoothLink{
		adapter:     adapter,
		serviceUUID: serviceUUID,
		charUUID:    charUUID,
		scanTimeout: scanTimeout,
	}, nil
}

// Resolve scans for an advertisement from the given address. Scanning stops
// on the first match or when the scan timeout elapses.
func (l *BluetoothLink) Resolve(ctx context.Context, address string) (Handle, error) {
	found := make(chan bluetooth.ScanResult, 1)

	go func() {
		err := l.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if strings.EqualFold(result.Address.String(), address) {
				adapter.StopScan()
				select {
				case found <- result:
				default:
				}
			}
		})
		if err != nil {
			log.Error().Err(err).Str("address", address).Msg("BLE scan error")
		}
	}()

	scanCtx, cancel := context.WithTimeout(ctx, l.scanTimeout)
	defer cancel()

	select {
	case result := <-found:
		log.Debug().Str("address", address).Int16("rssi", result.RSSI).Msg("Device resolved")
		return &bluetoothHandle{link: l, result: result}, nil
	case <-scanCtx.Done():
		l.adapter.StopScan()
		return nil, scanCtx.Err()
	}
}

// bluetoothHandle is a resolved scan result ready to connect.
type bluetoothHandle struct {
	link   *BluetoothLink
	result bluetooth.ScanResult
}

// Connect establishes the connection and discovers the control
// characteristic in one step, so a returned Conn is immediately writable.
func (h *bluetoothHandle) Connect(ctx context.Context) (Conn, error) {
	device, err := h.link.adapter.Connect(h.result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{h.link.serviceUUID})
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("control service discovery failed: %w", err)
	}
	if len(services) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("device has no control service")
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{h.link.charUUID})
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("control characteristic discovery failed: %w", err)
	}
	if len(chars) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("device has no control characteristic")
	}

	return &bluetoothConn{device: device, char: chars[0]}, nil
}

// bluetoothConn wraps an established connection and its write characteristic.
type bluetoothConn struct {
	device bluetooth.Device
	char   bluetooth.DeviceCharacteristic
}

func (c *bluetoothConn) WriteCharacteristic(uuid string, data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *bluetoothConn) Disconnect() error {
	return c.device.Disconnect()
}
