package script

import (
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/dmxd/internal/device"
)

const deviceTypeName = "dmx.device"

// deviceUserdata wraps a device for Lua access.
type deviceUserdata struct {
	dev *device.Device
}

// dmxLoader provides the dmx module: device lookup plus per-device control
// methods.
func (e *Engine) dmxLoader(L *lua.LState) int {
	mt := L.NewTypeMetatable(deviceTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), deviceMethods))

	mod := L.NewTable()
	L.SetField(mod, "device", L.NewFunction(e.getDevice))
	L.SetField(mod, "devices", L.NewFunction(e.listDevices))

	L.Push(mod)
	return 1
}

// dmx.device(name) -> device userdata
func (e *Engine) getDevice(L *lua.LState) int {
	name := L.CheckString(1)
	dev, ok := e.manager.Device(name)
	if !ok {
		L.RaiseError("unknown device %q", name)
		return 0
	}

	ud := L.NewUserData()
	ud.Value = &deviceUserdata{dev: dev}
	L.SetMetatable(ud, L.GetTypeMetatable(deviceTypeName))
	L.Push(ud)
	return 1
}

// dmx.devices() -> { "name", ... }
func (e *Engine) listDevices(L *lua.LState) int {
	tbl := L.NewTable()
	for i, dev := range e.manager.Devices() {
		tbl.RawSetInt(i+1, lua.LString(dev.Name))
	}
	L.Push(tbl)
	return 1
}

var deviceMethods = map[string]lua.LGFunction{
	"on":      deviceOn,
	"off":     deviceOff,
	"mic_on":  deviceMicOn,
	"mic_off": deviceMicOff,
	"state":   deviceState,
}

// checkDevice retrieves the deviceUserdata from the Lua stack.
func checkDevice(L *lua.LState) (*deviceUserdata, *lua.LUserData) {
	ud := L.CheckUserData(1)
	if v, ok := ud.Value.(*deviceUserdata); ok {
		return v, ud
	}
	L.ArgError(1, "dmx.device expected")
	return nil, nil
}

// device:on{ color = {r, g, b}, effect = "...", brightness = n } -> self
func deviceOn(L *lua.LState) int {
	d, ud := checkDevice(L)

	var req device.TurnOnRequest
	if L.GetTop() >= 2 {
		opts := L.CheckTable(2)

		if v := L.GetField(opts, "effect"); v != lua.LNil {
			effect := lua.LVAsString(v)
			req.Effect = &effect
		}
		if v := L.GetField(opts, "brightness"); v != lua.LNil {
			b := clampByte(lua.LVAsNumber(v))
			req.Brightness = &b
		}
		if v, ok := L.GetField(opts, "color").(*lua.LTable); ok {
			color := [3]uint8{
				clampByte(lua.LVAsNumber(v.RawGetInt(1))),
				clampByte(lua.LVAsNumber(v.RawGetInt(2))),
				clampByte(lua.LVAsNumber(v.RawGetInt(3))),
			}
			req.Color = &color
		}
	}

	if err := d.dev.Light.TurnOn(L.Context(), req); err != nil {
		log.Error().Err(err).Str("device", d.dev.Name).Msg("Scene light turn-on failed")
	}
	L.Push(ud)
	return 1
}

// device:off() -> self
func deviceOff(L *lua.LState) int {
	d, ud := checkDevice(L)
	if err := d.dev.Light.TurnOff(L.Context()); err != nil {
		log.Error().Err(err).Str("device", d.dev.Name).Msg("Scene light turn-off failed")
	}
	L.Push(ud)
	return 1
}

// device:mic_on(sensitivity) -> self
func deviceMicOn(L *lua.LState) int {
	d, ud := checkDevice(L)
	sensitivity := uint8(0)
	if L.GetTop() >= 2 {
		sensitivity = clampByte(lua.LVAsNumber(L.Get(2)))
	}
	if err := d.dev.Mic.TurnOn(L.Context(), sensitivity); err != nil {
		log.Error().Err(err).Str("device", d.dev.Name).Msg("Scene mic turn-on failed")
	}
	L.Push(ud)
	return 1
}

// device:mic_off() -> self
func deviceMicOff(L *lua.LState) int {
	d, ud := checkDevice(L)
	if err := d.dev.Mic.TurnOff(L.Context()); err != nil {
		log.Error().Err(err).Str("device", d.dev.Name).Msg("Scene mic turn-off failed")
	}
	L.Push(ud)
	return 1
}

// device:state() -> table
func deviceState(L *lua.LState) int {
	d, _ := checkDevice(L)
	light := d.dev.Light.State()
	mic := d.dev.Mic.State()

	tbl := L.NewTable()
	L.SetField(tbl, "power", lua.LBool(light.Power))
	L.SetField(tbl, "brightness", lua.LNumber(light.Brightness))
	L.SetField(tbl, "effect", lua.LString(light.Effect))
	L.SetField(tbl, "pattern", lua.LNumber(light.ActivePattern))

	color := L.NewTable()
	color.RawSetInt(1, lua.LNumber(light.Color[0]))
	color.RawSetInt(2, lua.LNumber(light.Color[1]))
	color.RawSetInt(3, lua.LNumber(light.Color[2]))
	L.SetField(tbl, "color", color)

	L.SetField(tbl, "mic", lua.LBool(mic.Power))
	L.SetField(tbl, "sensitivity", lua.LNumber(mic.Sensitivity))

	L.Push(tbl)
	return 1
}

func clampByte(n lua.LNumber) uint8 {
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}

// logLoader provides logging functions to Lua scripts.
func logLoader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(func(L *lua.LState) int {
		log.Debug().Str("source", "scene").Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "info", L.NewFunction(func(L *lua.LState) int {
		log.Info().Str("source", "scene").Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "warn", L.NewFunction(func(L *lua.LState) int {
		log.Warn().Str("source", "scene").Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "error", L.NewFunction(func(L *lua.LState) int {
		log.Error().Str("source", "scene").Msg(L.CheckString(1))
		return 0
	}))

	L.Push(mod)
	return 1
}
